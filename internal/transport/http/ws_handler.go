package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"duet-quiz-service/internal/app"
	"duet-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	catalog  app.QuestionCatalog
	store    *app.SessionStore
	samples  app.SampleSizes
	upgrader websocket.Upgrader
}

func NewWSHandler(catalog app.QuestionCatalog, store *app.SessionStore, samples app.SampleSizes) *WSHandler {
	return &WSHandler{
		catalog: catalog,
		store:   store,
		samples: samples,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string              `json:"questionId"`
	Value      json.RawMessage     `json:"value"`
	Meta       domain.ResponseMeta `json:"meta"`
}

type sessionPayload struct {
	SessionID    string            `json:"sessionId"`
	Experience   domain.Experience `json:"experience"`
	Resumed      bool              `json:"resumed"`
	CurrentIndex int               `json:"currentIndex"`
	Total        int               `json:"total"`
	Completed    bool              `json:"completed"`
}

type questionPayload struct {
	Index    int          `json:"index"`
	Total    int          `json:"total"`
	Question questionView `json:"question"`
}

// questionView is the question as the client sees it: everything a widget
// needs to render, with the grading fields stripped so a quiz or head-to-head
// guesser cannot read the expected answer off the wire.
type questionView struct {
	ID        string                  `json:"id"`
	Type      domain.QuestionType     `json:"type"`
	Prompt    string                  `json:"prompt"`
	Category  string                  `json:"category,omitempty"`
	MC        *domain.MCConfig        `json:"mc,omitempty"`
	Open      *domain.OpenConfig      `json:"open,omitempty"`
	Numeric   *domain.NumericConfig   `json:"numeric,omitempty"`
	Scale     *domain.ScaleConfig     `json:"scale,omitempty"`
	Segmented *domain.SegmentedConfig `json:"segmented,omitempty"`
	XY        *domain.XYConfig        `json:"xy,omitempty"`
}

func viewOf(q domain.Question) questionView {
	return questionView{
		ID:        q.ID,
		Type:      q.Type,
		Prompt:    q.Prompt,
		Category:  q.Category,
		MC:        q.MC,
		Open:      q.Open,
		Numeric:   q.Numeric,
		Scale:     q.Scale,
		Segmented: q.Segmented,
		XY:        q.XY,
	}
}

type answerResult struct {
	QuestionID   string `json:"questionId"`
	Graded       bool   `json:"graded"`
	Correct      bool   `json:"correct"`
	Celebrate    bool   `json:"celebrate"`
	LastQuestion bool   `json:"lastQuestion"`
}

type completedPayload struct {
	SessionID   string     `json:"sessionId"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ServeWS upgrades the connection and drives one session controller per
// client. Persistence failures arrive as non-blocking persistError events; the
// client keeps its local progress and may send retryPersist.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	experience := domain.Experience(r.URL.Query().Get("experience"))
	if userID == "" || experience == "" {
		http.Error(w, "missing userId or experience", http.StatusBadRequest)
		return
	}
	if !experience.Valid() {
		http.Error(w, "unknown experience", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// send stays open for the connection's lifetime so the async persist
	// callback can never hit a closed channel; the writer exits via stop.
	send := make(chan outboundMessage[any], 16)
	stop := make(chan struct{})
	writerDone := make(chan struct{})

	controller := app.NewController(h.catalog, h.store, h.samples,
		app.WithPersistErrorHandler(func(err error) {
			trySend(send, outboundMessage[any]{Type: "persistError", Payload: errorPayload{Message: err.Error(), Retryable: true}})
		}),
	)

	session, resumed, err := controller.Enter(r.Context(), userID, experience)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("ws write error: %v", err)
					return
				}
			case <-stop:
				return
			}
		}
	}()

	push(send, writerDone, outboundMessage[any]{Type: "session", Payload: sessionPayload{
		SessionID:    session.ID,
		Experience:   session.Experience,
		Resumed:      resumed,
		CurrentIndex: session.CurrentIndex,
		Total:        len(session.SelectedQuestions),
		Completed:    session.Completed,
	}})
	h.sendCurrentQuestion(send, writerDone, controller)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(send, writerDone, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			result, err := controller.Submit(r.Context(), payload.QuestionID, payload.Value, payload.Meta)
			if err != nil {
				push(send, writerDone, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			push(send, writerDone, outboundMessage[any]{Type: "answerResult", Payload: answerResult{
				QuestionID:   result.Response.QuestionID,
				Graded:       result.Verdict.Graded,
				Correct:      result.Verdict.Correct,
				Celebrate:    result.Verdict.Celebrate,
				LastQuestion: result.LastQuestion,
			}})
		case "advance":
			completed, err := controller.Advance(r.Context())
			if err != nil {
				push(send, writerDone, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			if completed {
				session := controller.Session()
				push(send, writerDone, outboundMessage[any]{Type: "completed", Payload: completedPayload{
					SessionID:   session.ID,
					CompletedAt: session.CompletedAt,
				}})
			} else {
				h.sendCurrentQuestion(send, writerDone, controller)
			}
		case "abandon":
			controller.Abandon()
			push(send, writerDone, outboundMessage[any]{Type: "abandoned", Payload: struct{}{}})
		case "retryPersist":
			controller.RetryPersist(r.Context())
		default:
			push(send, writerDone, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(stop)
	<-writerDone
}

// trySend queues a message without blocking; if the buffer is full the
// notification is dropped, which is fine for advisory events.
func trySend(send chan<- outboundMessage[any], msg outboundMessage[any]) {
	select {
	case send <- msg:
	default:
	}
}

// push blocks until the writer takes the message, bailing out if the writer
// already exited on a broken connection.
func push(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) {
	select {
	case send <- msg:
	case <-writerDone:
	}
}

func (h *WSHandler) sendCurrentQuestion(send chan<- outboundMessage[any], writerDone <-chan struct{}, controller *app.Controller) {
	session := controller.Session()
	question, ok := session.CurrentQuestion()
	if !ok {
		return
	}
	push(send, writerDone, outboundMessage[any]{Type: "question", Payload: questionPayload{
		Index:    session.CurrentIndex,
		Total:    len(session.SelectedQuestions),
		Question: viewOf(question),
	}})
}
