package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"duet-quiz-service/internal/domain"
)

// QuestionCatalog loads the question set offered for an experience.
type QuestionCatalog interface {
	GetSet(ctx context.Context, experience domain.Experience) (domain.QuestionSet, error)
}

// SampleSizes maps each experience to the number of pool questions sampled at
// initialization. The counts are configuration, never hard-coded.
type SampleSizes map[domain.Experience]int

// SubmitResult reports the outcome of one response submission.
type SubmitResult struct {
	Response     domain.Response
	Verdict      Verdict
	LastQuestion bool
}

// Controller composes the pure reducer with the session store for one
// participant connection. All collaborators are injected; there is no global
// service locator. Persistence is fire-and-report: in-memory state advances
// immediately, writes flush in arrival order on a background goroutine, and a
// failed write parks the queue until RetryPersist while OnPersistError is told.
type Controller struct {
	catalog        QuestionCatalog
	store          *SessionStore
	samples        SampleSizes
	onPersistError func(error)
	clock          func() time.Time
	rnd            *rand.Rand

	mu       sync.Mutex
	reducer  *Reducer
	active   domain.Experience
	pending  []persistOp
	flushing bool
}

type persistOp struct {
	sessionID string
	response  *domain.Response
	index     int
	completed *time.Time
}

// ControllerOption tweaks controller construction.
type ControllerOption func(*Controller)

// WithPersistErrorHandler installs the callback invoked when a background
// write fails. The default logs and drops the notification.
func WithPersistErrorHandler(fn func(error)) ControllerOption {
	return func(c *Controller) { c.onPersistError = fn }
}

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithRand injects a deterministic sampler for tests.
func WithRand(rnd *rand.Rand) ControllerOption {
	return func(c *Controller) { c.rnd = rnd }
}

func NewController(catalog QuestionCatalog, store *SessionStore, samples SampleSizes, opts ...ControllerOption) *Controller {
	c := &Controller{
		catalog: catalog,
		store:   store,
		samples: samples,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		onPersistError: func(err error) {
			log.Printf("session persist failed: %v", err)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reducer = NewReducerWithClock(func() time.Time { return c.clock() })
	return c
}

// Enter activates an experience for the user: it resumes the most recent
// incomplete session or initializes a fresh one with the configured pool
// sample. Switching experience while another one's session is active is
// refused; the caller must complete or abandon first.
func (c *Controller) Enter(ctx context.Context, userID string, experience domain.Experience) (domain.Session, bool, error) {
	if userID == "" {
		return domain.Session{}, false, domain.ErrNoUser
	}
	if !experience.Valid() {
		return domain.Session{}, false, fmt.Errorf("unknown experience %q", experience)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reducer.Phase() == PhaseActive {
		if c.active == experience {
			return c.reducer.Session(), true, nil
		}
		return domain.Session{}, false, fmt.Errorf("%w: %s still active", domain.ErrExperienceActive, c.active)
	}
	if c.reducer.Phase() != PhaseUninitialized {
		c.reducer.Reset()
	}

	session, resumed, err := c.store.FindOrCreate(ctx, userID, experience, func() (domain.Session, error) {
		set, err := c.catalog.GetSet(ctx, experience)
		if err != nil {
			return domain.Session{}, err
		}
		if err := set.Validate(); err != nil {
			return domain.Session{}, err
		}
		selected := SelectQuestions(set, c.samples[experience], c.rnd)
		return NewSession(userID, experience, selected, c.clock()), nil
	})
	if err != nil {
		return domain.Session{}, false, err
	}

	if resumed {
		err = c.reducer.Restore(session)
	} else {
		err = c.reducer.Initialize(session)
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	c.active = experience
	return c.reducer.Session(), resumed, nil
}

// Submit normalizes and records a response for the current question. Graded
// experiences additionally score it; the grade travels with the stored
// response. The index does not move: callers advance explicitly.
func (c *Controller) Submit(ctx context.Context, questionID string, raw json.RawMessage, meta domain.ResponseMeta) (SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reducer.Phase() != PhaseActive {
		return SubmitResult{}, fmt.Errorf("%w: submit from %s", domain.ErrInvalidTransition, c.reducer.Phase())
	}
	session := c.reducer.Session()
	question, ok := session.CurrentQuestion()
	if !ok {
		return SubmitResult{}, fmt.Errorf("%w: no current question", domain.ErrInvalidTransition)
	}
	if questionID != "" && questionID != question.ID {
		return SubmitResult{}, fmt.Errorf("%w: response targets %s but current question is %s", domain.ErrInvalidTransition, questionID, question.ID)
	}

	resp, err := Normalize(question, session.UserID, raw, c.clock())
	if err != nil {
		return SubmitResult{}, err
	}

	var verdict Verdict
	if c.active.Graded() {
		verdict = Grade(question, resp)
		resp.Quiz = &domain.QuizGrade{Correct: verdict.Correct, Graded: verdict.Graded, Meta: meta}
	}

	if err := c.reducer.HandleResponse(resp); err != nil {
		return SubmitResult{}, err
	}

	// Persist with the answered question's index. The cursor only moves in
	// Advance, whose merge follows through the same queue, so the stored
	// record never runs ahead of a state the reducer can restore.
	c.enqueueLocked(persistOp{sessionID: session.ID, response: &resp, index: session.CurrentIndex})

	return SubmitResult{
		Response:     resp,
		Verdict:      verdict,
		LastQuestion: session.CurrentIndex == len(session.SelectedQuestions)-1,
	}, nil
}

// Advance moves to the next question, completing the session after the last
// one. The moved cursor, and on completion the completion stamp, go through
// the same ordered queue as responses.
func (c *Controller) Advance(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	completed, err := c.reducer.AdvanceToNext()
	if err != nil {
		return false, err
	}
	session := c.reducer.Session()
	if completed {
		at := c.clock()
		if session.CompletedAt != nil {
			at = *session.CompletedAt
		}
		c.enqueueLocked(persistOp{sessionID: session.ID, completed: &at, index: session.CurrentIndex})
	} else {
		c.enqueueLocked(persistOp{sessionID: session.ID, index: session.CurrentIndex})
	}
	return completed, nil
}

// Abandon resets the reducer and discards writes still queued for the
// abandoned session. The stored record is left as-is; nothing else will be
// written to it.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.reducer.Session()
	kept := c.pending[:0]
	for _, op := range c.pending {
		if op.sessionID != session.ID {
			kept = append(kept, op)
		}
	}
	c.pending = kept
	c.reducer.Reset()
	c.active = ""
}

// Session returns a snapshot of the in-memory session.
func (c *Controller) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reducer.Session()
}

// Active returns the experience currently driving the reducer, or "" if none.
func (c *Controller) Active() domain.Experience {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reducer.Phase() == PhaseUninitialized {
		return ""
	}
	return c.active
}

// PendingPersists reports how many writes have not yet reached the store.
func (c *Controller) PendingPersists() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RetryPersist re-attempts queued writes after a reported failure.
func (c *Controller) RetryPersist(ctx context.Context) {
	c.mu.Lock()
	c.startFlushLocked(ctx)
	c.mu.Unlock()
}

func (c *Controller) enqueueLocked(op persistOp) {
	c.pending = append(c.pending, op)
	c.startFlushLocked(context.Background())
}

// startFlushLocked drains the queue in arrival order on one goroutine at a
// time. The first failure leaves the remaining ops pending and reports it;
// local progress is never rolled back.
func (c *Controller) startFlushLocked(ctx context.Context) {
	if c.flushing || len(c.pending) == 0 {
		return
	}
	c.flushing = true
	go func() {
		for {
			c.mu.Lock()
			if len(c.pending) == 0 {
				c.flushing = false
				c.mu.Unlock()
				return
			}
			op := c.pending[0]
			c.mu.Unlock()

			var err error
			switch {
			case op.response != nil:
				err = c.store.PersistResponse(ctx, op.sessionID, *op.response, op.index)
			case op.completed != nil:
				err = c.store.PersistCompletion(ctx, op.sessionID, *op.completed, op.index)
			default:
				err = c.store.PersistProgress(ctx, op.sessionID, op.index)
			}

			c.mu.Lock()
			if err != nil {
				c.flushing = false
				c.mu.Unlock()
				c.onPersistError(err)
				return
			}
			// The op may have been discarded by Abandon while in flight.
			if len(c.pending) > 0 && c.pending[0].sessionID == op.sessionID {
				c.pending = c.pending[1:]
			}
			c.mu.Unlock()
		}
	}()
}
