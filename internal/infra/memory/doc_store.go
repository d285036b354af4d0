package memory

import (
	"context"
	"sync"

	"duet-quiz-service/internal/app"
	"duet-quiz-service/internal/domain"
)

// SessionDocuments is an in-memory implementation of app.SessionDocuments,
// used in tests and when the service runs without Redis.
type SessionDocuments struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionDocuments() *SessionDocuments {
	return &SessionDocuments{sessions: make(map[string]*domain.Session)}
}

func (d *SessionDocuments) QuerySessions(_ context.Context, userID string, experience domain.Experience) ([]domain.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []domain.Session
	for _, s := range d.sessions {
		if s.UserID == userID && s.Experience == experience {
			out = append(out, cloneSession(*s))
		}
	}
	return out, nil
}

func (d *SessionDocuments) CreateSession(_ context.Context, session domain.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := cloneSession(session)
	d.sessions[session.ID] = &stored
	return nil
}

// MergeSession applies an additive patch. Responses already present (by ID)
// are skipped, so repeated writes of the same response never duplicate it.
func (d *SessionDocuments) MergeSession(_ context.Context, sessionID string, patch app.SessionPatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	session, ok := d.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	for _, resp := range patch.Responses {
		if !session.HasResponse(resp.ID) {
			session.Responses = append(session.Responses, resp)
		}
	}
	if patch.CurrentIndex != nil {
		session.CurrentIndex = *patch.CurrentIndex
	}
	if patch.Completed != nil {
		session.Completed = *patch.Completed
	}
	if patch.CompletedAt != nil {
		at := *patch.CompletedAt
		session.CompletedAt = &at
	}
	return nil
}

func cloneSession(s domain.Session) domain.Session {
	s.SelectedQuestions = append([]domain.Question(nil), s.SelectedQuestions...)
	s.Responses = append([]domain.Response(nil), s.Responses...)
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		s.CompletedAt = &at
	}
	return s
}
