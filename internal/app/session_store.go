package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"duet-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// SessionPatch is a partial, additive update to a stored session. Responses
// are appended in the order given; a response whose ID is already stored is
// skipped, so repeating a write is harmless.
type SessionPatch struct {
	Responses    []domain.Response
	CurrentIndex *int
	Completed    *bool
	CompletedAt  *time.Time
}

// SessionDocuments is the external document store at its interface boundary:
// an eventually consistent record store with additive-merge writes. No
// transactions are assumed.
type SessionDocuments interface {
	QuerySessions(ctx context.Context, userID string, experience domain.Experience) ([]domain.Session, error)
	CreateSession(ctx context.Context, session domain.Session) error
	MergeSession(ctx context.Context, sessionID string, patch SessionPatch) error
}

// SessionStore adapts the document store into the session lifecycle: a single
// idempotent find-or-create decision per (user, experience), resume of the
// most recent incomplete session, and merge-safe incremental writes.
type SessionStore struct {
	docs SessionDocuments
	sf   singleflight.Group
}

func NewSessionStore(docs SessionDocuments) *SessionStore {
	return &SessionStore{docs: docs}
}

// FindOrCreate resumes the user's most recent incomplete session for the
// experience, or creates a fresh one via build when none exists. Concurrent
// calls for the same user and experience collapse into one decision, so two
// racing resumes never create two sessions. The bool result reports whether
// an existing session was resumed.
func (s *SessionStore) FindOrCreate(ctx context.Context, userID string, experience domain.Experience, build func() (domain.Session, error)) (domain.Session, bool, error) {
	if userID == "" {
		return domain.Session{}, false, domain.ErrNoUser
	}
	type outcome struct {
		session domain.Session
		resumed bool
	}
	key := userID + "|" + string(experience)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		existing, err := s.docs.QuerySessions(ctx, userID, experience)
		if err != nil {
			return nil, fmt.Errorf("query sessions: %w", err)
		}
		if session, ok := mostRecentIncomplete(existing); ok {
			return outcome{session: session, resumed: true}, nil
		}
		if build == nil {
			if len(existing) > 0 {
				return nil, domain.ErrSessionCompleted
			}
			return nil, domain.ErrSessionNotFound
		}
		session, err := build()
		if err != nil {
			return nil, err
		}
		if err := s.docs.CreateSession(ctx, session); err != nil {
			// Another instance won the cross-instance create race: resume
			// the winner's session instead of failing the caller.
			if errors.Is(err, domain.ErrSessionConflict) {
				existing, qerr := s.docs.QuerySessions(ctx, userID, experience)
				if qerr != nil {
					return nil, fmt.Errorf("query sessions after create conflict: %w", qerr)
				}
				if winner, ok := mostRecentIncomplete(existing); ok {
					return outcome{session: winner, resumed: true}, nil
				}
			}
			return nil, fmt.Errorf("create session: %w", err)
		}
		return outcome{session: session}, nil
	})
	if err != nil {
		return domain.Session{}, false, err
	}
	out := v.(outcome)
	return out.session, out.resumed, nil
}

// Resume looks up an incomplete session without creating one. It returns
// domain.ErrSessionCompleted when the user has only finished sessions and
// domain.ErrSessionNotFound when there are none at all.
func (s *SessionStore) Resume(ctx context.Context, userID string, experience domain.Experience) (domain.Session, error) {
	session, _, err := s.FindOrCreate(ctx, userID, experience, nil)
	return session, err
}

// PersistResponse merge-writes one response together with the index of the
// question it answers. The write is additive: repeating it for the same
// response leaves the stored sequence unchanged. The stored cursor only moves
// past a question via PersistProgress, so a record is always resumable even
// when the client drops between answering and advancing.
func (s *SessionStore) PersistResponse(ctx context.Context, sessionID string, resp domain.Response, currentIndex int) error {
	if err := s.docs.MergeSession(ctx, sessionID, SessionPatch{
		Responses:    []domain.Response{resp},
		CurrentIndex: &currentIndex,
	}); err != nil {
		return fmt.Errorf("persist response %s: %w", resp.ID, err)
	}
	return nil
}

// PersistProgress merge-writes the moved cursor after an advance.
func (s *SessionStore) PersistProgress(ctx context.Context, sessionID string, currentIndex int) error {
	if err := s.docs.MergeSession(ctx, sessionID, SessionPatch{
		CurrentIndex: &currentIndex,
	}); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}

// PersistCompletion marks the stored session completed with its final index.
func (s *SessionStore) PersistCompletion(ctx context.Context, sessionID string, at time.Time, currentIndex int) error {
	completed := true
	if err := s.docs.MergeSession(ctx, sessionID, SessionPatch{
		CurrentIndex: &currentIndex,
		Completed:    &completed,
		CompletedAt:  &at,
	}); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	return nil
}

// mostRecentIncomplete deterministically picks the incomplete session with
// the latest start time. More than one incomplete session means an upstream
// deduplication failure, so the choice is logged.
func mostRecentIncomplete(sessions []domain.Session) (domain.Session, bool) {
	incomplete := make([]domain.Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.Completed {
			incomplete = append(incomplete, s)
		}
	}
	if len(incomplete) == 0 {
		return domain.Session{}, false
	}
	sort.Slice(incomplete, func(i, j int) bool {
		return incomplete[i].StartedAt.After(incomplete[j].StartedAt)
	})
	if len(incomplete) > 1 {
		log.Printf("found %d incomplete sessions for user %s/%s, resuming most recent %s", len(incomplete), incomplete[0].UserID, incomplete[0].Experience, incomplete[0].ID)
	}
	return incomplete[0], true
}
