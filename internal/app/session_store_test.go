package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"duet-quiz-service/internal/domain"
)

// fakeDocs is an in-process SessionDocuments with the merge semantics the
// adapter relies on: additive, idempotent by response ID.
type fakeDocs struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	creates  int
	failNext error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{sessions: make(map[string]*domain.Session)}
}

func (d *fakeDocs) QuerySessions(_ context.Context, userID string, experience domain.Experience) ([]domain.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	var out []domain.Session
	for _, s := range d.sessions {
		if s.UserID == userID && s.Experience == experience {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (d *fakeDocs) CreateSession(_ context.Context, session domain.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return err
	}
	d.creates++
	stored := session
	d.sessions[session.ID] = &stored
	return nil
}

func (d *fakeDocs) MergeSession(_ context.Context, sessionID string, patch SessionPatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return err
	}
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

func (d *fakeDocs) takeFailure() error {
	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return err
	}
	return nil
}

func (d *fakeDocs) stored(sessionID string) domain.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.sessions[sessionID]
}

func buildSession(userID string, experience domain.Experience, startedAt time.Time) func() (domain.Session, error) {
	return func() (domain.Session, error) {
		return NewSession(userID, experience, []domain.Question{mcQuestion("q1", "A")}, startedAt), nil
	}
}

func TestFindOrCreateCreatesOnce(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocs()
	store := NewSessionStore(docs)

	session, resumed, err := store.FindOrCreate(ctx, "u1", domain.ExperienceOnboarding, buildSession("u1", domain.ExperienceOnboarding, fixedClock()))
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if resumed {
		t.Fatalf("expected a fresh session")
	}

	again, resumed, err := store.FindOrCreate(ctx, "u1", domain.ExperienceOnboarding, buildSession("u1", domain.ExperienceOnboarding, fixedClock()))
	if err != nil {
		t.Fatalf("second find or create: %v", err)
	}
	if !resumed || again.ID != session.ID {
		t.Fatalf("expected resume of %s, got %s (resumed=%v)", session.ID, again.ID, resumed)
	}
	if docs.creates != 1 {
		t.Fatalf("expected exactly one stored session, got %d", docs.creates)
	}
}

func TestFindOrCreateConcurrentCallsCreateOneSession(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocs()
	store := NewSessionStore(docs)

	const callers = 16
	var wg sync.WaitGroup
	ids := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, _, err := store.FindOrCreate(ctx, "u1", domain.ExperienceQuiz, buildSession("u1", domain.ExperienceQuiz, fixedClock()))
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			ids <- session.ID
		}()
	}
	wg.Wait()
	close(ids)

	if docs.creates != 1 {
		t.Fatalf("expected exactly one created session, got %d", docs.creates)
	}
	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("callers observed different sessions: %s vs %s", first, id)
		}
	}
}

func TestResumePicksMostRecentIncomplete(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocs()
	store := NewSessionStore(docs)

	older := NewSession("u1", domain.ExperienceOnboarding, []domain.Question{mcQuestion("q1", "A")}, fixedClock())
	newer := NewSession("u1", domain.ExperienceOnboarding, []domain.Question{mcQuestion("q1", "A")}, fixedClock().Add(time.Hour))
	if err := docs.CreateSession(ctx, older); err != nil {
		t.Fatalf("seed older: %v", err)
	}
	if err := docs.CreateSession(ctx, newer); err != nil {
		t.Fatalf("seed newer: %v", err)
	}

	session, err := store.Resume(ctx, "u1", domain.ExperienceOnboarding)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if session.ID != newer.ID {
		t.Fatalf("expected most recent session %s, got %s", newer.ID, session.ID)
	}
}

func TestResumeReportsCompletedAndMissing(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocs()
	store := NewSessionStore(docs)

	if _, err := store.Resume(ctx, "u1", domain.ExperienceQuiz); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	done := NewSession("u1", domain.ExperienceQuiz, []domain.Question{mcQuestion("q1", "A")}, fixedClock())
	done.CurrentIndex = 1
	done.Completed = true
	if err := docs.CreateSession(ctx, done); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Resume(ctx, "u1", domain.ExperienceQuiz); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted, got %v", err)
	}
}

func TestPersistResponseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocs()
	store := NewSessionStore(docs)

	session, _, err := store.FindOrCreate(ctx, "u1", domain.ExperienceOnboarding, buildSession("u1", domain.ExperienceOnboarding, fixedClock()))
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}

	option := "A"
	resp := domain.Response{ID: "r1", UserID: "u1", QuestionID: "q1", Value: domain.ResponseValue{Type: domain.TypeMC, SelectedOption: &option}}
	if err := store.PersistResponse(ctx, session.ID, resp, 0); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := store.PersistResponse(ctx, session.ID, resp, 0); err != nil {
		t.Fatalf("repeat persist: %v", err)
	}

	stored := docs.stored(session.ID)
	if len(stored.Responses) != 1 {
		t.Fatalf("expected response stored exactly once, got %d", len(stored.Responses))
	}
	if stored.CurrentIndex != 0 {
		t.Fatalf("expected index 0, got %d", stored.CurrentIndex)
	}

	if err := store.PersistProgress(ctx, session.ID, 1); err != nil {
		t.Fatalf("persist progress: %v", err)
	}
	if stored := docs.stored(session.ID); stored.CurrentIndex != 1 {
		t.Fatalf("expected advanced index 1, got %d", stored.CurrentIndex)
	}
}

func TestPersistCompletionStampsSession(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocs()
	store := NewSessionStore(docs)

	session, _, err := store.FindOrCreate(ctx, "u1", domain.ExperienceOnboarding, buildSession("u1", domain.ExperienceOnboarding, fixedClock()))
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}

	at := fixedClock().Add(time.Minute)
	if err := store.PersistCompletion(ctx, session.ID, at, 1); err != nil {
		t.Fatalf("persist completion: %v", err)
	}
	stored := docs.stored(session.ID)
	if !stored.Completed || stored.CompletedAt == nil || !stored.CompletedAt.Equal(at) {
		t.Fatalf("expected completion stamped at %v, got %+v", at, stored)
	}
	if stored.CurrentIndex != 1 {
		t.Fatalf("completion must land the index past the last question, got %d", stored.CurrentIndex)
	}
}

// racingDocs simulates losing the cross-instance create race: the first
// create fails with a conflict after the rival's session has already landed.
type racingDocs struct {
	*fakeDocs
	winner domain.Session
	raced  bool
}

func (d *racingDocs) CreateSession(ctx context.Context, session domain.Session) error {
	if !d.raced {
		d.raced = true
		if err := d.fakeDocs.CreateSession(ctx, d.winner); err != nil {
			return err
		}
		return fmt.Errorf("acquire session guard: %w", domain.ErrSessionConflict)
	}
	return d.fakeDocs.CreateSession(ctx, session)
}

func TestFindOrCreateResumesWinnerOnCreateConflict(t *testing.T) {
	ctx := context.Background()
	winner := NewSession("u1", domain.ExperienceQuiz, []domain.Question{mcQuestion("q1", "A")}, fixedClock())
	docs := &racingDocs{fakeDocs: newFakeDocs(), winner: winner}
	store := NewSessionStore(docs)

	session, resumed, err := store.FindOrCreate(ctx, "u1", domain.ExperienceQuiz, buildSession("u1", domain.ExperienceQuiz, fixedClock()))
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if !resumed || session.ID != winner.ID {
		t.Fatalf("expected the winning session %s resumed, got %s (resumed=%v)", winner.ID, session.ID, resumed)
	}
}
