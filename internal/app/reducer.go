package app

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"duet-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// Phase is the reducer's lifecycle state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseActive
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseActive:
		return "active"
	case PhaseCompleted:
		return "completed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Reducer drives a single session through uninitialized → active → completed.
// It is pure state: no I/O happens here, persistence is the store adapter's
// job. Transitions requested outside their valid phase are refused with
// domain.ErrInvalidTransition, never applied with undefined index math.
type Reducer struct {
	phase   Phase
	session domain.Session
	clock   func() time.Time
}

func NewReducer() *Reducer {
	return NewReducerWithClock(time.Now)
}

// NewReducerWithClock allows deterministic timestamps in tests.
func NewReducerWithClock(clock func() time.Time) *Reducer {
	return &Reducer{clock: clock}
}

// Phase returns the reducer's current lifecycle phase.
func (r *Reducer) Phase() Phase { return r.phase }

// Session returns a copy of the current session with cloned slices, so
// callers cannot mutate reducer state through the snapshot.
func (r *Reducer) Session() domain.Session {
	s := r.session
	s.SelectedQuestions = append([]domain.Question(nil), r.session.SelectedQuestions...)
	s.Responses = append([]domain.Response(nil), r.session.Responses...)
	return s
}

// Initialize starts a fresh session from the given selection. Valid only from
// the uninitialized phase.
func (r *Reducer) Initialize(session domain.Session) error {
	if r.phase != PhaseUninitialized {
		return fmt.Errorf("%w: initialize from %s", domain.ErrInvalidTransition, r.phase)
	}
	if session.UserID == "" {
		return domain.ErrNoUser
	}
	if session.CurrentIndex != 0 || len(session.Responses) != 0 || session.Completed {
		return fmt.Errorf("%w: initialize requires a fresh session", domain.ErrInvalidTransition)
	}
	r.session = session
	r.phase = PhaseActive
	return nil
}

// Restore loads a previously persisted session without re-running
// initialization, entering the phase the stored record implies.
func (r *Reducer) Restore(session domain.Session) error {
	if r.phase != PhaseUninitialized {
		return fmt.Errorf("%w: restore from %s", domain.ErrInvalidTransition, r.phase)
	}
	if session.CurrentIndex < 0 || session.CurrentIndex > len(session.SelectedQuestions) {
		return fmt.Errorf("%w: stored index %d outside [0,%d]", domain.ErrInvalidTransition, session.CurrentIndex, len(session.SelectedQuestions))
	}
	if session.Completed != (session.CurrentIndex == len(session.SelectedQuestions)) {
		return fmt.Errorf("%w: stored completion flag disagrees with index", domain.ErrInvalidTransition)
	}
	r.session = session
	if session.Completed {
		r.phase = PhaseCompleted
	} else {
		r.phase = PhaseActive
	}
	return nil
}

// HandleResponse appends a response for the current question. It never moves
// the index; callers advance explicitly via AdvanceToNext.
func (r *Reducer) HandleResponse(resp domain.Response) error {
	if r.phase != PhaseActive {
		return fmt.Errorf("%w: handle response from %s", domain.ErrInvalidTransition, r.phase)
	}
	current, ok := r.session.CurrentQuestion()
	if !ok {
		return fmt.Errorf("%w: no current question at index %d", domain.ErrInvalidTransition, r.session.CurrentIndex)
	}
	if resp.QuestionID != current.ID {
		return fmt.Errorf("%w: response targets %s but current question is %s", domain.ErrInvalidTransition, resp.QuestionID, current.ID)
	}
	if len(r.session.Responses) > r.session.CurrentIndex {
		return fmt.Errorf("%w: question %s already answered", domain.ErrInvalidTransition, current.ID)
	}
	r.session.Responses = append(r.session.Responses, resp)
	return nil
}

// AdvanceToNext moves the cursor forward. Advancing past the last question
// completes the session, leaving the index at len(SelectedQuestions).
func (r *Reducer) AdvanceToNext() (completed bool, err error) {
	if r.phase != PhaseActive {
		return false, fmt.Errorf("%w: advance from %s", domain.ErrInvalidTransition, r.phase)
	}
	r.session.CurrentIndex++
	if r.session.CurrentIndex == len(r.session.SelectedQuestions) {
		now := r.clock()
		r.session.Completed = true
		r.session.CompletedAt = &now
		r.phase = PhaseCompleted
		return true, nil
	}
	return false, nil
}

// Reset abandons the session and returns to the uninitialized phase.
func (r *Reducer) Reset() {
	r.session = domain.Session{}
	r.phase = PhaseUninitialized
}

// NewSession snapshots a question selection into a fresh session record.
// Questions are copied by value so later catalog changes cannot reach into an
// in-progress session.
func NewSession(userID string, experience domain.Experience, selected []domain.Question, startedAt time.Time) domain.Session {
	return domain.Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		Experience:        experience,
		SelectedQuestions: append([]domain.Question(nil), selected...),
		Responses:         nil,
		CurrentIndex:      0,
		StartedAt:         startedAt,
	}
}

// SelectQuestions builds a selection: every standard (required) question plus
// poolSample questions drawn at random from the pool, ordered by sequence
// number. The sample count is always supplied by the caller.
func SelectQuestions(set domain.QuestionSet, poolSample int, rnd *rand.Rand) []domain.Question {
	selected := append([]domain.Question(nil), set.Standard...)
	if poolSample > len(set.Pool) {
		poolSample = len(set.Pool)
	}
	if poolSample > 0 {
		for _, i := range rnd.Perm(len(set.Pool))[:poolSample] {
			selected = append(selected, set.Pool[i])
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Sequence < selected[j].Sequence
	})
	return selected
}
