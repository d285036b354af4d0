package domain

import "errors"

var (
	// ErrShapeMismatch is returned when a raw answer value does not match the
	// shape its question's variant expects.
	ErrShapeMismatch = errors.New("response shape does not match question type")
	// ErrInvalidTransition is returned when a session transition is requested
	// outside its valid state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionNotFound is returned when no session exists for a user and experience.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCompleted is returned when resuming finds only completed sessions.
	ErrSessionCompleted = errors.New("session already completed")
	// ErrSessionConflict is returned when a create loses the cross-instance
	// active-session race; callers resume the winner's session instead.
	ErrSessionConflict = errors.New("active session already exists")
	// ErrExperienceActive is returned when entering an experience while another
	// experience's session is still active.
	ErrExperienceActive = errors.New("another experience is active")
	// ErrQuestionSetNotFound indicates the catalog has no set for an experience.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrUnknownQuestionType indicates a variant outside the closed set.
	ErrUnknownQuestionType = errors.New("unknown question type")
	// ErrNoUser is returned when a session operation arrives without a user identity.
	ErrNoUser = errors.New("no user identity")
)
