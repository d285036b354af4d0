package domain

import "time"

// Experience selects which question set and flow a session belongs to.
type Experience string

const (
	ExperienceOnboarding Experience = "ONBOARDING"
	ExperienceQuiz       Experience = "QUIZ"
	ExperienceHeadToHead Experience = "HEAD_TO_HEAD"
)

// Valid reports whether e names a known experience.
func (e Experience) Valid() bool {
	switch e {
	case ExperienceOnboarding, ExperienceQuiz, ExperienceHeadToHead:
		return true
	}
	return false
}

// Graded reports whether responses in this experience are scored against a
// correct answer.
func (e Experience) Graded() bool {
	return e == ExperienceQuiz || e == ExperienceHeadToHead
}

// Session is the persisted, resumable record of one participant's progress.
// SelectedQuestions is a snapshot taken at initialization: the catalog may
// change underneath an in-progress session without invalidating it.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Experience        Experience `json:"experience"`
	SelectedQuestions []Question `json:"selectedQuestions"`
	Responses         []Response `json:"responses"`
	CurrentIndex      int        `json:"currentIndex"`
	Completed         bool       `json:"completed"`
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// CurrentQuestion returns the question at the session's cursor, or false when
// the session is completed (index == len(SelectedQuestions)).
func (s Session) CurrentQuestion() (Question, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.SelectedQuestions) {
		return Question{}, false
	}
	return s.SelectedQuestions[s.CurrentIndex], true
}

// HasResponse reports whether a response with the given ID is already recorded.
func (s Session) HasResponse(responseID string) bool {
	for _, r := range s.Responses {
		if r.ID == responseID {
			return true
		}
	}
	return false
}
