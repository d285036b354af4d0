package domain

import "time"

// ResponseValue is the tagged payload of a response. Type always matches the
// originating question's Type; exactly one value field is set.
type ResponseValue struct {
	Type           QuestionType `json:"type"`
	SelectedOption *string      `json:"selectedOption,omitempty"`
	Text           *string      `json:"text,omitempty"`
	Number         *float64     `json:"number,omitempty"`
	Position       *float64     `json:"position,omitempty"`
	Segment        *int         `json:"segment,omitempty"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
}

// ResponseMeta carries interaction measurements captured by the widget.
type ResponseMeta struct {
	TimeToAnswerMS   int64  `json:"timeToAnswerMs"`
	InteractionCount int    `json:"interactionCount"`
	Device           string `json:"device,omitempty"`
}

// QuizGrade is attached to responses collected in a graded experience.
type QuizGrade struct {
	Correct bool         `json:"correct"`
	Graded  bool         `json:"graded"`
	Meta    ResponseMeta `json:"meta"`
}

// Response is one normalized answer to one question. Quiz is nil for
// onboarding responses and set for graded quiz responses.
type Response struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	QuestionID  string        `json:"questionId"`
	SubmittedAt time.Time     `json:"submittedAt"`
	Value       ResponseValue `json:"value"`
	Quiz        *QuizGrade    `json:"quiz,omitempty"`
}
