package app

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"duet-quiz-service/internal/domain"
)

func TestNormalizeMatchesQuestionType(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		question domain.Question
		raw      string
	}{
		{"mc", mcQuestion("q1", "A", "B"), `{"selectedOption":"A"}`},
		{"open", opQuestion("q2", 100), `{"text":"hello"}`},
		{"numeric", nmQuestion("q3", 0, 10), `{"number":4}`},
		{"scale", scaleQuestion("q4", ""), `{"position":0.25}`},
		{"segmented", segmentedQuestion("q5", ""), `{"segment":2}`},
		{"xy", xyQuestion("q6", ""), `{"coordinates":{"x":0.1,"y":0.9}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := Normalize(tc.question, "u1", json.RawMessage(tc.raw), now)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if resp.Value.Type != tc.question.Type {
				t.Fatalf("expected value type %s, got %s", tc.question.Type, resp.Value.Type)
			}
			if resp.QuestionID != tc.question.ID || resp.UserID != "u1" {
				t.Fatalf("unexpected response identity: %+v", resp)
			}
			if resp.ID == "" {
				t.Fatalf("expected generated response id")
			}
			if !resp.SubmittedAt.Equal(now) {
				t.Fatalf("expected timestamp %v, got %v", now, resp.SubmittedAt)
			}
		})
	}
}

func TestNormalizeRejectsMismatchedShapes(t *testing.T) {
	cases := []struct {
		name     string
		question domain.Question
		raw      string
	}{
		{"number for coordinates", xyQuestion("q1", ""), `{"number":3}`},
		{"coordinates for scale", scaleQuestion("q2", ""), `{"coordinates":{"x":0.1,"y":0.2}}`},
		{"text for mc", mcQuestion("q3", "A"), `{"text":"A"}`},
		{"missing field", opQuestion("q4", 10), `{}`},
		{"not json", nmQuestion("q5", 0, 10), `nope`},
		{"option not offered", mcQuestion("q6", "A", "B"), `{"selectedOption":"C"}`},
		{"position out of range", scaleQuestion("q7", ""), `{"position":1.5}`},
		{"coordinates out of range", xyQuestion("q8", ""), `{"coordinates":{"x":-0.1,"y":0.5}}`},
		{"unknown segment", segmentedQuestion("q9", ""), `{"segment":42}`},
		{"number outside bounds", nmQuestion("q10", 0, 10), `{"number":11}`},
		{"text too long", opQuestion("q11", 3), `{"text":"too long"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.question, "u1", json.RawMessage(tc.raw), time.Now())
			if !errors.Is(err, domain.ErrShapeMismatch) {
				t.Fatalf("expected ErrShapeMismatch, got %v", err)
			}
		})
	}
}

func mcQuestion(id string, options ...string) domain.Question {
	return domain.Question{ID: id, Type: domain.TypeMC, Prompt: "pick", MC: &domain.MCConfig{Options: options}}
}

func opQuestion(id string, maxLen int) domain.Question {
	return domain.Question{ID: id, Type: domain.TypeOP, Prompt: "write", Open: &domain.OpenConfig{MaxLength: maxLen}}
}

func nmQuestion(id string, min, max float64) domain.Question {
	return domain.Question{ID: id, Type: domain.TypeNM, Prompt: "count", Numeric: &domain.NumericConfig{Min: min, Max: max, Step: 1}}
}

func scaleQuestion(id, correct string) domain.Question {
	return domain.Question{
		ID: id, Type: domain.TypeScale, Prompt: "slide", CorrectAnswer: correct,
		Scale: &domain.ScaleConfig{LeftOption: "L", RightOption: "R"},
	}
}

func segmentedQuestion(id, correct string) domain.Question {
	return domain.Question{
		ID: id, Type: domain.TypeSegmentedSlider, Prompt: "step", CorrectAnswer: correct,
		Segmented: &domain.SegmentedConfig{Segments: []domain.Segment{{Value: 0}, {Value: 1}, {Value: 2}, {Value: 3}}},
	}
}

func xyQuestion(id, correct string) domain.Question {
	return domain.Question{
		ID: id, Type: domain.TypeXYContinuum, Prompt: "place", CorrectAnswer: correct,
		XY: &domain.XYConfig{XAxis: domain.AxisLabels{Low: "l", High: "r"}, YAxis: domain.AxisLabels{Low: "b", High: "t"}},
	}
}
