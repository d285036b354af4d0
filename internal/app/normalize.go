package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"duet-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// Normalize converts a raw widget value into a Response whose value type
// matches the question's variant. A raw value whose shape does not match the
// variant is rejected with domain.ErrShapeMismatch; nothing is stored.
func Normalize(q domain.Question, userID string, raw json.RawMessage, now time.Time) (domain.Response, error) {
	value, err := normalizeValue(q, raw)
	if err != nil {
		return domain.Response{}, err
	}
	return domain.Response{
		ID:          uuid.NewString(),
		UserID:      userID,
		QuestionID:  q.ID,
		SubmittedAt: now,
		Value:       value,
	}, nil
}

func normalizeValue(q domain.Question, raw json.RawMessage) (domain.ResponseValue, error) {
	switch q.Type {
	case domain.TypeMC:
		var payload struct {
			SelectedOption *string `json:"selectedOption"`
		}
		if err := decodeStrict(raw, &payload); err != nil || payload.SelectedOption == nil {
			return domain.ResponseValue{}, shapeErr(q, "expected {selectedOption}", err)
		}
		if q.MC != nil && !containsOption(q.MC.Options, *payload.SelectedOption) {
			return domain.ResponseValue{}, shapeErr(q, fmt.Sprintf("option %q not offered", *payload.SelectedOption), nil)
		}
		return domain.ResponseValue{Type: q.Type, SelectedOption: payload.SelectedOption}, nil

	case domain.TypeOP:
		var payload struct {
			Text *string `json:"text"`
		}
		if err := decodeStrict(raw, &payload); err != nil || payload.Text == nil {
			return domain.ResponseValue{}, shapeErr(q, "expected {text}", err)
		}
		if q.Open != nil && q.Open.MaxLength > 0 && len(*payload.Text) > q.Open.MaxLength {
			return domain.ResponseValue{}, shapeErr(q, fmt.Sprintf("text exceeds max length %d", q.Open.MaxLength), nil)
		}
		return domain.ResponseValue{Type: q.Type, Text: payload.Text}, nil

	case domain.TypeNM:
		var payload struct {
			Number *float64 `json:"number"`
		}
		if err := decodeStrict(raw, &payload); err != nil || payload.Number == nil {
			return domain.ResponseValue{}, shapeErr(q, "expected {number}", err)
		}
		if q.Numeric != nil && (*payload.Number < q.Numeric.Min || *payload.Number > q.Numeric.Max) {
			return domain.ResponseValue{}, shapeErr(q, fmt.Sprintf("number %v outside [%v,%v]", *payload.Number, q.Numeric.Min, q.Numeric.Max), nil)
		}
		return domain.ResponseValue{Type: q.Type, Number: payload.Number}, nil

	case domain.TypeScale:
		var payload struct {
			Position *float64 `json:"position"`
		}
		if err := decodeStrict(raw, &payload); err != nil || payload.Position == nil {
			return domain.ResponseValue{}, shapeErr(q, "expected {position}", err)
		}
		if *payload.Position < 0 || *payload.Position > 1 {
			return domain.ResponseValue{}, shapeErr(q, fmt.Sprintf("position %v outside [0,1]", *payload.Position), nil)
		}
		return domain.ResponseValue{Type: q.Type, Position: payload.Position}, nil

	case domain.TypeSegmentedSlider:
		var payload struct {
			Segment *int `json:"segment"`
		}
		if err := decodeStrict(raw, &payload); err != nil || payload.Segment == nil {
			return domain.ResponseValue{}, shapeErr(q, "expected {segment}", err)
		}
		if q.Segmented != nil && !containsSegment(q.Segmented.Segments, *payload.Segment) {
			return domain.ResponseValue{}, shapeErr(q, fmt.Sprintf("segment %d not configured", *payload.Segment), nil)
		}
		return domain.ResponseValue{Type: q.Type, Segment: payload.Segment}, nil

	case domain.TypeXYContinuum:
		var payload struct {
			Coordinates *domain.Coordinates `json:"coordinates"`
		}
		if err := decodeStrict(raw, &payload); err != nil || payload.Coordinates == nil {
			return domain.ResponseValue{}, shapeErr(q, "expected {coordinates:{x,y}}", err)
		}
		c := *payload.Coordinates
		if c.X < 0 || c.X > 1 || c.Y < 0 || c.Y > 1 {
			return domain.ResponseValue{}, shapeErr(q, fmt.Sprintf("coordinates (%v,%v) outside unit square", c.X, c.Y), nil)
		}
		return domain.ResponseValue{Type: q.Type, Coordinates: payload.Coordinates}, nil
	}
	return domain.ResponseValue{}, fmt.Errorf("%w: %q", domain.ErrUnknownQuestionType, q.Type)
}

// decodeStrict rejects unknown fields so a payload meant for one variant
// cannot pass as another (e.g. {number} where {coordinates} is expected).
func decodeStrict(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func shapeErr(q domain.Question, detail string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: question %s (%s): %s: %v", domain.ErrShapeMismatch, q.ID, q.Type, detail, cause)
	}
	return fmt.Errorf("%w: question %s (%s): %s", domain.ErrShapeMismatch, q.ID, q.Type, detail)
}

func containsOption(options []string, option string) bool {
	for _, o := range options {
		if o == option {
			return true
		}
	}
	return false
}

func containsSegment(segments []domain.Segment, value int) bool {
	for _, s := range segments {
		if s.Value == value {
			return true
		}
	}
	return false
}
