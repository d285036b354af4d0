package app

import (
	"math"
	"strconv"
	"strings"

	"duet-quiz-service/internal/domain"
)

// ToleranceBand is the fixed absolute deviation allowed for SCALE and
// XY_CONTINUUM grading. It is deliberately not configurable per question.
const ToleranceBand = 0.1

// Verdict is the outcome of grading one quiz response. Graded is false for
// variants that are not scored (OP, NM) and Celebrate marks correct SCALE/XY
// answers so the presentation layer can react; scoring never depends on it.
type Verdict struct {
	Graded    bool `json:"graded"`
	Correct   bool `json:"correct"`
	Celebrate bool `json:"celebrate"`
}

// Grade judges a response against the question's string-encoded correct
// answer. A response missing the expected value field, or an unparseable
// correct answer, grades incorrect; Grade never panics.
func Grade(q domain.Question, resp domain.Response) Verdict {
	switch q.Type {
	case domain.TypeOP, domain.TypeNM:
		return Verdict{}

	case domain.TypeMC:
		if resp.Value.SelectedOption == nil {
			return Verdict{Graded: true}
		}
		return Verdict{Graded: true, Correct: *resp.Value.SelectedOption == q.CorrectAnswer}

	case domain.TypeScale:
		if resp.Value.Position == nil {
			return Verdict{Graded: true}
		}
		want, err := strconv.ParseFloat(strings.TrimSpace(q.CorrectAnswer), 64)
		if err != nil {
			return Verdict{Graded: true}
		}
		correct := math.Abs(*resp.Value.Position-want) <= ToleranceBand
		return Verdict{Graded: true, Correct: correct, Celebrate: correct}

	case domain.TypeSegmentedSlider:
		if resp.Value.Segment == nil {
			return Verdict{Graded: true}
		}
		want, err := strconv.Atoi(strings.TrimSpace(q.CorrectAnswer))
		if err != nil {
			return Verdict{Graded: true}
		}
		return Verdict{Graded: true, Correct: *resp.Value.Segment == want}

	case domain.TypeXYContinuum:
		if resp.Value.Coordinates == nil {
			return Verdict{Graded: true}
		}
		wantX, wantY, ok := parseXYPair(q.CorrectAnswer)
		if !ok {
			return Verdict{Graded: true}
		}
		// Each axis is checked independently; one axis out of band fails the answer.
		correct := math.Abs(resp.Value.Coordinates.X-wantX) <= ToleranceBand &&
			math.Abs(resp.Value.Coordinates.Y-wantY) <= ToleranceBand
		return Verdict{Graded: true, Correct: correct, Celebrate: correct}
	}
	return Verdict{}
}

// parseXYPair parses the "x,y" decimal encoding used by XY_CONTINUUM answers.
func parseXYPair(encoded string) (x, y float64, ok bool) {
	parts := strings.Split(encoded, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}
