package domain

import "fmt"

// QuestionType discriminates the closed set of question variants.
type QuestionType string

const (
	TypeMC              QuestionType = "MC"
	TypeOP              QuestionType = "OP"
	TypeNM              QuestionType = "NM"
	TypeScale           QuestionType = "SCALE"
	TypeSegmentedSlider QuestionType = "SEGMENTED_SLIDER"
	TypeXYContinuum     QuestionType = "XY_CONTINUUM"
)

// Valid reports whether t is one of the six known variants.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeMC, TypeOP, TypeNM, TypeScale, TypeSegmentedSlider, TypeXYContinuum:
		return true
	}
	return false
}

// Coordinates is a point on the unit square used by XY_CONTINUUM.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AxisLabels names the two poles of one continuum axis.
type AxisLabels struct {
	Low  string `json:"low"`
	High string `json:"high"`
}

// Segment is one stop on a segmented slider.
type Segment struct {
	Value int    `json:"value"`
	Label string `json:"label,omitempty"`
}

// MCConfig holds the ordered options for a multiple-choice question.
type MCConfig struct {
	Options []string `json:"options"`
}

// OpenConfig bounds a free-text answer.
type OpenConfig struct {
	MaxLength int `json:"maxLength"`
}

// NumericConfig bounds a numeric answer.
type NumericConfig struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// ScaleConfig labels the ends of a continuous [0,1] slider.
type ScaleConfig struct {
	LeftOption   string   `json:"leftOption"`
	RightOption  string   `json:"rightOption"`
	DefaultValue *float64 `json:"defaultValue,omitempty"`
}

// SegmentedConfig holds the non-empty ordered segments of a stepped slider.
type SegmentedConfig struct {
	Segments       []Segment `json:"segments"`
	DefaultSegment *int      `json:"defaultSegment,omitempty"`
}

// XYConfig labels both axes of a two-dimensional continuum.
type XYConfig struct {
	XAxis           AxisLabels   `json:"xAxis"`
	YAxis           AxisLabels   `json:"yAxis"`
	DefaultPosition *Coordinates `json:"defaultPosition,omitempty"`
}

// Question is the tagged union over the six variants. Exactly one config
// pointer, the one matching Type, is non-nil; Validate enforces this so
// consumers can branch on Type without nil checks.
type Question struct {
	ID                    string       `json:"id"`
	Type                  QuestionType `json:"type"`
	Prompt                string       `json:"prompt"`
	Category              string       `json:"category,omitempty"`
	Sequence              int          `json:"sequence"`
	RequiredForOnboarding bool         `json:"requiredForOnboarding"`
	IncludeInOnboarding   bool         `json:"includeInOnboarding"`

	// CorrectAnswer is the string-encoded expected answer for quiz grading.
	// Encoding is variant-specific: option text for MC, decimal for SCALE,
	// integer for SEGMENTED_SLIDER, "x,y" pair for XY_CONTINUUM.
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
	Distractors   []string `json:"distractors,omitempty"`

	MC        *MCConfig        `json:"mc,omitempty"`
	Open      *OpenConfig      `json:"open,omitempty"`
	Numeric   *NumericConfig   `json:"numeric,omitempty"`
	Scale     *ScaleConfig     `json:"scale,omitempty"`
	Segmented *SegmentedConfig `json:"segmented,omitempty"`
	XY        *XYConfig        `json:"xy,omitempty"`
}

// Validate checks that the question carries exactly the config its Type demands.
func (q Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("question has no id")
	}
	set := 0
	for _, present := range []bool{q.MC != nil, q.Open != nil, q.Numeric != nil, q.Scale != nil, q.Segmented != nil, q.XY != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("question %s: expected exactly one variant config, got %d", q.ID, set)
	}
	switch q.Type {
	case TypeMC:
		if q.MC == nil {
			return fmt.Errorf("question %s: MC config missing", q.ID)
		}
		if len(q.MC.Options) == 0 {
			return fmt.Errorf("question %s: MC question has no options", q.ID)
		}
	case TypeOP:
		if q.Open == nil {
			return fmt.Errorf("question %s: OP config missing", q.ID)
		}
	case TypeNM:
		if q.Numeric == nil {
			return fmt.Errorf("question %s: NM config missing", q.ID)
		}
	case TypeScale:
		if q.Scale == nil {
			return fmt.Errorf("question %s: SCALE config missing", q.ID)
		}
	case TypeSegmentedSlider:
		if q.Segmented == nil {
			return fmt.Errorf("question %s: SEGMENTED_SLIDER config missing", q.ID)
		}
		if len(q.Segmented.Segments) == 0 {
			return fmt.Errorf("question %s: segmented slider has no segments", q.ID)
		}
	case TypeXYContinuum:
		if q.XY == nil {
			return fmt.Errorf("question %s: XY_CONTINUUM config missing", q.ID)
		}
	default:
		return fmt.Errorf("question %s: %w: %q", q.ID, ErrUnknownQuestionType, q.Type)
	}
	return nil
}

// QuestionSet groups the questions offered for one experience. Standard
// questions are always selected; Pool questions are sampled from.
type QuestionSet struct {
	Experience string     `json:"experience"`
	Standard   []Question `json:"standard"`
	Pool       []Question `json:"pool"`
}

// Validate checks every question in the set.
func (s QuestionSet) Validate() error {
	for _, q := range s.Standard {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	for _, q := range s.Pool {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}
