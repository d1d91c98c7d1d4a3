package grading

import (
	"strconv"
	"strings"

	"github.com/yungbote/studysync/internal/progress"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	Text           QuestionType = "text"
	Numeric        QuestionType = "numeric"
	Matching       QuestionType = "matching"
	FillBlank      QuestionType = "fill_blank"
)

// Encoding says how a multiple-choice CorrectAnswer is stored.
type Encoding int

const (
	// EncodingUnspecified infers: an in-range integer is an index, anything else is option text.
	EncodingUnspecified Encoding = iota
	EncodingIndex
	EncodingText
)

// Question is immutable once fetched from the artifact store.
type Question struct {
	ID            string       `json:"id"`
	WorksheetID   string       `json:"worksheet_id"`
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"prompt"`
	CorrectAnswer string       `json:"correct_answer"`
	Encoding      Encoding     `json:"encoding,omitempty"`
	Options       []string     `json:"options,omitempty"`
}

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// ModeFor reports where a question type is graded.
func ModeFor(t QuestionType) Mode {
	switch t {
	case MultipleChoice, TrueFalse:
		return ModeLocal
	default:
		return ModeRemote
	}
}

// Criterion is one line of a mark scheme.
type Criterion struct {
	ID              string  `json:"id,omitempty"`
	Requirement     string  `json:"requirement"`
	PointsAvailable float64 `json:"points_available"`
	PointsAchieved  float64 `json:"points_achieved"`
	Feedback        string  `json:"feedback,omitempty"`
}

type Verdict struct {
	QuestionID string
	Mode       Mode
	Correct    bool
	Breakdown  []Criterion
	// Record is the visible progress after the verdict was reconciled.
	Record progress.Record
}

// OptionIndex returns the position of the first option equal to text.
func OptionIndex(options []string, text string) (int, bool) {
	for i, o := range options {
		if o == text {
			return i, true
		}
	}
	return -1, false
}

// CorrectIndex resolves a multiple-choice question's stored answer to a zero-based index.
func CorrectIndex(q Question) (int, bool) {
	switch q.Encoding {
	case EncodingIndex:
		return parseIndex(q.CorrectAnswer, len(q.Options))
	case EncodingText:
		return OptionIndex(q.Options, q.CorrectAnswer)
	default:
		if i, ok := parseIndex(q.CorrectAnswer, len(q.Options)); ok {
			return i, true
		}
		return OptionIndex(q.Options, q.CorrectAnswer)
	}
}

func parseIndex(s string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || i < 0 || i >= n {
		return -1, false
	}
	return i, true
}

// GradeMultipleChoice is correct only when both sides resolve to the same position.
func GradeMultipleChoice(q Question, answer string) bool {
	want, ok := CorrectIndex(q)
	if !ok {
		return false
	}
	got, ok := OptionIndex(q.Options, answer)
	return ok && got == want
}

// GradeTrueFalse compares upper-cased TRUE/FALSE literals; anything else is incorrect.
func GradeTrueFalse(correct, answer string) bool {
	c, a := strings.ToUpper(correct), strings.ToUpper(answer)
	if c != "TRUE" && c != "FALSE" {
		return false
	}
	return c == a
}

// GradeLocal grades deterministic question types. ok is false for remote types.
func GradeLocal(q Question, answer string) (correct, ok bool) {
	switch q.Type {
	case MultipleChoice:
		return GradeMultipleChoice(q, answer), true
	case TrueFalse:
		return GradeTrueFalse(q.CorrectAnswer, answer), true
	default:
		return false, false
	}
}
