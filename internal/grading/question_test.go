package grading

import "testing"

func cities() Question {
	return Question{ID: "q1", Type: MultipleChoice, Options: []string{"Paris", "Lyon", "Nice"}}
}

func TestMultipleChoiceCorrectAnswerAsIndex(t *testing.T) {
	q := cities()
	q.CorrectAnswer = "1"
	if !GradeMultipleChoice(q, "Lyon") {
		t.Fatalf("index-encoded answer 1 should match Lyon")
	}
	if GradeMultipleChoice(q, "Paris") {
		t.Fatalf("Paris is index 0, not 1")
	}
}

func TestMultipleChoiceCorrectAnswerAsText(t *testing.T) {
	q := cities()
	q.CorrectAnswer = "Lyon"
	if !GradeMultipleChoice(q, "Lyon") {
		t.Fatalf("text-encoded answer should match Lyon")
	}
	if GradeMultipleChoice(q, "lyon") {
		t.Fatalf("option lookup is exact")
	}
}

func TestMultipleChoiceUnresolvedSidesAreIncorrect(t *testing.T) {
	q := cities()
	q.CorrectAnswer = "Marseille"
	if GradeMultipleChoice(q, "Marseille") {
		t.Fatalf("correct answer not among options must never grade correct")
	}
	q.CorrectAnswer = "7"
	if GradeMultipleChoice(q, "7") {
		t.Fatalf("out-of-range index that is not an option must not resolve")
	}
}

func TestMultipleChoiceDuplicateTextNotConflated(t *testing.T) {
	q := Question{ID: "q", Type: MultipleChoice, Options: []string{"A", "B", "A"}, CorrectAnswer: "2"}
	if GradeMultipleChoice(q, "A") {
		t.Fatalf("submitted A resolves to position 0; correct position is 2")
	}
}

func TestMultipleChoiceNumeralOptionEncoding(t *testing.T) {
	q := Question{ID: "q", Type: MultipleChoice, Options: []string{"7", "42", "0"}}

	q.CorrectAnswer, q.Encoding = "0", EncodingText
	if !GradeMultipleChoice(q, "0") {
		t.Fatalf("text encoding: option \"0\" is at position 2")
	}
	if GradeMultipleChoice(q, "7") {
		t.Fatalf("text encoding must not read \"0\" as index 0")
	}

	q.CorrectAnswer, q.Encoding = "1", EncodingIndex
	if !GradeMultipleChoice(q, "42") {
		t.Fatalf("index encoding: 1 is option 42")
	}

	q.CorrectAnswer, q.Encoding = "42", EncodingIndex
	if GradeMultipleChoice(q, "42") {
		t.Fatalf("index encoding: 42 is out of range and must not fall back to text")
	}

	q.CorrectAnswer, q.Encoding = "0", EncodingUnspecified
	if !GradeMultipleChoice(q, "7") {
		t.Fatalf("inferred encoding parses in-range integers as indices")
	}
}

func TestTrueFalse(t *testing.T) {
	cases := []struct {
		correct, answer string
		want            bool
	}{
		{"True", "false", false},
		{"True", "TRUE", true},
		{"true", "True", true},
		{"FALSE", "false", true},
		{"True", "yes", false},
		{"True", " true", false},
		{"Yes", "Yes", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := GradeTrueFalse(tc.correct, tc.answer); got != tc.want {
			t.Fatalf("GradeTrueFalse(%q, %q): want=%v got=%v", tc.correct, tc.answer, tc.want, got)
		}
	}
}

func TestModeFor(t *testing.T) {
	for _, qt := range []QuestionType{MultipleChoice, TrueFalse} {
		if ModeFor(qt) != ModeLocal {
			t.Fatalf("%s should grade locally", qt)
		}
	}
	for _, qt := range []QuestionType{Text, Numeric, Matching, FillBlank} {
		if ModeFor(qt) != ModeRemote {
			t.Fatalf("%s should grade remotely", qt)
		}
		if _, ok := GradeLocal(Question{Type: qt}, "x"); ok {
			t.Fatalf("%s must not have a local grader", qt)
		}
	}
}
