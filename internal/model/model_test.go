package model

import (
	"strings"
	"testing"
)

func validQuiz() Quiz {
	return Quiz{
		Title: "Physics",
		Questions: []Question{
			{ID: 1, Text: "What is inertia?", Points: 10},
			{ID: 2, Text: "State Ohm's law.", Points: 15},
		},
		Answers: []ReferenceAnswer{
			{QuestionID: 1, Answer: "Resistance to change in motion."},
			{QuestionID: 2, Answer: "V equals I times R."},
		},
	}
}

func TestQuizLookups(t *testing.T) {
	q := validQuiz()

	qu, ok := q.Question(2)
	if !ok || qu.Points != 15 {
		t.Errorf("Question(2) = %+v, %v", qu, ok)
	}
	if _, ok := q.Question(3); ok {
		t.Error("expected Question(3) to be missing")
	}

	a, ok := q.ReferenceAnswer(1)
	if !ok || !strings.HasPrefix(a.Answer, "Resistance") {
		t.Errorf("ReferenceAnswer(1) = %+v, %v", a, ok)
	}

	if got := q.MaxMarks(); got != 25 {
		t.Errorf("MaxMarks() = %v, want 25", got)
	}
}

func TestQuizValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(q *Quiz)
		wantErr string
	}{
		{"valid", func(q *Quiz) {}, ""},
		{"missing title", func(q *Quiz) { q.Title = "" }, "Title"},
		{"no questions", func(q *Quiz) { q.Questions = nil }, "Questions"},
		{"zero points", func(q *Quiz) { q.Questions[0].Points = 0 }, "Points"},
		{"duplicate id", func(q *Quiz) { q.Questions[1].ID = 1 }, "duplicate question id"},
		{"orphan answer", func(q *Quiz) { q.Answers[1].QuestionID = 9 }, "unknown question 9"},
		{"unanswered question", func(q *Quiz) { q.Answers = q.Answers[:1] }, "question 2 has no reference answer"},
		{"duplicate answer", func(q *Quiz) { q.Answers = append(q.Answers, ReferenceAnswer{QuestionID: 1, Answer: "x"}) }, "duplicate reference answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuiz()
			tt.mutate(&q)
			err := q.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
