package model

import (
	"time"
)

// Tier names one of the five credit bands a similarity score falls into.
type Tier string

const (
	TierFull          Tier = "full_credit"
	TierHighPartial   Tier = "high_partial"
	TierMediumPartial Tier = "medium_partial"
	TierLowPartial    Tier = "low_partial"
	TierNone          Tier = "no_credit"
)

// Question is a single short-answer question embedded in a quiz.
type Question struct {
	ID     int64   `json:"id" validate:"gt=0"`
	Text   string  `json:"text" validate:"required"`
	Points float64 `json:"points" validate:"gt=0"`
	Image  string  `json:"image,omitempty"`
}

// ReferenceAnswer is the expected answer for a question, keyed by question ID.
type ReferenceAnswer struct {
	QuestionID int64  `json:"questionId" validate:"gt=0"`
	Answer     string `json:"answer" validate:"required"`
}

// Quiz owns an ordered list of questions and their reference answers.
// Both are stored as embedded documents, not as separate rows.
type Quiz struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title" validate:"required"`
	Published bool              `json:"published"`
	Questions []Question        `json:"questions" validate:"required,min=1,dive"`
	Answers   []ReferenceAnswer `json:"answers" validate:"required,min=1,dive"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Question returns the question with the given ID.
func (q Quiz) Question(id int64) (Question, bool) {
	for _, qu := range q.Questions {
		if qu.ID == id {
			return qu, true
		}
	}
	return Question{}, false
}

// ReferenceAnswer returns the reference answer for the given question ID.
func (q Quiz) ReferenceAnswer(questionID int64) (ReferenceAnswer, bool) {
	for _, a := range q.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return ReferenceAnswer{}, false
}

// MaxMarks returns the sum of all question points.
func (q Quiz) MaxMarks() float64 {
	var total float64
	for _, qu := range q.Questions {
		total += qu.Points
	}
	return total
}

// Submission is one spoken answer to one question. Rows are append-only;
// the most recent per question is authoritative.
type Submission struct {
	ID                int64     `json:"id"`
	StudentID         int64     `json:"studentId"`
	QuizID            int64     `json:"quizId"`
	QuestionID        int64     `json:"questionId"`
	AudioPath         string    `json:"audioPath"`
	TranscribedAnswer string    `json:"transcribedAnswer"`
	CreatedAt         time.Time `json:"createdAt"`
}

// QuestionResult is the graded outcome of a single submission.
type QuestionResult struct {
	QuestionID      int64   `json:"questionId"`
	ActualAnswer    string  `json:"actualAnswer"`
	SimilarityScore float64 `json:"similarityScore"`
	MarksAwarded    float64 `json:"marksAwarded"`
	MaxPoints       float64 `json:"maxPoints"`
	Tier            Tier    `json:"tier"`
}

// Evaluation is the single aggregated grading record for a student's quiz attempt.
type Evaluation struct {
	ID              int64            `json:"id"`
	StudentID       int64            `json:"studentId"`
	QuizID          int64            `json:"quizId"`
	QuestionResults []QuestionResult `json:"questionResults"`
	TotalSimilarity float64          `json:"totalSimilarity"`
	TotalMarks      float64          `json:"totalMarks"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// QuizStatistics is computed on demand from all evaluations of a quiz.
type QuizStatistics struct {
	QuizID            int64   `json:"quizId"`
	TotalEvaluations  int     `json:"totalEvaluations"`
	AverageScore      float64 `json:"averageScore"`
	AverageSimilarity float64 `json:"averageSimilarity"`
	HighestScore      float64 `json:"highestScore"`
	LowestScore       float64 `json:"lowestScore"`
}
