package model

import "time"

// QuizExport is the top-level JSON structure for a quiz results report.
type QuizExport struct {
	QuizID      int64          `json:"quizId"`
	Title       string         `json:"title"`
	ExportedAt  time.Time      `json:"exportedAt"`
	MaxMarks    float64        `json:"maxMarks"`
	Statistics  QuizStatistics `json:"statistics"`
	Evaluations []Evaluation   `json:"evaluations"`
}

// QuizImport is used for loading quizzes from JSON files.
type QuizImport struct {
	Title     string            `json:"title"`
	Published bool              `json:"published"`
	Questions []Question        `json:"questions"`
	Answers   []ReferenceAnswer `json:"answers"`
}
