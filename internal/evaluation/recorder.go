// Package evaluation records spoken answers and grades quiz attempts.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/voicequiz/internal/model"
	"github.com/pavelanni/voicequiz/internal/store"
)

// Recorder appends submissions after checking the question belongs to the quiz.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a Recorder.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record stores one submission. A resubmission of the same question adds a
// new row; the newest one is used for grading.
func (r *Recorder) Record(ctx context.Context, studentID, quizID, questionID int64, audioPath, transcript string) (model.Submission, error) {
	if _, err := r.question(ctx, quizID, questionID); err != nil {
		return model.Submission{}, err
	}

	sub, err := r.store.InsertSubmission(ctx, model.Submission{
		StudentID:         studentID,
		QuizID:            quizID,
		QuestionID:        questionID,
		AudioPath:         audioPath,
		TranscribedAnswer: strings.TrimSpace(transcript),
	})
	if err != nil {
		return model.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	slog.Info("recorded submission",
		"id", sub.ID, "student_id", studentID, "quiz_id", quizID, "question_id", questionID,
		"has_audio", audioPath != "", "transcript_len", len(sub.TranscribedAnswer))
	return sub, nil
}

func (r *Recorder) question(ctx context.Context, quizID, questionID int64) (model.Question, error) {
	quiz, err := r.store.GetQuiz(ctx, quizID)
	if err != nil {
		return model.Question{}, fmt.Errorf("get quiz %d: %w", quizID, err)
	}
	if quiz == nil {
		return model.Question{}, fmt.Errorf("quiz %d: %w", quizID, ErrQuizNotFound)
	}
	q, ok := quiz.Question(questionID)
	if !ok {
		return model.Question{}, fmt.Errorf("question %d of quiz %d: %w", questionID, quizID, ErrUnknownQuestion)
	}
	return q, nil
}
