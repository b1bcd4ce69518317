package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/voicequiz/internal/model"
)

// ExportQuiz builds a report with every evaluation of a quiz plus its statistics.
// Returns nil if the quiz does not exist.
func (s *Store) ExportQuiz(ctx context.Context, quizID int64) (*model.QuizExport, error) {
	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz %d: %w", quizID, err)
	}
	if quiz == nil {
		return nil, nil
	}

	evs, err := s.ListEvaluations(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	if evs == nil {
		evs = []model.Evaluation{}
	}

	stats, err := s.QuizStatistics(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("quiz statistics: %w", err)
	}

	return &model.QuizExport{
		QuizID:      quiz.ID,
		Title:       quiz.Title,
		ExportedAt:  s.now(),
		MaxMarks:    quiz.MaxMarks(),
		Statistics:  stats,
		Evaluations: evs,
	}, nil
}
