package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/voicequiz/internal/grading"
	"github.com/pavelanni/voicequiz/internal/metrics"
	"github.com/pavelanni/voicequiz/internal/model"
	"github.com/pavelanni/voicequiz/internal/store"
)

// Scorer measures how close a candidate answer is to a reference answer.
// Results are in [0,1] and must be deterministic for the same pair.
type Scorer interface {
	Score(ctx context.Context, candidate, reference string) (float64, error)
}

// Aggregator grades a student's latest submissions and keeps one evaluation
// per student and quiz.
type Aggregator struct {
	store   *store.Store
	scorer  Scorer
	metrics *metrics.Metrics

	// Concurrency caps parallel scorer calls within one evaluation; 0 means one per question.
	Concurrency int
}

// NewAggregator creates an Aggregator. m may be nil.
func NewAggregator(s *store.Store, sc Scorer, m *metrics.Metrics) *Aggregator {
	return &Aggregator{store: s, scorer: sc, metrics: m}
}

// Evaluate grades the most recent submission for every question of the quiz
// and upserts the evaluation. Questions without a submission get no credit.
// If any scorer call fails nothing is written.
func (a *Aggregator) Evaluate(ctx context.Context, studentID, quizID int64) (ev model.Evaluation, err error) {
	start := time.Now()
	defer func() { a.metrics.EvaluationDone(err, time.Since(start)) }()

	quiz, err := a.store.GetQuiz(ctx, quizID)
	if err != nil {
		return ev, fmt.Errorf("get quiz %d: %w", quizID, err)
	}
	if quiz == nil {
		return ev, fmt.Errorf("quiz %d: %w", quizID, ErrQuizNotFound)
	}

	subs, err := a.store.LatestSubmissions(ctx, studentID, quizID)
	if err != nil {
		return ev, fmt.Errorf("latest submissions: %w", err)
	}
	if len(subs) == 0 {
		return ev, fmt.Errorf("student %d, quiz %d: %w", studentID, quizID, ErrNoSubmissions)
	}
	latest := make(map[int64]model.Submission, len(subs))
	for _, s := range subs {
		latest[s.QuestionID] = s
	}

	results, err := a.gradeAll(ctx, *quiz, latest)
	if err != nil {
		return ev, err
	}

	ev = model.Evaluation{
		StudentID:       studentID,
		QuizID:          quizID,
		QuestionResults: results,
		TotalSimilarity: meanSimilarity(results),
		TotalMarks:      sumMarks(results),
	}
	id, err := a.store.UpsertEvaluation(ctx, ev)
	if err != nil {
		return ev, fmt.Errorf("upsert evaluation: %w", err)
	}

	saved, err := a.store.GetEvaluation(ctx, studentID, quizID)
	if err != nil {
		return ev, fmt.Errorf("reload evaluation %d: %w", id, err)
	}
	if saved != nil {
		ev = *saved
	}
	slog.Info("evaluated quiz attempt",
		"evaluation_id", id, "student_id", studentID, "quiz_id", quizID,
		"questions", len(results), "total_marks", ev.TotalMarks, "total_similarity", ev.TotalSimilarity)
	return ev, nil
}

// gradeAll scores every question concurrently. Results keep the quiz's question order.
func (a *Aggregator) gradeAll(ctx context.Context, quiz model.Quiz, latest map[int64]model.Submission) ([]model.QuestionResult, error) {
	results := make([]model.QuestionResult, len(quiz.Questions))

	g, gctx := errgroup.WithContext(ctx)
	if a.Concurrency > 0 {
		g.SetLimit(a.Concurrency)
	}
	for i, q := range quiz.Questions {
		sub, answered := latest[q.ID]
		g.Go(func() error {
			r, err := a.gradeOne(gctx, quiz, q, sub, answered)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Aggregator) gradeOne(ctx context.Context, quiz model.Quiz, q model.Question, sub model.Submission, answered bool) (model.QuestionResult, error) {
	res := model.QuestionResult{QuestionID: q.ID, MaxPoints: q.Points}
	answer := ""
	if answered {
		answer = strings.TrimSpace(sub.TranscribedAnswer)
	}
	res.ActualAnswer = answer

	similarity := 0.0
	if answer != "" {
		ref, ok := quiz.ReferenceAnswer(q.ID)
		if !ok {
			return res, fmt.Errorf("quiz %d has no reference answer for question %d", quiz.ID, q.ID)
		}
		s, err := a.scorer.Score(ctx, answer, ref.Answer)
		if err != nil {
			return res, fmt.Errorf("%w: question %d: %v", ErrScoring, q.ID, err)
		}
		if math.IsNaN(s) || s < 0 || s > 1 {
			return res, fmt.Errorf("%w: question %d: similarity %v outside [0,1]", ErrScoring, q.ID, s)
		}
		similarity = s
	}

	g := grading.Grade(similarity, q.Points)
	res.SimilarityScore = similarity
	res.MarksAwarded = g.Points
	res.Tier = g.Tier
	return res, nil
}

// Statistics summarizes all evaluations of a quiz.
func (a *Aggregator) Statistics(ctx context.Context, quizID int64) (model.QuizStatistics, error) {
	quiz, err := a.store.GetQuiz(ctx, quizID)
	if err != nil {
		return model.QuizStatistics{}, fmt.Errorf("get quiz %d: %w", quizID, err)
	}
	if quiz == nil {
		return model.QuizStatistics{}, fmt.Errorf("quiz %d: %w", quizID, ErrQuizNotFound)
	}
	return a.store.QuizStatistics(ctx, quizID)
}

// Evaluation returns the stored evaluation for a student's quiz.
func (a *Aggregator) Evaluation(ctx context.Context, studentID, quizID int64) (*model.Evaluation, error) {
	ev, err := a.store.GetEvaluation(ctx, studentID, quizID)
	if err != nil {
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	if ev == nil {
		return nil, fmt.Errorf("student %d, quiz %d: %w", studentID, quizID, ErrNotEvaluated)
	}
	return ev, nil
}

// Evaluations lists every evaluation of a quiz.
func (a *Aggregator) Evaluations(ctx context.Context, quizID int64) ([]model.Evaluation, error) {
	return a.store.ListEvaluations(ctx, quizID)
}

func meanSimilarity(results []model.QuestionResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.SimilarityScore
	}
	return sum / float64(len(results))
}

func sumMarks(results []model.QuestionResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.MarksAwarded
	}
	return sum
}
