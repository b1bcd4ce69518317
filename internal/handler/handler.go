package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/voicequiz/internal/evaluation"
	appI18n "github.com/pavelanni/voicequiz/internal/i18n"
	"github.com/pavelanni/voicequiz/internal/model"
	"github.com/pavelanni/voicequiz/internal/store"
)

// maxBodyBytes bounds request bodies; base64 audio dominates the size.
const maxBodyBytes = 32 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store      *store.Store
	intake     *evaluation.Intake
	aggregator *evaluation.Aggregator
}

// New creates a new Handler.
func New(s *store.Store, in *evaluation.Intake, agg *evaluation.Aggregator) *Handler {
	return &Handler{store: s, intake: in, aggregator: agg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/quizzes", func(r chi.Router) {
		r.Post("/", h.handleCreateQuiz)
		r.Route("/{quizID}", func(r chi.Router) {
			r.Get("/", h.handleGetQuiz)
			r.Post("/submissions", h.handleSubmit)
			r.Post("/students/{studentID}/evaluation", h.handleEvaluate)
			r.Get("/students/{studentID}/evaluation", h.handleGetEvaluation)
			r.Get("/evaluations", h.handleListEvaluations)
			r.Get("/statistics", h.handleStatistics)
		})
	})
}

func (h *Handler) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var in model.QuizImport
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	quiz := model.Quiz{
		Title:     in.Title,
		Published: in.Published,
		Questions: in.Questions,
		Answers:   in.Answers,
	}
	if err := quiz.Validate(); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", evaluation.ErrInvalidInput, err), nil)
		return
	}

	id, err := h.store.CreateQuiz(r.Context(), quiz)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	created, err := h.store.GetQuiz(r.Context(), id)
	if err != nil || created == nil {
		h.writeError(w, r, fmt.Errorf("reload quiz %d: %v", id, err), nil)
		return
	}
	slog.Info("created quiz", "quiz_id", id, "title", quiz.Title, "questions", len(quiz.Questions))
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, err := pathID(r, "quizID")
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	params := map[string]any{"QuizID": quizID}
	quiz, err := h.store.GetQuiz(r.Context(), quizID)
	if err != nil {
		h.writeError(w, r, err, params)
		return
	}
	if quiz == nil {
		h.writeError(w, r, evaluation.ErrQuizNotFound, params)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type submitRequest struct {
	StudentID  int64  `json:"studentId"`
	QuestionID int64  `json:"questionId"`
	AttemptID  int64  `json:"attemptId"`
	Audio      string `json:"audio"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	quizID, err := pathID(r, "quizID")
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}

	sub, err := h.intake.Submit(r.Context(), evaluation.SubmitRequest{
		StudentID:  req.StudentID,
		QuizID:     quizID,
		QuestionID: req.QuestionID,
		AttemptID:  req.AttemptID,
		Audio:      req.Audio,
	})
	if err != nil {
		h.writeError(w, r, err, map[string]any{"QuizID": quizID, "QuestionID": req.QuestionID})
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	quizID, studentID, err := quizAndStudent(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	ev, err := h.aggregator.Evaluate(r.Context(), studentID, quizID)
	if err != nil {
		h.writeError(w, r, err, map[string]any{"QuizID": quizID, "StudentID": studentID})
		return
	}
	writeJSON(w, http.StatusOK, newEvaluationView(r, ev))
}

func (h *Handler) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	quizID, studentID, err := quizAndStudent(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	ev, err := h.aggregator.Evaluation(r.Context(), studentID, quizID)
	if err != nil {
		h.writeError(w, r, err, map[string]any{"QuizID": quizID, "StudentID": studentID})
		return
	}
	writeJSON(w, http.StatusOK, newEvaluationView(r, *ev))
}

func (h *Handler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	quizID, err := pathID(r, "quizID")
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	params := map[string]any{"QuizID": quizID}
	quiz, err := h.store.GetQuiz(r.Context(), quizID)
	if err != nil {
		h.writeError(w, r, err, params)
		return
	}
	if quiz == nil {
		h.writeError(w, r, evaluation.ErrQuizNotFound, params)
		return
	}
	evs, err := h.aggregator.Evaluations(r.Context(), quizID)
	if err != nil {
		h.writeError(w, r, err, params)
		return
	}
	views := make([]evaluationView, 0, len(evs))
	for _, ev := range evs {
		views = append(views, newEvaluationView(r, ev))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	quizID, err := pathID(r, "quizID")
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	st, err := h.aggregator.Statistics(r.Context(), quizID)
	if err != nil {
		h.writeError(w, r, err, map[string]any{"QuizID": quizID})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type resultView struct {
	model.QuestionResult
	TierLabel string `json:"tierLabel"`
}

// evaluationView adds localized tier labels to an evaluation.
type evaluationView struct {
	model.Evaluation
	QuestionResults []resultView `json:"questionResults"`
}

func newEvaluationView(r *http.Request, ev model.Evaluation) evaluationView {
	v := evaluationView{Evaluation: ev, QuestionResults: make([]resultView, len(ev.QuestionResults))}
	for i, qr := range ev.QuestionResults {
		v.QuestionResults[i] = resultView{QuestionResult: qr, TierLabel: appI18n.TierLabel(r.Context(), qr.Tier)}
	}
	return v
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad %s %q", evaluation.ErrInvalidInput, name, raw)
	}
	return id, nil
}

func quizAndStudent(r *http.Request) (quizID, studentID int64, err error) {
	if quizID, err = pathID(r, "quizID"); err != nil {
		return 0, 0, err
	}
	if studentID, err = pathID(r, "studentID"); err != nil {
		return 0, 0, err
	}
	return quizID, studentID, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", evaluation.ErrInvalidInput, err)
	}
	return nil
}
