package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/voicequiz/internal/evaluation"
	appI18n "github.com/pavelanni/voicequiz/internal/i18n"
	"github.com/pavelanni/voicequiz/internal/model"
	"github.com/pavelanni/voicequiz/internal/store"
)

// stubAudio stores nothing and names the artifact after its payload.
type stubAudio struct{}

func (stubAudio) Normalize(_ context.Context, payload string, attemptID, questionID int64) (string, error) {
	if payload == "" {
		return "", nil
	}
	return fmt.Sprintf("attempt_%d_q%d_1.wav", attemptID, questionID), nil
}

func (stubAudio) Path(name string) string { return name }

// echoTranscriber "hears" the artifact name.
type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	return "answer " + path, nil
}

// constScorer scores every answer the same.
type constScorer float64

func (c constScorer) Score(context.Context, string, string) (float64, error) {
	return float64(c), nil
}

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rec := evaluation.NewRecorder(s)
	h := New(s,
		evaluation.NewIntake(rec, stubAudio{}, echoTranscriber{}),
		evaluation.NewAggregator(s, constScorer(0.88), nil),
	)
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	return r, s
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const quizJSON = `{
	"title": "Physics",
	"published": true,
	"questions": [
		{"id": 1, "text": "What is inertia?", "points": 10},
		{"id": 2, "text": "State Ohm's law.", "points": 15}
	],
	"answers": [
		{"questionId": 1, "answer": "Resistance to change in motion."},
		{"questionId": 2, "answer": "V = IR"}
	]
}`

func createQuiz(t *testing.T, h http.Handler) int64 {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/quizzes", quizJSON)
	if w.Code != http.StatusCreated {
		t.Fatalf("create quiz: status %d, body %s", w.Code, w.Body)
	}
	var q model.Quiz
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode quiz: %v", err)
	}
	return q.ID
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body, err)
	}
	return e
}

func TestQuizRoutes(t *testing.T) {
	h, _ := newTestRouter(t)
	id := createQuiz(t, h)

	w := do(t, h, http.MethodGet, fmt.Sprintf("/api/quizzes/%d", id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get quiz: status %d", w.Code)
	}
	var q model.Quiz
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.Title != "Physics" || len(q.Questions) != 2 || q.MaxMarks() != 25 {
		t.Errorf("got %+v", q)
	}
}

func TestCreateQuizInvalid(t *testing.T) {
	h, _ := newTestRouter(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"title":`},
		{"unknown field", `{"title":"x","bogus":1}`},
		{"no questions", `{"title":"x","questions":[],"answers":[]}`},
		{"unanswered question", `{"title":"x","questions":[{"id":1,"text":"q","points":1}],"answers":[{"questionId":2,"answer":"a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/quizzes", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if e := decodeError(t, w); e.Kind != evaluation.KindInvalidInput {
				t.Errorf("kind = %s", e.Kind)
			}
		})
	}
}

func TestSubmitAndEvaluate(t *testing.T) {
	h, _ := newTestRouter(t)
	id := createQuiz(t, h)
	base := fmt.Sprintf("/api/quizzes/%d", id)

	for _, q := range []int64{1, 2} {
		body := fmt.Sprintf(`{"studentId":7,"questionId":%d,"audio":"UklGRg=="}`, q)
		w := do(t, h, http.MethodPost, base+"/submissions", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("submit q%d: status %d, body %s", q, w.Code, w.Body)
		}
		var sub model.Submission
		if err := json.Unmarshal(w.Body.Bytes(), &sub); err != nil {
			t.Fatalf("decode submission: %v", err)
		}
		if want := fmt.Sprintf("answer attempt_7_q%d_1.wav", q); sub.TranscribedAnswer != want {
			t.Errorf("transcript = %q, want %q", sub.TranscribedAnswer, want)
		}
	}

	w := do(t, h, http.MethodPost, base+"/students/7/evaluation", "")
	if w.Code != http.StatusOK {
		t.Fatalf("evaluate: status %d, body %s", w.Code, w.Body)
	}
	var ev evaluationView
	if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode evaluation: %v", err)
	}
	if ev.TotalMarks != 25 || len(ev.QuestionResults) != 2 {
		t.Errorf("evaluation = %+v", ev)
	}
	if ev.QuestionResults[0].TierLabel != "Full Credit" {
		t.Errorf("tier label = %q", ev.QuestionResults[0].TierLabel)
	}

	w = do(t, h, http.MethodGet, base+"/students/7/evaluation", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get evaluation: status %d", w.Code)
	}

	w = do(t, h, http.MethodGet, base+"/evaluations", "")
	var list []evaluationView
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list evaluations: %v, %s", err, w.Body)
	}

	w = do(t, h, http.MethodGet, base+"/statistics", "")
	var st model.QuizStatistics
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.TotalEvaluations != 1 || st.AverageScore != 25 {
		t.Errorf("stats = %+v", st)
	}
}

func TestErrorResponses(t *testing.T) {
	h, _ := newTestRouter(t)
	id := createQuiz(t, h)
	base := fmt.Sprintf("/api/quizzes/%d", id)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		header  []string
		status  int
		kind    evaluation.Kind
		message string
	}{
		{"quiz not found", http.MethodGet, "/api/quizzes/999", "", nil,
			http.StatusNotFound, evaluation.KindQuizNotFound, "Quiz 999 was not found."},
		{"bad quiz id", http.MethodGet, "/api/quizzes/abc", "", nil,
			http.StatusBadRequest, evaluation.KindInvalidInput, `The request is invalid: bad quizID "abc"`},
		{"unknown question", http.MethodPost, base + "/submissions", `{"studentId":7,"questionId":9}`, nil,
			http.StatusUnprocessableEntity, evaluation.KindUnknownQuestion, fmt.Sprintf("Question 9 is not part of quiz %d.", id)},
		{"no submissions", http.MethodPost, base + "/students/8/evaluation", "", nil,
			http.StatusConflict, evaluation.KindNoSubmissions, "There are no submissions to grade for this quiz."},
		{"not evaluated", http.MethodGet, base + "/students/8/evaluation", "", nil,
			http.StatusNotFound, evaluation.KindNotEvaluated, fmt.Sprintf("Student 8 has no evaluation for quiz %d.", id)},
		{"localized", http.MethodGet, "/api/quizzes/999/statistics", "", []string{"Accept-Language", "ru"},
			http.StatusNotFound, evaluation.KindQuizNotFound, "Тест 999 не найден."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body, tt.header...)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body)
			}
			e := decodeError(t, w)
			if e.Kind != tt.kind || e.Message != tt.message {
				t.Errorf("got %+v, want kind %s message %q", e, tt.kind, tt.message)
			}
		})
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", &bytes.Buffer{})
	(&Handler{}).writeError(w, r, fmt.Errorf("database is locked"), nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	e := decodeError(t, w)
	if e.Kind != evaluation.KindInternal || strings.Contains(e.Message, "locked") {
		t.Errorf("got %+v", e)
	}
}
