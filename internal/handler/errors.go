package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/voicequiz/internal/evaluation"
	appI18n "github.com/pavelanni/voicequiz/internal/i18n"
)

var kindStatus = map[evaluation.Kind]int{
	evaluation.KindInvalidInput:    http.StatusBadRequest,
	evaluation.KindQuizNotFound:    http.StatusNotFound,
	evaluation.KindUnknownQuestion: http.StatusUnprocessableEntity,
	evaluation.KindNotEvaluated:    http.StatusNotFound,
	evaluation.KindNoSubmissions:   http.StatusConflict,
	evaluation.KindScoring:         http.StatusBadGateway,
	evaluation.KindTranscription:   http.StatusBadGateway,
	evaluation.KindInternal:        http.StatusInternalServerError,
}

var kindMessage = map[evaluation.Kind]string{
	evaluation.KindInvalidInput:    "ErrInvalidInput",
	evaluation.KindQuizNotFound:    "ErrQuizNotFound",
	evaluation.KindUnknownQuestion: "ErrUnknownQuestion",
	evaluation.KindNotEvaluated:    "ErrEvaluationNotFound",
	evaluation.KindNoSubmissions:   "ErrNoSubmissions",
	evaluation.KindScoring:         "ErrScoring",
	evaluation.KindTranscription:   "ErrTranscription",
	evaluation.KindInternal:        "ErrInternal",
}

type errorResponse struct {
	Kind    evaluation.Kind `json:"kind"`
	Message string          `json:"message"`
}

// writeError reports err as {kind, message}. The message is localized and
// never exposes internal error text.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, params map[string]any) {
	kind := evaluation.KindOf(err)
	status := kindStatus[kind]

	data := map[string]any{}
	for k, v := range params {
		data[k] = v
	}
	if kind == evaluation.KindInvalidInput {
		data["Detail"] = invalidDetail(err)
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, errorResponse{Kind: kind, Message: appI18n.Td(r.Context(), kindMessage[kind], data)})
}

// invalidDetail returns the text after the invalid-input sentinel.
func invalidDetail(err error) string {
	_, detail, found := strings.Cut(err.Error(), evaluation.ErrInvalidInput.Error()+": ")
	if !found {
		return err.Error()
	}
	return detail
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
