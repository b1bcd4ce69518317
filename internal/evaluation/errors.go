package evaluation

import "errors"

// Sentinel errors returned by the recorder, intake and aggregator. Callers
// match them with errors.Is; KindOf maps them to a Kind.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrQuizNotFound    = errors.New("quiz not found")
	ErrUnknownQuestion = errors.New("question not in quiz")
	ErrNotEvaluated    = errors.New("evaluation not found")
	ErrNoSubmissions   = errors.New("no submissions to grade")
	ErrScoring         = errors.New("similarity scoring failed")
	ErrTranscription   = errors.New("transcription failed")
)

// Kind classifies an error for callers that report failures as kind + message.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindQuizNotFound    Kind = "quiz_not_found"
	KindUnknownQuestion Kind = "unknown_question"
	KindNotEvaluated    Kind = "evaluation_not_found"
	KindNoSubmissions   Kind = "no_submissions"
	KindScoring         Kind = "scoring_failed"
	KindTranscription   Kind = "transcription_failed"
	KindInternal        Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrQuizNotFound, KindQuizNotFound},
	{ErrUnknownQuestion, KindUnknownQuestion},
	{ErrNotEvaluated, KindNotEvaluated},
	{ErrNoSubmissions, KindNoSubmissions},
	{ErrScoring, KindScoring},
	{ErrTranscription, KindTranscription},
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
