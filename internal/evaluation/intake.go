package evaluation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/voicequiz/internal/model"
)

// Transcriber turns a stored audio artifact into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Normalizer stores raw answer audio and returns the artifact filename,
// or "" when no usable audio was supplied.
type Normalizer interface {
	Normalize(ctx context.Context, payload string, attemptID, questionID int64) (string, error)
	Path(filename string) string
}

// SubmitRequest is one spoken answer as received from a student.
type SubmitRequest struct {
	StudentID  int64
	QuizID     int64
	QuestionID int64
	AttemptID  int64  // names the audio artifact; defaults to StudentID
	Audio      string // base64, optionally a data URL; empty means no audio
}

// Intake runs a spoken answer through normalization, transcription and recording.
type Intake struct {
	recorder    *Recorder
	normalizer  Normalizer
	transcriber Transcriber
}

// NewIntake creates an Intake.
func NewIntake(r *Recorder, n Normalizer, t Transcriber) *Intake {
	return &Intake{recorder: r, normalizer: n, transcriber: t}
}

// Submit stores the audio, transcribes it and records the submission.
// Missing audio is recorded with an empty transcript. A transcription error
// is returned wrapped in ErrTranscription and nothing is recorded.
func (in *Intake) Submit(ctx context.Context, req SubmitRequest) (model.Submission, error) {
	if req.StudentID <= 0 || req.QuizID <= 0 || req.QuestionID <= 0 {
		return model.Submission{}, fmt.Errorf("student, quiz and question ids must be positive: %w", ErrInvalidInput)
	}
	// Reject unknown questions before any audio is written.
	if _, err := in.recorder.question(ctx, req.QuizID, req.QuestionID); err != nil {
		return model.Submission{}, err
	}

	attemptID := req.AttemptID
	if attemptID == 0 {
		attemptID = req.StudentID
	}

	audioPath, err := in.normalizer.Normalize(ctx, req.Audio, attemptID, req.QuestionID)
	if err != nil {
		return model.Submission{}, fmt.Errorf("store audio: %w", err)
	}

	var transcript string
	if audioPath != "" {
		transcript, err = in.transcriber.Transcribe(ctx, in.normalizer.Path(audioPath))
		if err != nil {
			slog.Error("transcription failed",
				"student_id", req.StudentID, "quiz_id", req.QuizID, "question_id", req.QuestionID,
				"audio", audioPath, "error", err)
			return model.Submission{}, fmt.Errorf("%w: %v", ErrTranscription, err)
		}
	}

	return in.recorder.Record(ctx, req.StudentID, req.QuizID, req.QuestionID, audioPath, transcript)
}
