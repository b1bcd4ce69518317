package evaluation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

type fakeNormalizer struct {
	calls int
	err   error
}

func (f *fakeNormalizer) Normalize(_ context.Context, payload string, attemptID, questionID int64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if payload == "" {
		return "", nil
	}
	return fmt.Sprintf("attempt_%d_q%d_1.wav", attemptID, questionID), nil
}

func (f *fakeNormalizer) Path(filename string) string {
	return filepath.Join("/audio", filename)
}

type fakeTranscriber struct {
	text  string
	err   error
	paths []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	return f.text, f.err
}

func TestIntakeSubmit(t *testing.T) {
	s := newTestStore(t)
	quizID := createTestQuiz(t, s)
	norm := &fakeNormalizer{}
	tr := &fakeTranscriber{text: "  an object keeps moving  "}
	in := NewIntake(NewRecorder(s), norm, tr)

	sub, err := in.Submit(context.Background(), SubmitRequest{
		StudentID: 7, QuizID: quizID, QuestionID: 1, AttemptID: 42, Audio: "UklGRg==",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.AudioPath != "attempt_42_q1_1.wav" {
		t.Errorf("AudioPath = %q", sub.AudioPath)
	}
	if sub.TranscribedAnswer != "an object keeps moving" {
		t.Errorf("TranscribedAnswer = %q", sub.TranscribedAnswer)
	}
	if len(tr.paths) != 1 || tr.paths[0] != "/audio/attempt_42_q1_1.wav" {
		t.Errorf("transcribed paths = %v", tr.paths)
	}
}

func TestIntakeSubmitWithoutAudio(t *testing.T) {
	s := newTestStore(t)
	quizID := createTestQuiz(t, s)
	tr := &fakeTranscriber{text: "unused"}
	in := NewIntake(NewRecorder(s), &fakeNormalizer{}, tr)

	sub, err := in.Submit(context.Background(), SubmitRequest{StudentID: 7, QuizID: quizID, QuestionID: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.AudioPath != "" || sub.TranscribedAnswer != "" {
		t.Errorf("got %+v, want empty audio and transcript", sub)
	}
	if len(tr.paths) != 0 {
		t.Errorf("transcriber called for missing audio: %v", tr.paths)
	}
}

func TestIntakeSubmitAttemptDefaultsToStudent(t *testing.T) {
	s := newTestStore(t)
	quizID := createTestQuiz(t, s)
	in := NewIntake(NewRecorder(s), &fakeNormalizer{}, &fakeTranscriber{text: "x"})

	sub, err := in.Submit(context.Background(), SubmitRequest{StudentID: 9, QuizID: quizID, QuestionID: 2, Audio: "AAAA"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.AudioPath != "attempt_9_q2_1.wav" {
		t.Errorf("AudioPath = %q, want attempt_9_q2_1.wav", sub.AudioPath)
	}
}

func TestIntakeSubmitErrors(t *testing.T) {
	s := newTestStore(t)
	quizID := createTestQuiz(t, s)
	ctx := context.Background()

	tests := []struct {
		name          string
		req           SubmitRequest
		transcribeErr error
		want          error
		normalized    bool
	}{
		{"zero student", SubmitRequest{QuizID: quizID, QuestionID: 1}, nil, ErrInvalidInput, false},
		{"unknown quiz", SubmitRequest{StudentID: 7, QuizID: 999, QuestionID: 1, Audio: "AAAA"}, nil, ErrQuizNotFound, false},
		{"unknown question", SubmitRequest{StudentID: 7, QuizID: quizID, QuestionID: 5, Audio: "AAAA"}, nil, ErrUnknownQuestion, false},
		{"transcription failure", SubmitRequest{StudentID: 7, QuizID: quizID, QuestionID: 1, Audio: "AAAA"}, errors.New("asr down"), ErrTranscription, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm := &fakeNormalizer{}
			in := NewIntake(NewRecorder(s), norm, &fakeTranscriber{err: tt.transcribeErr})
			_, err := in.Submit(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := norm.calls > 0; got != tt.normalized {
				t.Errorf("normalizer called = %v, want %v", got, tt.normalized)
			}
		})
	}

	subs, err := s.ListSubmissions(ctx, 7, quizID)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("failed submits stored %d rows", len(subs))
	}
}
