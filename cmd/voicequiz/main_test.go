package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/voicequiz/internal/store"
)

const quizFile = `[
  {
    "title": "Mechanics",
    "published": true,
    "questions": [
      {"id": 1, "text": "What is inertia?", "points": 10},
      {"id": 2, "text": "State Newton's second law.", "points": 5}
    ],
    "answers": [
      {"questionId": 1, "answer": "The tendency of a body to resist changes in motion."},
      {"questionId": 2, "answer": "Force equals mass times acceleration."}
    ]
  }
]`

func TestLoadQuizzesImportsOnce(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "quizzes.json")
	if err := os.WriteFile(path, []byte(quizFile), 0o644); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if err := loadQuizzes(ctx, db, []string{path}); err != nil {
			t.Fatalf("loadQuizzes: %v", err)
		}
	}
	count, err := db.QuizCount(ctx)
	if err != nil {
		t.Fatalf("QuizCount: %v", err)
	}
	if count != 1 {
		t.Errorf("quiz count = %d, want 1", count)
	}

	// A changed file is skipped, not re-imported.
	if err := os.WriteFile(path, []byte(quizFile+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := loadQuizzes(ctx, db, []string{path}); err != nil {
		t.Fatalf("loadQuizzes changed file: %v", err)
	}
	if count, _ := db.QuizCount(ctx); count != 1 {
		t.Errorf("quiz count after change = %d, want 1", count)
	}

	q, err := db.GetQuiz(ctx, 1)
	if err != nil || q == nil {
		t.Fatalf("GetQuiz: %v, %v", q, err)
	}
	if q.MaxMarks() != 15 {
		t.Errorf("MaxMarks = %v, want 15", q.MaxMarks())
	}
}

func TestLoadQuizzesRejectsInvalid(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer db.Close()

	path := filepath.Join(t.TempDir(), "bad.json")
	bad := `[{"title": "Broken", "questions": [{"id": 1, "text": "q", "points": 1}], "answers": []}]`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := loadQuizzes(context.Background(), db, []string{path}); err == nil {
		t.Fatal("expected validation error")
	}
	hash, err := db.GetImportedFileHash(context.Background(), path)
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Error("invalid file must not be recorded as imported")
	}
}

func TestLoadQuizzesIsAllOrNothing(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "mixed.json")
	mixed := `[
	  {"title": "Good", "questions": [{"id": 1, "text": "q", "points": 1}], "answers": [{"questionId": 1, "answer": "a"}]},
	  {"title": "Bad", "questions": [{"id": 1, "text": "q", "points": 1}], "answers": []}
	]`
	if err := os.WriteFile(path, []byte(mixed), 0o644); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if err := loadQuizzes(ctx, db, []string{path}); err == nil {
			t.Fatalf("load %d: expected validation error", attempt)
		}
		count, err := db.QuizCount(ctx)
		if err != nil {
			t.Fatalf("QuizCount: %v", err)
		}
		if count != 0 {
			t.Errorf("after load %d: quiz count = %d, want 0", attempt, count)
		}
	}
	if hash, _ := db.GetImportedFileHash(ctx, path); hash != "" {
		t.Error("rejected file must not be recorded as imported")
	}
}
