package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/voicequiz/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quizzes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		published INTEGER NOT NULL DEFAULT 0,
		questions_json TEXT NOT NULL,
		answers_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		quiz_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		audio_path TEXT NOT NULL DEFAULT '',
		transcribed_answer TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id)
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_latest
		ON submissions (student_id, quiz_id, question_id, created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		quiz_id INTEGER NOT NULL,
		results_json TEXT NOT NULL,
		total_similarity REAL NOT NULL DEFAULT 0,
		total_marks REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (student_id, quiz_id),
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateQuiz stores a quiz with its questions and reference answers embedded as JSON.
func (s *Store) CreateQuiz(ctx context.Context, q model.Quiz) (int64, error) {
	return s.createQuiz(ctx, s.db, q)
}

func (s *Store) createQuiz(ctx context.Context, ex execer, q model.Quiz) (int64, error) {
	qj, err := json.Marshal(q.Questions)
	if err != nil {
		return 0, fmt.Errorf("marshal questions: %w", err)
	}
	aj, err := json.Marshal(q.Answers)
	if err != nil {
		return 0, fmt.Errorf("marshal answers: %w", err)
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO quizzes (title, published, questions_json, answers_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		q.Title, q.Published, string(qj), string(aj), s.now().UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ImportQuizzes inserts every quiz from one file and records the file's hash
// in a single transaction. Either all quizzes and the hash are stored or none.
func (s *Store) ImportQuizzes(ctx context.Context, path, hash string, quizzes []model.Quiz) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(quizzes))
	for i, q := range quizzes {
		id, err := s.createQuiz(ctx, tx, q)
		if err != nil {
			return nil, fmt.Errorf("insert quiz %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	if err := s.setImportedFileHash(ctx, tx, path, hash); err != nil {
		return nil, fmt.Errorf("record import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return ids, nil
}

// GetQuiz returns a quiz by ID, or nil if it does not exist.
func (s *Store) GetQuiz(ctx context.Context, id int64) (*model.Quiz, error) {
	var (
		q          model.Quiz
		qj, aj     string
		createdAtN int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, published, questions_json, answers_json, created_at FROM quizzes WHERE id = ?`, id,
	).Scan(&q.ID, &q.Title, &q.Published, &qj, &aj, &createdAtN)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(qj), &q.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of quiz %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(aj), &q.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of quiz %d: %w", id, err)
	}
	q.CreatedAt = time.Unix(0, createdAtN)
	return &q, nil
}

// QuizCount returns the number of quizzes in the database.
func (s *Store) QuizCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quizzes`).Scan(&count)
	return count, err
}

// InsertSubmission appends a submission row. Existing rows are never updated.
func (s *Store) InsertSubmission(ctx context.Context, sub model.Submission) (model.Submission, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (student_id, quiz_id, question_id, audio_path, transcribed_answer, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.StudentID, sub.QuizID, sub.QuestionID, sub.AudioPath, sub.TranscribedAnswer, sub.CreatedAt.UnixNano(),
	)
	if err != nil {
		return sub, err
	}
	sub.ID, err = res.LastInsertId()
	return sub, err
}

// ListSubmissions returns every submission of a student for a quiz, oldest first.
func (s *Store) ListSubmissions(ctx context.Context, studentID, quizID int64) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student_id, quiz_id, question_id, audio_path, transcribed_answer, created_at
		 FROM submissions WHERE student_id = ? AND quiz_id = ?
		 ORDER BY created_at, id`, studentID, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// LatestSubmissions returns the most recent submission per question for a
// student's quiz attempt. Recency is the creation timestamp; equal
// timestamps fall back to the higher row ID.
func (s *Store) LatestSubmissions(ctx context.Context, studentID, quizID int64) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student_id, quiz_id, question_id, audio_path, transcribed_answer, created_at
		 FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY question_id ORDER BY created_at DESC, id DESC
			) AS rn
			FROM submissions WHERE student_id = ? AND quiz_id = ?
		 ) WHERE rn = 1
		 ORDER BY question_id`, studentID, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

func scanSubmissions(rows *sql.Rows) ([]model.Submission, error) {
	var subs []model.Submission
	for rows.Next() {
		var (
			sub        model.Submission
			createdAtN int64
		)
		if err := rows.Scan(&sub.ID, &sub.StudentID, &sub.QuizID, &sub.QuestionID, &sub.AudioPath, &sub.TranscribedAnswer, &createdAtN); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.Unix(0, createdAtN)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpsertEvaluation inserts the evaluation for (student, quiz) or replaces the
// results and totals of the existing one. The unique key on the pair makes
// concurrent writers converge on one row; the last write wins. updated_at
// only moves when the stored content changes, so re-grading unchanged
// submissions leaves the row identical.
func (s *Store) UpsertEvaluation(ctx context.Context, ev model.Evaluation) (int64, error) {
	rj, err := json.Marshal(ev.QuestionResults)
	if err != nil {
		return 0, fmt.Errorf("marshal results: %w", err)
	}
	now := s.now().UnixNano()
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO evaluations (student_id, quiz_id, results_json, total_similarity, total_marks, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, quiz_id) DO UPDATE SET
			results_json = excluded.results_json,
			total_similarity = excluded.total_similarity,
			total_marks = excluded.total_marks,
			updated_at = CASE
				WHEN results_json IS excluded.results_json
					AND total_similarity IS excluded.total_similarity
					AND total_marks IS excluded.total_marks
				THEN updated_at
				ELSE excluded.updated_at
			END
		 RETURNING id`,
		ev.StudentID, ev.QuizID, string(rj), ev.TotalSimilarity, ev.TotalMarks, now, now,
	).Scan(&id)
	return id, err
}

const evaluationColumns = `id, student_id, quiz_id, results_json, total_similarity, total_marks, created_at, updated_at`

// GetEvaluation returns the evaluation for a student's quiz, or nil if none exists.
func (s *Store) GetEvaluation(ctx context.Context, studentID, quizID int64) (*model.Evaluation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE student_id = ? AND quiz_id = ?`, studentID, quizID,
	)
	ev, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListEvaluations returns all evaluations for a quiz ordered by student.
func (s *Store) ListEvaluations(ctx context.Context, quizID int64) ([]model.Evaluation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE quiz_id = ? ORDER BY student_id`, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var evs []model.Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// EvaluationCount returns how many evaluation rows exist for a student's quiz.
func (s *Store) EvaluationCount(ctx context.Context, studentID, quizID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluations WHERE student_id = ? AND quiz_id = ?`, studentID, quizID,
	).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(r rowScanner) (model.Evaluation, error) {
	var (
		ev                   model.Evaluation
		rj                   string
		createdAtN, updatedN int64
	)
	if err := r.Scan(&ev.ID, &ev.StudentID, &ev.QuizID, &rj, &ev.TotalSimilarity, &ev.TotalMarks, &createdAtN, &updatedN); err != nil {
		return ev, err
	}
	if err := json.Unmarshal([]byte(rj), &ev.QuestionResults); err != nil {
		return ev, fmt.Errorf("decode results of evaluation %d: %w", ev.ID, err)
	}
	ev.CreatedAt = time.Unix(0, createdAtN)
	ev.UpdatedAt = time.Unix(0, updatedN)
	return ev, nil
}

// QuizStatistics aggregates totals over all evaluations of a quiz.
// A quiz without evaluations yields zero values.
func (s *Store) QuizStatistics(ctx context.Context, quizID int64) (model.QuizStatistics, error) {
	st := model.QuizStatistics{QuizID: quizID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(AVG(total_marks), 0),
			COALESCE(AVG(total_similarity), 0),
			COALESCE(MAX(total_marks), 0),
			COALESCE(MIN(total_marks), 0)
		 FROM evaluations WHERE quiz_id = ?`, quizID,
	).Scan(&st.TotalEvaluations, &st.AverageScore, &st.AverageSimilarity, &st.HighestScore, &st.LowestScore)
	return st, err
}
