package store

import (
	"context"
	"database/sql"
)

// SetImportedFileHash records the content hash of an imported quiz file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	return s.setImportedFileHash(ctx, s.db, path, hash)
}

func (s *Store) setImportedFileHash(ctx context.Context, ex execer, path, hash string) error {
	now := s.now().UnixNano()
	_, err := ex.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?, imported_at = ?`,
		path, hash, now, hash, now,
	)
	return err
}

// GetImportedFileHash returns the stored hash for a quiz file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}
