// Package history persists a record of completed and failed download
// requests in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ytgrab-proxy/work/logger"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Entry is one recorded download request.
type Entry struct {
	ID        int64     `json:"id"`
	VideoID   string    `json:"video_id"`
	Title     string    `json:"title"`
	Quality   string    `json:"quality"`
	Mode      string    `json:"mode"` // "direct" or "merge"
	SizeBytes int64     `json:"size_bytes"`
	Outcome   string    `json:"outcome"` // "ok" or the error kind
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the history database. A nil *Store is a valid no-op store, so
// callers never have to guard the history-disabled case.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path with WAL journaling.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("{history - Open} history database ready at %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS download_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			video_id   TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			quality    TEXT NOT NULL DEFAULT '',
			mode       TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			outcome    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_history_created ON download_history(created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("history migration failed: %w", err)
	}
	return nil
}

// Record inserts one history entry. Failures are logged, not returned; a
// broken history database must never fail a download.
func (s *Store) Record(ctx context.Context, e Entry) {
	if s == nil {
		return
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO download_history (video_id, title, quality, mode, size_bytes, outcome)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.VideoID, e.Title, e.Quality, e.Mode, e.SizeBytes, e.Outcome)
	if err != nil {
		logger.Warn("{history - Record} insert failed for %s: %v", e.VideoID, err)
	}
}

// Recent returns the newest n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, video_id, title, quality, mode, size_bytes, outcome, created_at
		 FROM download_history ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.VideoID, &e.Title, &e.Quality, &e.Mode, &e.SizeBytes, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
