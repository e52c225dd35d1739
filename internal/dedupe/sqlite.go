package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite backs the cache with a local file, surviving restarts without a
// Redis dependency.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the cache database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "storechat-dedupe.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; the dedupe path serializes through the pipeline anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS seen_messages (
			key        TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_seen_expiry ON seen_messages(expires_at);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Seen(ctx context.Context, channel, externalID string) (bool, error) {
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM seen_messages WHERE key = ?`,
		Key(channel, externalID)).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite lookup: %w", err)
	}
	return time.Now().Unix() < expires, nil
}

func (s *SQLite) Mark(ctx context.Context, channel, externalID string, ttl time.Duration) error {
	expires := time.Now().Add(ttl).Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_messages (key, expires_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at`,
		Key(channel, externalID), expires)
	if err != nil {
		return fmt.Errorf("sqlite mark: %w", err)
	}
	// Opportunistic cleanup keeps the file from growing unbounded.
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM seen_messages WHERE expires_at < ?`, time.Now().Unix())
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
