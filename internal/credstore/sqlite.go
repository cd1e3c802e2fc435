package credstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS credentials (
    email TEXT PRIMARY KEY,
    record TEXT NOT NULL,
    saved_at INTEGER NOT NULL
);`

// SQLite stores one row per email address.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
// An empty path or ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := trimmed == "" || trimmed == ":memory:" || strings.Contains(trimmed, "mode=memory")
	if trimmed == "" {
		trimmed = ":memory:"
	}

	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, email string) (Record, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM credentials WHERE email = ?;`, NormalizeEmail(email)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("select credentials: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode credentials: %w", err)
	}
	return rec, true, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, email string, rec Record) error {
	key := NormalizeEmail(email)
	if key == "" {
		return ErrInvalidEmail
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO credentials (email, record, saved_at)
        VALUES (?, ?, ?)
        ON CONFLICT(email) DO UPDATE SET record = excluded.record, saved_at = excluded.saved_at;`,
		key, string(data), rec.SavedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}

// Close implements io.Closer.
func (s *SQLite) Close() error {
	return s.db.Close()
}
