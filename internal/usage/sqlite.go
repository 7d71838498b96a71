package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spigell/jobmatch/internal/quota"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteSink keeps the usage log in a local SQLite file.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the usage database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("usage: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: init schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS usage_log (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		operation   TEXT NOT NULL,
		timestamp   TEXT NOT NULL,
		success     INTEGER NOT NULL,
		tokens_used INTEGER,
		latency_ms  INTEGER,
		error_kind  TEXT
	)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS usage_log_user_time ON usage_log (user_id, timestamp)`)
	return err
}

func (s *SQLiteSink) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (id, user_id, operation, timestamp, success, tokens_used, latency_ms, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.Operation), e.Timestamp.UTC().Format(timeLayout),
		e.Success, e.TokensUsed, e.LatencyMS, nullString(e.ErrorKind),
	)
	if err != nil {
		return fmt.Errorf("usage: insert: %w", err)
	}
	return nil
}

// Summary relies on fixed-width UTC timestamps sorting lexically.
func (s *SQLiteSink) Summary(ctx context.Context, userID string, since time.Time) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT operation, COUNT(*), SUM(CASE WHEN success THEN 0 ELSE 1 END), COALESCE(SUM(tokens_used), 0)
		 FROM usage_log
		 WHERE user_id = ? AND timestamp >= ?
		 GROUP BY operation
		 ORDER BY operation`,
		userID, since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("usage: summary query: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			sum Summary
			op  string
		)
		if err := rows.Scan(&op, &sum.Calls, &sum.Failures, &sum.Tokens); err != nil {
			return nil, fmt.Errorf("usage: summary scan: %w", err)
		}
		sum.Operation = quota.Operation(op)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
