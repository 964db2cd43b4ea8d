// Package sqlite stores the stats log in a SQLite table with a uniqueness
// constraint on (question, model).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ragdesk/ragdesk/pkg/models"
)

// Log implements stats.Log.
type Log struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS stat_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question TEXT NOT NULL,
	model TEXT NOT NULL,
	response_time_ms INTEGER NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (question, model)
);
CREATE INDEX IF NOT EXISTS idx_stats_time ON stat_records(created_at);
`

// New opens the stats database and runs auto-migration.
func New(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate stats db: %w", err)
	}
	return &Log{db: db}, nil
}

// Append stores rec unless its (question, model) pair exists.
func (l *Log) Append(ctx context.Context, rec models.StatRecord) (bool, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stat_records (question, model, response_time_ms, source, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Question, rec.Model, rec.ResponseTimeMs, rec.Source, rec.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("append stat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append stat: %w", err)
	}
	return n == 1, nil
}

// List returns up to limit records, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]models.StatRecord, error) {
	query := `SELECT question, model, response_time_ms, source, created_at
		 FROM stat_records ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()

	var records []models.StatRecord
	for rows.Next() {
		var r models.StatRecord
		if err := rows.Scan(&r.Question, &r.Model, &r.ResponseTimeMs, &r.Source, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns per-model aggregates.
func (l *Log) Summary(ctx context.Context) ([]models.StatSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, source, COUNT(*), AVG(response_time_ms), MAX(response_time_ms)
		 FROM stat_records GROUP BY model, source ORDER BY model, source`)
	if err != nil {
		return nil, fmt.Errorf("stats summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.StatSummary
	for rows.Next() {
		var s models.StatSummary
		if err := rows.Scan(&s.Model, &s.Source, &s.RequestCount, &s.AvgResponseMs, &s.MaxResponseMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Dedupe is a no-op: the table constraint rejects duplicates on write.
func (l *Log) Dedupe(context.Context) (int, error) { return 0, nil }

// Close releases the database connection.
func (l *Log) Close() error {
	return l.db.Close()
}
