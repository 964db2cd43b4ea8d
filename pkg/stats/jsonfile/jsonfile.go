// Package jsonfile stores the stats log as a JSON array in a single file.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ragdesk/ragdesk/pkg/atomicfile"
	"github.com/ragdesk/ragdesk/pkg/models"
	"github.com/ragdesk/ragdesk/pkg/stats"
)

// timestampLayout matches the naive local ISO timestamps of existing files.
const timestampLayout = "2006-01-02T15:04:05.000000"

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

type fileRecord struct {
	Question       string `json:"question"`
	Model          string `json:"model"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Timestamp      string `json:"timestamp"`
	Source         string `json:"source,omitempty"`
}

// Log keeps all records in memory and rewrites the file on every append. It
// assumes a single writing process per file.
type Log struct {
	path string

	mu      sync.Mutex
	records []models.StatRecord
	seen    map[stats.Pair]struct{}
}

// Open loads the log at path. Missing or unparsable files start an empty log.
func Open(path string) *Log {
	l := &Log{path: path, seen: make(map[stats.Pair]struct{})}
	l.records = l.read()
	for _, r := range l.records {
		l.seen[stats.PairOf(r)] = struct{}{}
	}
	return l
}

func (l *Log) read() []models.StatRecord {
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		slog.Warn("stats file unreadable, starting empty", "path", l.path, "err", err)
		return nil
	}

	var file []fileRecord
	if err := json.Unmarshal(raw, &file); err != nil {
		slog.Warn("stats file corrupt, starting empty", "path", l.path, "err", err)
		if rerr := os.Rename(l.path, l.path+".corrupt"); rerr != nil {
			slog.Warn("could not move corrupt stats file aside", "err", rerr)
		}
		return nil
	}

	out := make([]models.StatRecord, 0, len(file))
	for _, f := range file {
		out = append(out, models.StatRecord{
			Question:       f.Question,
			Model:          f.Model,
			ResponseTimeMs: f.ResponseTimeMs,
			Timestamp:      parseTimestamp(f.Timestamp),
			Source:         f.Source,
		})
	}
	return out
}

func parseTimestamp(s string) time.Time {
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Append implements stats.Log.
func (l *Log) Append(_ context.Context, rec models.StatRecord) (bool, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	p := stats.PairOf(rec)
	if _, ok := l.seen[p]; ok {
		return false, nil
	}
	l.seen[p] = struct{}{}
	l.records = append(l.records, rec)
	if err := l.flush(); err != nil {
		return true, err
	}
	return true, nil
}

// List implements stats.Log.
func (l *Log) List(_ context.Context, limit int) ([]models.StatRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.StatRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.records[i])
	}
	return out, nil
}

// Summary implements stats.Log.
func (l *Log) Summary(_ context.Context) ([]models.StatSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return stats.Summarize(l.records), nil
}

// Dedupe implements stats.Log. Appends through this Log never create
// duplicates; files written by older versions may contain them.
func (l *Log) Dedupe(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept, removed := stats.DedupeRecords(l.records)
	if removed == 0 {
		return 0, nil
	}
	l.records = kept
	return removed, l.flush()
}

// Close is a no-op; every append is already on disk.
func (l *Log) Close() error { return nil }

func (l *Log) flush() error {
	file := make([]fileRecord, len(l.records))
	for i, r := range l.records {
		file[i] = fileRecord{
			Question:       r.Question,
			Model:          r.Model,
			ResponseTimeMs: r.ResponseTimeMs,
			Timestamp:      r.Timestamp.In(time.Local).Format(timestampLayout),
			Source:         r.Source,
		}
	}
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	if err := atomicfile.WriteFile(l.path, raw); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}
