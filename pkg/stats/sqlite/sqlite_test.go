package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ragdesk/ragdesk/pkg/models"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "stats_test.db")
	l, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendDedup(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := l.Append(ctx, models.StatRecord{Question: "q", Model: "llama3", ResponseTimeMs: 150, Timestamp: now, Source: models.SourceText})
	if err != nil || !ok {
		t.Fatalf("first append: ok=%v err=%v", ok, err)
	}
	ok, err = l.Append(ctx, models.StatRecord{Question: "q", Model: "llama3", ResponseTimeMs: 1, Timestamp: now.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("duplicate pair should be ignored")
	}

	records, err := l.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ResponseTimeMs != 150 {
		t.Errorf("expected first timing to be kept, got %d", records[0].ResponseTimeMs)
	}
}

func TestListAndSummary(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = l.Append(ctx, models.StatRecord{Question: "a", Model: "llama3", ResponseTimeMs: 100, Timestamp: now, Source: models.SourceText})
	_, _ = l.Append(ctx, models.StatRecord{Question: "b", Model: "llama3", ResponseTimeMs: 300, Timestamp: now.Add(time.Second), Source: models.SourceText})
	_, _ = l.Append(ctx, models.StatRecord{Question: "c", Model: "bakllava", ResponseTimeMs: 50, Timestamp: now.Add(2 * time.Second), Source: models.SourceImage})

	latest, err := l.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].Question != "c" || latest[1].Question != "b" {
		t.Errorf("unexpected latest records: %+v", latest)
	}

	sums, err := l.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	if sums[1].Model != "llama3" || sums[1].RequestCount != 2 || sums[1].AvgResponseMs != 200 || sums[1].MaxResponseMs != 300 {
		t.Errorf("unexpected llama3 summary: %+v", sums[1])
	}
}
