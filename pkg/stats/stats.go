// Package stats defines the stats log: one latency record per unique
// (question, model) pair.
package stats

import (
	"context"
	"sort"

	"github.com/ragdesk/ragdesk/pkg/models"
)

// Log records generation latency. Appending a record whose (question, model)
// pair is already present is a no-op reported through the returned bool.
type Log interface {
	// Append stores rec unless its pair exists. It reports whether rec was stored.
	Append(ctx context.Context, rec models.StatRecord) (bool, error)
	// List returns up to limit records, newest first. limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]models.StatRecord, error)
	// Summary aggregates records per model and source.
	Summary(ctx context.Context) ([]models.StatSummary, error)
	// Dedupe removes duplicate pairs left by older writers, keeping the first
	// occurrence. It returns the number of removed records.
	Dedupe(ctx context.Context) (int, error)
	// Close releases resources.
	Close() error
}

// Pair is the uniqueness key of a record.
type Pair struct {
	Question string
	Model    string
}

// PairOf returns the uniqueness key of rec.
func PairOf(rec models.StatRecord) Pair {
	return Pair{Question: rec.Question, Model: rec.Model}
}

// DedupeRecords keeps the first record of every pair, preserving order.
func DedupeRecords(records []models.StatRecord) (kept []models.StatRecord, removed int) {
	seen := make(map[Pair]struct{}, len(records))
	kept = make([]models.StatRecord, 0, len(records))
	for _, r := range records {
		p := PairOf(r)
		if _, ok := seen[p]; ok {
			removed++
			continue
		}
		seen[p] = struct{}{}
		kept = append(kept, r)
	}
	return kept, removed
}

// Summarize aggregates records per (model, source), ordered by model.
func Summarize(records []models.StatRecord) []models.StatSummary {
	type group struct {
		model, source string
	}
	idx := make(map[group]int)
	var out []models.StatSummary
	var totals []int64
	for _, r := range records {
		g := group{r.Model, r.Source}
		i, ok := idx[g]
		if !ok {
			i = len(out)
			idx[g] = i
			out = append(out, models.StatSummary{Model: r.Model, Source: r.Source})
			totals = append(totals, 0)
		}
		out[i].RequestCount++
		totals[i] += r.ResponseTimeMs
		if r.ResponseTimeMs > out[i].MaxResponseMs {
			out[i].MaxResponseMs = r.ResponseTimeMs
		}
	}
	for i := range out {
		out[i].AvgResponseMs = float64(totals[i]) / float64(out[i].RequestCount)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Model != out[b].Model {
			return out[a].Model < out[b].Model
		}
		return out[a].Source < out[b].Source
	})
	return out
}
