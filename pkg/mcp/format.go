package mcp

import (
	"fmt"
	"strings"

	"github.com/ragdesk/ragdesk/pkg/models"
)

const maxCellWidth = 48

// formatStatSummary formats per-model latency aggregates as a text table.
func formatStatSummary(rows []models.StatSummary) string {
	if len(rows) == 0 {
		return "No stats recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-16s %8s %10s %10s\n",
		"Model", "Source", "Requests", "Avg (ms)", "Max (ms)")
	b.WriteString(strings.Repeat("-", 73) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-25s %-16s %8d %10.1f %10d\n",
			r.Model, r.Source, r.RequestCount, r.AvgResponseMs, r.MaxResponseMs)
	}
	return b.String()
}

// formatStatRecords formats stat records as a text table, newest first.
func formatStatRecords(records []models.StatRecord) string {
	if len(records) == 0 {
		return "No recent questions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %10s  %s\n", "Time", "Model", "Time (ms)", "Question")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-20s %-20s %10d  %s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Model, r.ResponseTimeMs, truncate(r.Question))
	}
	return b.String()
}

// formatCacheStats formats cache statistics.
func formatCacheStats(s models.CacheStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entries:     %d\n", s.Entries)
	fmt.Fprintf(&b, "In progress: %d\n", s.InProgress)
	fmt.Fprintf(&b, "Hits:        %d\n", s.Hits)
	fmt.Fprintf(&b, "Misses:      %d\n", s.Misses)
	total := s.Hits + s.Misses
	if total > 0 {
		fmt.Fprintf(&b, "Hit rate:    %.1f%%\n", float64(s.Hits)/float64(total)*100)
	} else {
		b.WriteString("Hit rate:    N/A\n")
	}
	return b.String()
}

// formatChunks numbers retrieved chunks, nearest first.
func formatChunks(chunks []string) string {
	if len(chunks) == 0 {
		return "No indexed context found."
	}
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
	}
	return b.String()
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-3]) + "..."
}
