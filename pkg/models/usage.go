package models

import "time"

// Stat record sources.
const (
	SourceText  = "Text Analysis"
	SourceImage = "Image Analysis"
)

// StatRecord is one entry of the stats log. (Question, Model) is unique.
type StatRecord struct {
	Question       string    `json:"question"`
	Model          string    `json:"model"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source,omitempty"`
}

// StatSummary aggregates stat records per model.
type StatSummary struct {
	Model         string  `json:"model"`
	Source        string  `json:"source"`
	RequestCount  int     `json:"request_count"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	MaxResponseMs int64   `json:"max_response_ms"`
}
