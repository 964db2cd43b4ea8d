package models

import "strings"

// CacheKeySeparator joins prompt and model in the persisted cache file.
const CacheKeySeparator = "|"

// CacheKey identifies a cached response by normalized prompt and model.
type CacheKey struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// NewCacheKey normalizes the prompt and model into a key.
func NewCacheKey(prompt, model string) CacheKey {
	return CacheKey{
		Prompt: strings.TrimSpace(prompt),
		Model:  strings.TrimSpace(model),
	}
}

// String renders the key in the "{prompt}|{model}" file form.
func (k CacheKey) String() string {
	return k.Prompt + CacheKeySeparator + k.Model
}

// ParseCacheKey splits a "{prompt}|{model}" string on the last separator.
// Model identifiers never contain the separator, so the split is unambiguous.
func ParseCacheKey(s string) (CacheKey, bool) {
	i := strings.LastIndex(s, CacheKeySeparator)
	if i < 0 {
		return CacheKey{}, false
	}
	return CacheKey{Prompt: s[:i], Model: s[i+len(CacheKeySeparator):]}, true
}

// CacheStatus is the lifecycle state of a cache entry.
type CacheStatus int

const (
	CacheAbsent CacheStatus = iota
	CacheInProgress
	CacheCompleted
)

func (s CacheStatus) String() string {
	switch s {
	case CacheInProgress:
		return "in_progress"
	case CacheCompleted:
		return "completed"
	default:
		return "absent"
	}
}

// CacheState is the tagged state of a key. Response is only set when Completed.
type CacheState struct {
	Status   CacheStatus
	Response string
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries    int64 `json:"entries"`
	InProgress int64 `json:"in_progress"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
}
