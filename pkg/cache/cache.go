// Package cache implements the response cache: a process-wide map from
// (prompt, model) to Absent, InProgress or Completed, with an atomic
// Absent to InProgress transition so each key is generated at most once at
// a time.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ragdesk/ragdesk/pkg/models"
)

// Store persists completed responses. In-progress markers are never
// persisted, so a restart always begins with every unfinished key Absent.
type Store interface {
	// Load returns all persisted completed responses. Unreadable data yields
	// an empty map.
	Load() (map[models.CacheKey]string, error)
	// Put persists a completed response.
	Put(key models.CacheKey, response string) error
	// Clear removes every persisted response.
	Clear() error
	// Close releases resources.
	Close() error
}

type entry struct {
	inProgress bool
	response   string
}

// Cache holds the authoritative in-memory state. A nil Store keeps the cache
// in memory only.
type Cache struct {
	mu      sync.Mutex
	entries map[models.CacheKey]entry
	store   Store

	hits   atomic.Int64
	misses atomic.Int64
}

// New loads persisted responses from store. A load failure is logged and the
// cache starts empty.
func New(store Store) *Cache {
	c := &Cache{entries: make(map[models.CacheKey]entry), store: store}
	if store == nil {
		return c
	}
	loaded, err := store.Load()
	if err != nil {
		slog.Warn("cache load failed, starting empty", "err", err)
		return c
	}
	for k, v := range loaded {
		c.entries[k] = entry{response: v}
	}
	slog.Info("cache loaded", "entries", len(loaded))
	return c
}

// Get returns the current state of key.
func (c *Cache) Get(key models.CacheKey) models.CacheState {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()

	switch {
	case !ok:
		c.misses.Add(1)
		return models.CacheState{Status: models.CacheAbsent}
	case e.inProgress:
		return models.CacheState{Status: models.CacheInProgress}
	default:
		c.hits.Add(1)
		return models.CacheState{Status: models.CacheCompleted, Response: e.response}
	}
}

// TryBegin marks key InProgress if it is Absent and reports whether this
// caller won. Losers must not generate.
func (c *Cache) TryBegin(key models.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = entry{inProgress: true}
	return true
}

// Complete stores response for key and persists it. A Completed entry is
// never overwritten. Persistence errors are logged and returned; the
// in-memory entry stays Completed either way.
func (c *Cache) Complete(key models.CacheKey, response string) error {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.inProgress {
		c.mu.Unlock()
		return nil
	}
	c.entries[key] = entry{response: response}
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Put(key, response); err != nil {
		slog.Warn("cache persist failed", "model", key.Model, "err", err)
		return err
	}
	return nil
}

// Fail removes the InProgress marker for key so a later request can retry.
// Completed entries are left alone.
func (c *Cache) Fail(key models.CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.inProgress {
		delete(c.entries, key)
	}
}

// Stats returns entry counts and lookup counters.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	var s models.CacheStats
	for _, e := range c.entries {
		if e.inProgress {
			s.InProgress++
		} else {
			s.Entries++
		}
	}
	c.mu.Unlock()
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	return s
}

// Clear drops all completed entries, in memory and in the store. Keys that are
// currently generating keep their marker.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !e.inProgress {
			delete(c.entries, k)
		}
	}
	if c.store == nil {
		return nil
	}
	return c.store.Clear()
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
