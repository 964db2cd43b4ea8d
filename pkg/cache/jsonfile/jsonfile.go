// Package jsonfile persists completed cache responses as a single JSON object
// mapping "{prompt}|{model}" to the response text.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/ragdesk/ragdesk/pkg/atomicfile"
	"github.com/ragdesk/ragdesk/pkg/models"
)

// legacyInProgress is the marker older versions wrote for unfinished keys.
const legacyInProgress = "IN_PROGRESS"

// Store rewrites the whole file on every change. Writes are serialized within
// a process and atomic (synced temp file + rename). Before each write the file
// is re-read and entries added by other processes are kept, so two processes
// sharing a file only lose entries when their read-modify-write cycles overlap.
type Store struct {
	path string

	mu   sync.Mutex
	data map[string]string
}

// New creates a Store for path. Nothing is read until Load.
func New(path string) *Store {
	return &Store{path: path, data: make(map[string]string)}
}

// Load reads the file. A missing file is an empty cache. A file that fails to
// parse is moved aside to path+".corrupt" and also yields an empty cache.
func (s *Store) Load() (map[models.CacheKey]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]string)
	out := make(map[models.CacheKey]string)

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		slog.Warn("cache file unreadable, starting empty", "path", s.path, "err", err)
		return out, nil
	}

	var file map[string]string
	if err := json.Unmarshal(raw, &file); err != nil {
		slog.Warn("cache file corrupt, starting empty", "path", s.path, "err", err)
		if rerr := os.Rename(s.path, s.path+".corrupt"); rerr != nil {
			slog.Warn("could not move corrupt cache file aside", "err", rerr)
		}
		return out, nil
	}

	stale := 0
	for k, v := range file {
		if v == legacyInProgress {
			stale++
			continue
		}
		key, ok := models.ParseCacheKey(k)
		if !ok {
			slog.Warn("skipping malformed cache key", "key", k)
			continue
		}
		s.data[k] = v
		out[key] = v
	}
	if stale > 0 {
		slog.Warn("dropped stale in-progress entries", "count", stale)
	}
	return out, nil
}

// merge adds completed entries written to the file by other processes.
// Entries already held are kept as they are. An unreadable file is ignored;
// the next write replaces it.
func (s *Store) merge() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var file map[string]string
	if json.Unmarshal(raw, &file) != nil {
		return
	}
	for k, v := range file {
		if v == legacyInProgress {
			continue
		}
		if _, ok := models.ParseCacheKey(k); !ok {
			continue
		}
		if _, ok := s.data[k]; !ok {
			s.data[k] = v
		}
	}
}

// Put adds a response and rewrites the file. A response already on disk for
// key is kept.
func (s *Store) Put(key models.CacheKey, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merge()
	if _, ok := s.data[key.String()]; !ok {
		s.data[key.String()] = response
	}
	return s.flush()
}

// Clear empties the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string)
	return s.flush()
}

// Close is a no-op; every change is already on disk.
func (s *Store) Close() error { return nil }

func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, raw); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}
