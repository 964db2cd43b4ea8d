package index

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Store publishes the current corpus snapshot to concurrent readers and
// serializes writers. Readers never see a partially built corpus.
type Store struct {
	indexPath  string
	chunksPath string

	current atomic.Pointer[Corpus]
	mu      sync.Mutex // serializes Replace and Extend
}

// NewStore creates an empty store persisting to the given files.
func NewStore(indexPath, chunksPath string) *Store {
	return &Store{indexPath: indexPath, chunksPath: chunksPath}
}

// Load reads the persisted corpus. Missing, corrupt or misaligned files leave
// the store empty; retrieval then runs without persisted context.
func (s *Store) Load() {
	c, err := Load(s.indexPath, s.chunksPath)
	switch {
	case err != nil && errors.Is(err, ErrMisaligned):
		slog.Warn("index and chunks disagree, discarding both until next rebuild", "err", err)
		c = nil
	case err != nil:
		slog.Warn("index load failed, running without retrieval context", "err", err)
		c = nil
	case c == nil:
		slog.Info("no persisted index found", "index", s.indexPath, "chunks", s.chunksPath)
	default:
		slog.Info("loaded index", "chunks", c.Len(), "dim", c.Index.Dim())
	}
	s.current.Store(c)
}

// Snapshot returns the current corpus, or nil when none is loaded.
func (s *Store) Snapshot() *Corpus {
	return s.current.Load()
}

// Replace persists c and publishes it. The in-memory snapshot is swapped even
// when persisting fails; the error is returned for the caller to report.
func (s *Store) Replace(c *Corpus) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := Save(c, s.indexPath, s.chunksPath)
	s.current.Store(c)
	return err
}

// Extend appends chunks to the current corpus and publishes the result.
func (s *Store) Extend(chunks []string, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.current.Load().Extend(chunks, vectors)
	if err != nil {
		return err
	}
	err = Save(next, s.indexPath, s.chunksPath)
	s.current.Store(next)
	return err
}
