package index

import (
	"errors"
	"fmt"
)

// ErrMisaligned reports chunks and vectors that cannot be paired: their counts
// differ or their files come from different saves.
var ErrMisaligned = errors.New("chunks and index vectors are misaligned")

// Corpus is an immutable snapshot: Chunks[i] is the text of Index vector i.
type Corpus struct {
	Chunks []string
	Index  *Flat
}

// NewCorpus builds a corpus from aligned chunks and vectors.
func NewCorpus(chunks []string, vectors [][]float32) (*Corpus, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", ErrMisaligned, len(chunks), len(vectors))
	}
	if len(vectors) == 0 {
		return nil, errors.New("corpus needs at least one chunk")
	}
	idx := NewFlat(len(vectors[0]))
	if err := idx.Add(vectors); err != nil {
		return nil, err
	}
	return &Corpus{Chunks: append([]string(nil), chunks...), Index: idx}, nil
}

// Len returns the number of chunks.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Chunks)
}

// Validate checks the chunk/vector alignment invariant.
func (c *Corpus) Validate() error {
	if c.Index == nil {
		return fmt.Errorf("%w: no index", ErrMisaligned)
	}
	if len(c.Chunks) != c.Index.Len() {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrMisaligned, len(c.Chunks), c.Index.Len())
	}
	return nil
}

// Extend returns a new corpus with the given chunks appended. The receiver is
// not modified.
func (c *Corpus) Extend(chunks []string, vectors [][]float32) (*Corpus, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", ErrMisaligned, len(chunks), len(vectors))
	}
	if c == nil || c.Len() == 0 {
		return NewCorpus(chunks, vectors)
	}
	idx := c.Index.Clone()
	if err := idx.Add(vectors); err != nil {
		return nil, err
	}
	merged := make([]string, 0, len(c.Chunks)+len(chunks))
	merged = append(merged, c.Chunks...)
	merged = append(merged, chunks...)
	return &Corpus{Chunks: merged, Index: idx}, nil
}

// Search returns the texts of the k nearest chunks, nearest first.
func (c *Corpus) Search(q []float32, k int) ([]string, error) {
	_, ids, err := c.Index.Search(q, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, i := range ids {
		out = append(out, c.Chunks[i])
	}
	return out, nil
}
