// Package embed maps text to fixed-dimension vectors.
package embed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Provider encodes texts into vectors of equal length. Output order matches
// input order.
type Provider interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// EncodeOne encodes a single text.
func EncodeOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// Batched splits large inputs into fixed-size batches encoded concurrently.
type Batched struct {
	Provider
	Size        int
	Concurrency int
}

// NewBatched wraps p. Non-positive sizes fall back to 32 texts and 4 batches
// in flight.
func NewBatched(p Provider, size, concurrency int) *Batched {
	if size <= 0 {
		size = 32
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Batched{Provider: p, Size: size, Concurrency: concurrency}
}

// Encode implements Provider.
func (b *Batched) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) <= b.Size {
		return b.Provider.Encode(ctx, texts)
	}

	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Concurrency)
	for start := 0; start < len(texts); start += b.Size {
		end := min(start+b.Size, len(texts))
		g.Go(func() error {
			vecs, err := b.Provider.Encode(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("batch %d-%d: expected %d embeddings, got %d", start, end, end-start, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
