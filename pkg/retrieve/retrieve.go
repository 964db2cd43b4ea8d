// Package retrieve builds the context string that is handed to the model
// alongside a question.
package retrieve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ragdesk/ragdesk/pkg/chunker"
	"github.com/ragdesk/ragdesk/pkg/embed"
	"github.com/ragdesk/ragdesk/pkg/index"
)

// Options tunes retrieval. Zero values fall back to the defaults.
type Options struct {
	TopK         int // persisted index results, default 3
	AdhocTopK    int // attachment results, default 10
	ChunkSize    int
	ChunkOverlap int
}

// Retriever combines query embedding with persisted and per-request search.
// It never fails; problems are logged and yield less context.
type Retriever struct {
	embedder embed.Provider
	store    *index.Store
	opts     Options
}

// New creates a Retriever. store may be nil, in which case only attachments
// contribute context.
func New(embedder embed.Provider, store *index.Store, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.AdhocTopK <= 0 {
		opts.AdhocTopK = 10
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultSize
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = chunker.DefaultOverlap
	}
	return &Retriever{embedder: embedder, store: store, opts: opts}
}

// Retrieve returns the context for query. adhoc is the text of a document
// attached to this request only; its best chunks come first. k overrides the
// persisted top-k when positive.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, adhoc string) string {
	if k <= 0 {
		k = r.opts.TopK
	}
	qv, err := embed.EncodeOne(ctx, r.embedder, query)
	if err != nil {
		slog.Warn("query embedding failed, continuing without context", "err", err)
		return ""
	}

	var parts []string
	if strings.TrimSpace(adhoc) != "" {
		if s := r.adhocContext(ctx, qv, adhoc); s != "" {
			parts = append(parts, s)
		}
	}
	if s := r.persistedContext(qv, k); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// Search returns the k nearest persisted chunks for query, nearest first.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		k = r.opts.TopK
	}
	c := r.snapshot()
	if c == nil {
		return nil, nil
	}
	qv, err := embed.EncodeOne(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}
	return c.Search(qv, k)
}

func (r *Retriever) snapshot() *index.Corpus {
	if r.store == nil {
		return nil
	}
	return r.store.Snapshot()
}

func (r *Retriever) persistedContext(qv []float32, k int) string {
	c := r.snapshot()
	if c == nil {
		return ""
	}
	texts, err := c.Search(qv, k)
	if err != nil {
		slog.Warn("index search failed", "err", err)
		return ""
	}
	return strings.Join(texts, "\n")
}

func (r *Retriever) adhocContext(ctx context.Context, qv []float32, text string) string {
	chunks := chunker.Split(text, r.opts.ChunkSize, r.opts.ChunkOverlap)
	if len(chunks) == 0 {
		return ""
	}
	vecs, err := r.embedder.Encode(ctx, chunks)
	if err != nil {
		slog.Warn("attachment embedding failed", "chunks", len(chunks), "err", err)
		return ""
	}
	if len(vecs) != len(chunks) {
		slog.Warn("attachment embedding count mismatch", "chunks", len(chunks), "vectors", len(vecs))
		return ""
	}
	for _, v := range vecs {
		if len(v) != len(qv) {
			slog.Warn("attachment embedding dimension mismatch", "want", len(qv), "got", len(v))
			return ""
		}
	}

	hits := index.Rank(qv, len(vecs), func(i int) []float32 { return vecs[i] })
	if len(hits) > r.opts.AdhocTopK {
		hits = hits[:r.opts.AdhocTopK]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = chunks[h.Index]
	}
	return strings.Join(out, "\n")
}
