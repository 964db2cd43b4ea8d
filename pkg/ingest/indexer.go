package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/ragdesk/ragdesk/pkg/chunker"
	"github.com/ragdesk/ragdesk/pkg/embed"
	"github.com/ragdesk/ragdesk/pkg/index"
)

// ErrNoDocuments is returned by Reindex when the scanned directories contain
// no extractable text. The current index is left untouched.
var ErrNoDocuments = errors.New("no documents to index")

// Report summarises an indexing run.
type Report struct {
	Files    int           `json:"files"`
	Skipped  int           `json:"skipped"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration_ns"`
}

// Indexer chunks and embeds documents into an index.Store.
type Indexer struct {
	embedder embed.Provider
	store    *index.Store
	size     int
	overlap  int
}

// NewIndexer creates an Indexer using the given chunk window.
func NewIndexer(embedder embed.Provider, store *index.Store, size, overlap int) *Indexer {
	return &Indexer{embedder: embedder, store: store, size: size, overlap: overlap}
}

// Scan returns the supported files below dirs, sorted. Missing directories
// are skipped.
func Scan(dirs []string) ([]string, error) {
	var files []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == dir {
					slog.Debug("ingest dir missing", "dir", dir)
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && Supported(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Reindex rebuilds the whole index from the documents below dirs and swaps
// it in. Unreadable documents are skipped and counted.
func (ix *Indexer) Reindex(ctx context.Context, dirs []string) (Report, error) {
	start := time.Now()
	var rep Report

	files, err := Scan(dirs)
	if err != nil {
		return rep, err
	}

	var chunks []string
	for _, path := range files {
		text, err := ExtractFile(path)
		if err != nil {
			slog.Warn("skipping document", "path", path, "err", err)
			rep.Skipped++
			continue
		}
		c := chunker.Split(text, ix.size, ix.overlap)
		if len(c) == 0 {
			rep.Skipped++
			continue
		}
		rep.Files++
		chunks = append(chunks, c...)
	}
	if len(chunks) == 0 {
		return rep, ErrNoDocuments
	}

	vecs, err := ix.embedder.Encode(ctx, chunks)
	if err != nil {
		return rep, fmt.Errorf("embed chunks: %w", err)
	}
	corpus, err := index.NewCorpus(chunks, vecs)
	if err != nil {
		return rep, err
	}
	if err := ix.store.Replace(corpus); err != nil {
		return rep, fmt.Errorf("persist index: %w", err)
	}

	rep.Chunks = len(chunks)
	rep.Duration = time.Since(start)
	slog.Info("index rebuilt", "files", rep.Files, "skipped", rep.Skipped, "chunks", rep.Chunks, "duration_ms", rep.Duration.Milliseconds())
	return rep, nil
}

// AddFile extracts, chunks and embeds one document and appends it to the
// current index. It returns the number of chunks added.
func (ix *Indexer) AddFile(ctx context.Context, path string) (int, error) {
	text, err := ExtractFile(path)
	if err != nil {
		return 0, err
	}
	chunks := chunker.Split(text, ix.size, ix.overlap)
	if len(chunks) == 0 {
		return 0, nil
	}
	vecs, err := ix.embedder.Encode(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", filepath.Base(path), err)
	}
	if err := ix.store.Extend(chunks, vecs); err != nil {
		return 0, fmt.Errorf("extend index: %w", err)
	}
	slog.Info("document indexed", "path", path, "chunks", len(chunks))
	return len(chunks), nil
}
