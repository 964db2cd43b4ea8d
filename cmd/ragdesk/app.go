package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ragdesk/ragdesk/pkg/ask"
	"github.com/ragdesk/ragdesk/pkg/cache"
	cachejson "github.com/ragdesk/ragdesk/pkg/cache/jsonfile"
	cachesqlite "github.com/ragdesk/ragdesk/pkg/cache/sqlite"
	"github.com/ragdesk/ragdesk/pkg/config"
	"github.com/ragdesk/ragdesk/pkg/embed"
	"github.com/ragdesk/ragdesk/pkg/gateway"
	"github.com/ragdesk/ragdesk/pkg/index"
	"github.com/ragdesk/ragdesk/pkg/ingest"
	"github.com/ragdesk/ragdesk/pkg/logger"
	"github.com/ragdesk/ragdesk/pkg/render"
	"github.com/ragdesk/ragdesk/pkg/retrieve"
	"github.com/ragdesk/ragdesk/pkg/router"
	"github.com/ragdesk/ragdesk/pkg/stats"
	statsjson "github.com/ragdesk/ragdesk/pkg/stats/jsonfile"
	statssqlite "github.com/ragdesk/ragdesk/pkg/stats/sqlite"
)

type globalFlags struct {
	configPath string
	envFile    string
}

// loadConfig reads the config and installs the process logger.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath, flags.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}

// app holds every component built from a config.
type app struct {
	cfg          *config.Config
	cache        *cache.Cache
	stats        stats.Log
	store        *index.Store
	embedder     embed.Provider
	retriever    *retrieve.Retriever
	indexer      *ingest.Indexer
	router       *router.Router
	orchestrator *ask.Orchestrator
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	cacheStore, err := openCacheStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	statsLog, err := openStatsLog(cfg)
	if err != nil {
		if cacheStore != nil {
			_ = cacheStore.Close()
		}
		return nil, fmt.Errorf("init stats: %w", err)
	}

	a := &app{
		cfg:      cfg,
		cache:    cache.New(cacheStore),
		stats:    statsLog,
		store:    index.NewStore(cfg.Resolve(cfg.Index.Path), cfg.Resolve(cfg.Index.ChunksPath)),
		embedder: newEmbedder(cfg.Embedder),
		router:   router.New(cfg.Models),
	}
	a.store.Load()

	a.retriever = retrieve.New(a.embedder, a.store, retrieve.Options{
		TopK:         cfg.Retrieval.TopK,
		AdhocTopK:    cfg.Retrieval.AdhocTopK,
		ChunkSize:    cfg.Chunker.Size,
		ChunkOverlap: cfg.Chunker.Overlap,
	})
	a.indexer = ingest.NewIndexer(a.embedder, a.store, cfg.Chunker.Size, cfg.Chunker.Overlap)

	opts := ask.Options{Workers: cfg.Workers}
	if cfg.RenderMarkdown {
		opts.Render = render.Markdown
	}
	gw := gateway.NewOllama(cfg.Ollama.URL, cfg.Ollama.Timeout)
	a.orchestrator = ask.New(a.cache, a.retriever, gw, a.stats, opts)
	return a, nil
}

// Close flushes and releases the persistence backends.
func (a *app) Close() error {
	return errors.Join(a.cache.Close(), a.stats.Close())
}

// openCacheStore returns nil when caching to disk is disabled; the cache then
// still coordinates in-flight generations in memory.
func openCacheStore(cfg *config.Config) (cache.Store, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	path := cfg.Resolve(cfg.Cache.Path)
	switch cfg.Cache.Backend {
	case "sqlite":
		return cachesqlite.New(path)
	case "", "json":
		return cachejson.New(path), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func openStatsLog(cfg *config.Config) (stats.Log, error) {
	path := cfg.Resolve(cfg.Stats.Path)
	switch cfg.Stats.Backend {
	case "sqlite":
		return statssqlite.New(path)
	case "", "json":
		return statsjson.Open(path), nil
	default:
		return nil, fmt.Errorf("unknown stats backend %q", cfg.Stats.Backend)
	}
}

func newEmbedder(cfg config.EmbedderConfig) embed.Provider {
	var p embed.Provider
	switch cfg.Type {
	case "openai":
		p = embed.NewOpenAI(cfg.URL, cfg.APIKey, cfg.Model)
	default:
		p = embed.NewOllama(cfg.URL, cfg.Model)
	}
	return embed.NewBatched(p, cfg.BatchSize, 0)
}

func resolveDirs(cfg *config.Config) []string {
	dirs := make([]string, 0, len(cfg.Ingest.Dirs))
	for _, d := range cfg.Ingest.Dirs {
		dirs = append(dirs, cfg.Resolve(d))
	}
	return dirs
}
