package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all ragdesk configuration.
type Config struct {
	Listen         string          `yaml:"listen"`
	DataDir        string          `yaml:"data_dir"`
	Workers        int             `yaml:"workers"`
	RenderMarkdown bool            `yaml:"render_markdown"`
	Log            LogConfig       `yaml:"log"`
	Cache          CacheConfig     `yaml:"cache"`
	Stats          StatsConfig     `yaml:"stats"`
	Index          IndexConfig     `yaml:"index"`
	Chunker        ChunkerConfig   `yaml:"chunker"`
	Retrieval      RetrievalConfig `yaml:"retrieval"`
	Embedder       EmbedderConfig  `yaml:"embedder"`
	Ollama         OllamaConfig    `yaml:"ollama"`
	Models         ModelsConfig    `yaml:"models"`
	Ingest         IngestConfig    `yaml:"ingest"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// CacheConfig controls the response cache.
// Backend is "json" (default) or "sqlite".
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// StatsConfig controls the stats log. Backend is "json" (default) or "sqlite".
type StatsConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// IndexConfig locates the persisted vector index and its chunk list.
type IndexConfig struct {
	Path       string `yaml:"path"`
	ChunksPath string `yaml:"chunks_path"`
}

// ChunkerConfig sizes the word windows.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig bounds how much context is retrieved per question.
type RetrievalConfig struct {
	TopK      int `yaml:"top_k"`
	AdhocTopK int `yaml:"adhoc_top_k"`
}

// EmbedderConfig selects the embedding provider. Type is "ollama" (default)
// or "openai" for any OpenAI-compatible embeddings endpoint.
type EmbedderConfig struct {
	Type      string `yaml:"type"`
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BatchSize int    `yaml:"batch_size"`
}

// OllamaConfig points at the generation backend.
type OllamaConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ModelsConfig holds default and allowed models per modality.
// An empty allow-list accepts any non-empty model.
type ModelsConfig struct {
	DefaultText  string   `yaml:"default_text"`
	AllowedText  []string `yaml:"allowed_text"`
	DefaultImage string   `yaml:"default_image"`
	AllowedImage []string `yaml:"allowed_image"`
}

// IngestConfig controls document scanning and uploads.
type IngestConfig struct {
	Dirs        []string `yaml:"dirs"`
	UploadDir   string   `yaml:"upload_dir"`
	ImageDir    string   `yaml:"image_dir"`
	Watch       bool     `yaml:"watch"`
	MaxUploadMB int      `yaml:"max_upload_mb"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:  ":5050",
		DataDir: ".",
		Workers: 3,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "json",
			Path:    "query_cache.json",
		},
		Stats: StatsConfig{
			Backend: "json",
			Path:    "stats.json",
		},
		Index: IndexConfig{
			Path:       "vector_index.bin",
			ChunksPath: "chunks.json",
		},
		Chunker: ChunkerConfig{
			Size:    500,
			Overlap: 100,
		},
		Retrieval: RetrievalConfig{
			TopK:      3,
			AdhocTopK: 10,
		},
		Embedder: EmbedderConfig{
			Type:      "ollama",
			URL:       "http://localhost:11434",
			Model:     "all-minilm",
			BatchSize: 32,
		},
		Ollama: OllamaConfig{
			URL:     "http://localhost:11434",
			Timeout: 5 * time.Minute,
		},
		Models: ModelsConfig{
			DefaultText:  "llama3",
			DefaultImage: "bakllava",
		},
		Ingest: IngestConfig{
			Dirs:        []string{"uploads/files", "uploads/rag"},
			UploadDir:   "uploads/rag",
			ImageDir:    "uploads/images",
			MaxUploadMB: 25,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
// If envFile is non-empty it is loaded into the environment first; a missing
// env file is not an error. A missing config file yields Default().
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg, nil
}

// Resolve returns p joined to DataDir unless p is absolute or empty.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
