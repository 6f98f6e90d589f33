// Package config provides configuration loading and structs for the casepilot server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Vector     VectorConfig     `yaml:"vector"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Import     ImportConfig     `yaml:"import"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// ChunkingConfig controls how case documents are split.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	Overlap      int `yaml:"overlap"`
	MinChunkSize int `yaml:"min_chunk_size"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint), "onnx" or "mock".
	Provider         string `yaml:"provider"`
	BaseURL          string `yaml:"base_url"`
	APIKeyEnv        string `yaml:"api_key_env"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	BatchSize        int    `yaml:"batch_size"`
	BatchDelayMs     int    `yaml:"batch_delay_ms"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
	BatchTimeoutSecs int    `yaml:"batch_timeout_secs"`
	MaxRetries       int    `yaml:"max_retries"`
	CacheSize        int    `yaml:"cache_size"`
	ModelPath        string `yaml:"model_path"`
	MaxTokens        int    `yaml:"max_tokens"`
}

// APIKey returns the provider key from the configured environment variable.
func (e EmbeddingConfig) APIKey() string {
	return os.Getenv(e.APIKeyEnv)
}

// Timeout is the deadline for a single embedding call.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSecs) * time.Second
}

// BatchTimeout is the deadline for one batch call.
func (e EmbeddingConfig) BatchTimeout() time.Duration {
	return time.Duration(e.BatchTimeoutSecs) * time.Second
}

// BatchDelay is the pause between consecutive batch calls.
func (e EmbeddingConfig) BatchDelay() time.Duration {
	return time.Duration(e.BatchDelayMs) * time.Millisecond
}

// GenerationConfig selects and tunes the text generation provider.
type GenerationConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "mock".
	Provider        string  `yaml:"provider"`
	BaseURL         string  `yaml:"base_url"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Model           string  `yaml:"model"`
	ChatModel       string  `yaml:"chat_model"`
	EnrichModel     string  `yaml:"enrich_model"`
	Temperature     float32 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	ChatTemperature float32 `yaml:"chat_temperature"`
	ChatMaxTokens   int     `yaml:"chat_max_tokens"`
	TimeoutSecs     int     `yaml:"timeout_secs"`
	ChatTimeoutSecs int     `yaml:"chat_timeout_secs"`
	MaxRetries      int     `yaml:"max_retries"`
}

// APIKey returns the provider key from the configured environment variable.
func (g GenerationConfig) APIKey() string {
	return os.Getenv(g.APIKeyEnv)
}

// Timeout bounds a whole solution generation.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// ChatTimeout bounds a chat reply.
func (g GenerationConfig) ChatTimeout() time.Duration {
	return time.Duration(g.ChatTimeoutSecs) * time.Second
}

// VectorConfig selects the vector store backend.
type VectorConfig struct {
	// Backend is "memory", "faiss" or "chroma".
	Backend string `yaml:"backend"`
	// Normalizer maps raw distances to scores: "inverse_distance" or "cosine".
	Normalizer string       `yaml:"normalizer"`
	Chroma     ChromaConfig `yaml:"chroma"`
}

// ChromaConfig holds the Chroma server location.
type ChromaConfig struct {
	URL         string `yaml:"url"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig holds thresholds and merge settings for case retrieval.
type RetrievalConfig struct {
	DefaultMinScore float64 `yaml:"default_min_score"`
	RelaxedMinScore float64 `yaml:"relaxed_min_score"`
	StrictMinScore  float64 `yaml:"strict_min_score"`
	DefaultTopK     int     `yaml:"default_top_k"`
	GenerationTopK  int     `yaml:"generation_top_k"`
	PerCaseCap      int     `yaml:"per_case_cap"`
	SemanticShare   float64 `yaml:"semantic_share"`
	KeywordShare    float64 `yaml:"keyword_share"`
	// KeywordProbe is "vector" (embed the categorical fields) or "bleve" (full-text index).
	KeywordProbe string       `yaml:"keyword_probe"`
	Fusion       FusionConfig `yaml:"fusion"`
}

// FusionConfig configures how semantic and keyword results are merged.
type FusionConfig struct {
	// Strategy is "max" or "rrf".
	Strategy        string  `yaml:"strategy"`
	KeywordDiscount float64 `yaml:"keyword_discount"`
	RRFK            int     `yaml:"rrf_k"`
	SemanticWeight  float64 `yaml:"semantic_weight"`
	KeywordWeight   float64 `yaml:"keyword_weight"`
}

// ImportConfig holds case library import settings.
type ImportConfig struct {
	Directory  string   `yaml:"directory"`
	DelayMs    int      `yaml:"delay_ms"`
	Enrich     *bool    `yaml:"enrich"`
	Extensions []string `yaml:"extensions"`
}

// EnrichOrDefault returns whether LLM metadata enrichment runs; defaults to true when unset.
func (i *ImportConfig) EnrichOrDefault() bool {
	if i.Enrich != nil {
		return *i.Enrich
	}
	return true
}

// Delay is the pause between two imported sources.
func (i ImportConfig) Delay() time.Duration {
	return time.Duration(i.DelayMs) * time.Millisecond
}

// WatchConfig holds case library watch settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, expands paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Import.Directory != "" {
		cfg.Import.Directory = expandPath(cfg.Import.Directory, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing files are skipped
// and variables already set are kept, so the real environment wins over .env.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides retrieval thresholds from VECTOR_* environment variables.
func ApplyEnv(cfg *Config) error {
	floats := []struct {
		name string
		dst  *float64
	}{
		{"VECTOR_MIN_SCORE", &cfg.Retrieval.DefaultMinScore},
		{"VECTOR_RELAXED_MIN_SCORE", &cfg.Retrieval.RelaxedMinScore},
		{"VECTOR_STRICT_MIN_SCORE", &cfg.Retrieval.StrictMinScore},
	}
	for _, f := range floats {
		v, ok := os.LookupEnv(f.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = parsed
	}
	if v, ok := os.LookupEnv("VECTOR_DEFAULT_TOP_K"); ok && strings.TrimSpace(v) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid VECTOR_DEFAULT_TOP_K: %w", err)
		}
		cfg.Retrieval.DefaultTopK = parsed
	}
	return nil
}

// Validate checks ranges and enumerated values.
func (c *Config) Validate() error {
	r := c.Retrieval
	for name, v := range map[string]float64{
		"default_min_score": r.DefaultMinScore,
		"relaxed_min_score": r.RelaxedMinScore,
		"strict_min_score":  r.StrictMinScore,
		"semantic_share":    r.SemanticShare,
		"keyword_share":     r.KeywordShare,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("retrieval.%s must be between 0 and 1, got %v", name, v)
		}
	}
	if r.DefaultTopK <= 0 || r.GenerationTopK <= 0 {
		return fmt.Errorf("retrieval top_k values must be positive")
	}
	if r.PerCaseCap <= 0 {
		return fmt.Errorf("retrieval.per_case_cap must be positive")
	}
	if !oneOf(r.KeywordProbe, "vector", "bleve") {
		return fmt.Errorf("unknown retrieval.keyword_probe %q", r.KeywordProbe)
	}
	if !oneOf(r.Fusion.Strategy, "max", "rrf") {
		return fmt.Errorf("unknown retrieval.fusion.strategy %q", r.Fusion.Strategy)
	}

	ch := c.Chunking
	if ch.ChunkSize <= 0 || ch.MinChunkSize <= 0 || ch.Overlap < 0 {
		return fmt.Errorf("chunking sizes must be positive")
	}
	if ch.Overlap >= ch.ChunkSize {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunk_size (%d)", ch.Overlap, ch.ChunkSize)
	}
	if ch.MinChunkSize > ch.ChunkSize {
		return fmt.Errorf("chunking.min_chunk_size (%d) must not exceed chunk_size (%d)", ch.MinChunkSize, ch.ChunkSize)
	}

	if !oneOf(c.Embedding.Provider, "openai", "onnx", "mock") {
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	if !oneOf(c.Generation.Provider, "openai", "mock") {
		return fmt.Errorf("unknown generation.provider %q", c.Generation.Provider)
	}
	if !oneOf(c.Vector.Backend, "memory", "faiss", "chroma") {
		return fmt.Errorf("unknown vector.backend %q", c.Vector.Backend)
	}
	if !oneOf(c.Vector.Normalizer, "inverse_distance", "cosine") {
		return fmt.Errorf("unknown vector.normalizer %q", c.Vector.Normalizer)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
