package config

import "os"

const defaultAPIKeyEnv = "DASHSCOPE_API_KEY"

// DashScopeCompatibleURL is the OpenAI-compatible endpoint of DashScope.
const DashScopeCompatibleURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/casepilot/data/db/casepilot.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/casepilot/data/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/casepilot/data/indices/vectors"
	}

	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 800
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 100
	}
	if cfg.Chunking.MinChunkSize == 0 {
		cfg.Chunking.MinChunkSize = 200
	}

	e := &cfg.Embedding
	if e.APIKeyEnv == "" {
		e.APIKeyEnv = defaultAPIKeyEnv
	}
	if e.Provider == "" {
		if os.Getenv(e.APIKeyEnv) != "" {
			e.Provider = "openai"
		} else {
			e.Provider = "mock"
		}
	}
	if e.BaseURL == "" {
		e.BaseURL = DashScopeCompatibleURL
	}
	if e.Model == "" {
		e.Model = "text-embedding-v2"
	}
	if e.Dimensions == 0 {
		e.Dimensions = 1536
	}
	if e.BatchSize == 0 {
		e.BatchSize = 25
	}
	if e.BatchDelayMs == 0 {
		e.BatchDelayMs = 100
	}
	if e.TimeoutSecs == 0 {
		e.TimeoutSecs = 30
	}
	if e.BatchTimeoutSecs == 0 {
		e.BatchTimeoutSecs = 60
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 2
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}

	g := &cfg.Generation
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = defaultAPIKeyEnv
	}
	if g.Provider == "" {
		if os.Getenv(g.APIKeyEnv) != "" {
			g.Provider = "openai"
		} else {
			g.Provider = "mock"
		}
	}
	if g.BaseURL == "" {
		g.BaseURL = DashScopeCompatibleURL
	}
	if g.Model == "" {
		g.Model = "qwen-plus"
	}
	if g.ChatModel == "" {
		g.ChatModel = "qwen-turbo"
	}
	if g.EnrichModel == "" {
		g.EnrichModel = "qwen-turbo"
	}
	if g.Temperature == 0 {
		g.Temperature = 0.5
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = 6000
	}
	if g.ChatTemperature == 0 {
		g.ChatTemperature = 0.7
	}
	if g.ChatMaxTokens == 0 {
		g.ChatMaxTokens = 2000
	}
	if g.TimeoutSecs == 0 {
		g.TimeoutSecs = 180
	}
	if g.ChatTimeoutSecs == 0 {
		g.ChatTimeoutSecs = 30
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 1
	}

	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.Normalizer == "" {
		cfg.Vector.Normalizer = "inverse_distance"
	}
	if cfg.Vector.Chroma.URL == "" {
		cfg.Vector.Chroma.URL = "http://localhost:8000"
	}
	if cfg.Vector.Chroma.Collection == "" {
		cfg.Vector.Chroma.Collection = "project_cases"
	}
	if cfg.Vector.Chroma.TimeoutSecs == 0 {
		cfg.Vector.Chroma.TimeoutSecs = 30
	}

	r := &cfg.Retrieval
	if r.DefaultMinScore == 0 {
		r.DefaultMinScore = 0.5
	}
	if r.RelaxedMinScore == 0 {
		r.RelaxedMinScore = 0.3
	}
	if r.StrictMinScore == 0 {
		r.StrictMinScore = 0.7
	}
	if r.DefaultTopK == 0 {
		r.DefaultTopK = 5
	}
	if r.GenerationTopK == 0 {
		r.GenerationTopK = 6
	}
	if r.PerCaseCap == 0 {
		r.PerCaseCap = 2
	}
	if r.SemanticShare == 0 {
		r.SemanticShare = 0.7
	}
	if r.KeywordShare == 0 {
		r.KeywordShare = 0.3
	}
	if r.KeywordProbe == "" {
		r.KeywordProbe = "vector"
	}
	if r.Fusion.Strategy == "" {
		r.Fusion.Strategy = "max"
	}
	if r.Fusion.KeywordDiscount == 0 {
		r.Fusion.KeywordDiscount = 0.8
	}
	if r.Fusion.RRFK == 0 {
		r.Fusion.RRFK = 60
	}
	if r.Fusion.SemanticWeight == 0 {
		r.Fusion.SemanticWeight = 1.0
	}
	if r.Fusion.KeywordWeight == 0 {
		r.Fusion.KeywordWeight = 0.8
	}

	if cfg.Import.DelayMs == 0 {
		cfg.Import.DelayMs = 1000
	}
	if cfg.Import.Extensions == nil {
		cfg.Import.Extensions = []string{".docx", ".pdf", ".xlsx", ".md", ".txt"}
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = 400
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
