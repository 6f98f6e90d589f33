// Package llm talks to text generation providers and derives case metadata with them.
package llm

import (
	"context"
	"fmt"

	"github.com/hyperjump/casepilot/internal/config"
	"go.uber.org/zap"
)

// Options are per-call generation parameters. A zero Model uses the provider default.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// New builds the configured generation provider.
func New(cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "openai":
		g, err := NewOpenAIGenerator(OpenAIConfig{
			APIKey:     cfg.APIKey(),
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("generation provider ready", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
		return g, nil
	case "mock":
		logger.Warn("using mock generation provider; generated proposals are placeholders")
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
	}
}
