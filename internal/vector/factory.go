package vector

import (
	"fmt"
	"time"

	"github.com/hyperjump/casepilot/internal/config"
	"go.uber.org/zap"
)

// StoreType names a vector store backend.
type StoreType string

const (
	// StoreTypeMemory uses in-memory brute-force search.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeFAISS uses FAISS. Requires the FAISS library and -tags=faiss.
	StoreTypeFAISS StoreType = "faiss"
	// StoreTypeChroma talks to a Chroma server over REST.
	StoreTypeChroma StoreType = "chroma"
)

// NewStore creates the configured vector store. When FAISS is requested but not compiled in,
// it falls back to the memory store.
func NewStore(cfg config.VectorConfig, dimensions int, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch StoreType(cfg.Backend) {
	case StoreTypeMemory, "":
		return NewMemoryStore(dimensions)
	case StoreTypeFAISS:
		s, err := NewFAISSStore(dimensions)
		if err != nil {
			logger.Warn("FAISS unavailable, using memory vector store", zap.Error(err))
			return NewMemoryStore(dimensions)
		}
		return s, nil
	case StoreTypeChroma:
		return NewChromaStore(ChromaConfig{
			URL:        cfg.Chroma.URL,
			Collection: cfg.Chroma.Collection,
			Timeout:    time.Duration(cfg.Chroma.TimeoutSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, faiss, chroma)", cfg.Backend)
	}
}

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	s, err := NewFAISSStore(1)
	if err != nil {
		return false
	}
	_ = s.Close()
	return true
}
