package embedding

import (
	"fmt"
	"time"

	"aero-doc-go/internal/config"
)

// NewFromConfig 根据 embedding.provider 选择后端，并套上分批/重试的 Client。
func NewFromConfig(cfg config.EmbeddingConfig, rag config.RAGConfig, callTimeout time.Duration) (*Client, error) {
	var backend Backend
	switch cfg.Provider {
	case "", "openai":
		backend = NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "ollama":
		backend = NewOllamaBackend(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return NewClient(backend, Options{
		BatchSize:         rag.BatchSize,
		Attempts:          rag.RetryCeiling,
		BackoffMin:        rag.BackoffMin,
		BackoffMax:        rag.BackoffMax,
		PacingMin:         rag.PacingMin,
		PacingMax:         rag.PacingMax,
		CallTimeout:       callTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Dimensions:        cfg.Dimensions,
		QueryPrefix:       cfg.QueryPrefix,
		DocumentPrefix:    cfg.DocumentPrefix,
	})
}
