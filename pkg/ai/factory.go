package ai

import (
	"context"
	"fmt"
	"log/slog"

	"crmsync-backend/pkg/gemini"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType

	GeminiAPIKey string

	OllamaBaseURL string // e.g. "http://localhost:11434"
	OllamaModel   string // e.g. "llama3"
}

// NewSummarizer picks a provider from cfg. In auto mode Ollama is tried
// first with Gemini as fallback when a Gemini key is present.
func NewSummarizer(ctx context.Context, cfg Config, logger *slog.Logger) (Summarizer, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return gemini.NewService(ctx, cfg.GeminiAPIKey)

	case ProviderOllama:
		return NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel), nil

	case ProviderAuto, "":
		ollama := NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)
		if cfg.GeminiAPIKey == "" {
			return ollama, nil
		}
		g, err := gemini.NewService(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return NewFallbackService(ollama, g, logger), nil
	}
	return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
}
