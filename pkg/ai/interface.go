package ai

import "context"

// Summarizer produces a summary for a block of email text.
// Implement this interface to add new AI providers.
type Summarizer interface {
	SummarizeEmail(ctx context.Context, emailText string) (string, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
