// Package gemini summarizes text with the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"crmsync-backend/pkg/ai/prompt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-2.5-flash"

type Service struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewService(ctx context.Context, apiKey string) (*Service, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := client.GenerativeModel(defaultModel)
	model.SetTemperature(0.3)
	model.ResponseMIMEType = "application/json"
	return &Service{client: client, model: model}, nil
}

func (s *Service) SummarizeEmail(ctx context.Context, emailText string) (string, error) {
	resp, err := s.model.GenerateContent(ctx, genai.Text(fmt.Sprintf(prompt.Summary, emailText)))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no summary returned")
	}
	return b.String(), nil
}

func (s *Service) Close() error {
	return s.client.Close()
}
