package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// FallbackService tries the primary provider and falls back to the secondary.
// When the secondary is out of quota the primary gets one more try.
type FallbackService struct {
	primary   Summarizer
	secondary Summarizer
	logger    *slog.Logger
}

func NewFallbackService(primary, secondary Summarizer, logger *slog.Logger) *FallbackService {
	return &FallbackService{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With("component", "ai_fallback"),
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return containsAny(err.Error(), "connection refused", "no such host", "network is unreachable", "connection reset", "timeout", "dial tcp", "eof")
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), "429", "quota", "rate limit", "too many requests", "resource exhausted", "resource_exhausted")
}

func containsAny(s string, needles ...string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func (f *FallbackService) SummarizeEmail(ctx context.Context, emailText string) (string, error) {
	if f.primary != nil {
		result, err := f.primary.SummarizeEmail(ctx, emailText)
		if err == nil {
			return result, nil
		}
		f.logger.Warn("primary summarizer failed, falling back", "error", err, "connection_error", isConnectionError(err))
	}

	if f.secondary != nil {
		result, err := f.secondary.SummarizeEmail(ctx, emailText)
		if err == nil {
			return result, nil
		}
		if isQuotaError(err) && f.primary != nil {
			f.logger.Warn("secondary summarizer out of quota, retrying primary", "error", err)
			return f.primary.SummarizeEmail(ctx, emailText)
		}
		return "", fmt.Errorf("fallback summarization failed: %w", err)
	}

	return "", fmt.Errorf("no AI provider available for summarization")
}
