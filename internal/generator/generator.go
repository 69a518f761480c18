// Package generator provides the optional text-generation port. Every
// consumer of this port carries a deterministic fallback path that runs
// when the port errors or is absent.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Common generator errors
var (
	ErrNoAPIKey      = errors.New("no API key configured")
	ErrRateLimited   = errors.New("rate limited by provider")
	ErrProviderError = errors.New("provider returned an error")
	ErrNoGenerator   = errors.New("no generator configured")
)

// Generator is the narrow generation port the engine consumes
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
	Name() string
	Model() string
}

// ParseJSONResponse extracts and unmarshals JSON from a model response,
// tolerating markdown code fences around the document.
func ParseJSONResponse(content string, result interface{}) error {
	cleaned := strings.TrimSpace(content)

	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx != -1 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx != -1 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	// Fall back to the outermost braces when the model added prose
	if !strings.HasPrefix(cleaned, "{") && !strings.HasPrefix(cleaned, "[") {
		start := strings.IndexAny(cleaned, "{[")
		end := strings.LastIndexAny(cleaned, "}]")
		if start != -1 && end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	return json.Unmarshal([]byte(cleaned), result)
}
