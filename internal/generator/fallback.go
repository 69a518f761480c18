package generator

import (
	"context"
	"errors"
	"strings"
)

// FallbackGenerator chains providers: each Generate call walks the chain
// in order and returns the first success. A flaky primary endpoint then
// degrades a run instead of stalling it.
type FallbackGenerator struct {
	chain []Generator
}

// NewFallbackGenerator builds a chain from one or more generators
func NewFallbackGenerator(chain ...Generator) (*FallbackGenerator, error) {
	if len(chain) == 0 {
		return nil, ErrNoGenerator
	}
	return &FallbackGenerator{chain: chain}, nil
}

// Generate tries each generator in order until one succeeds
func (g *FallbackGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	var errs []error
	for _, gen := range g.chain {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		content, err := gen.Generate(ctx, prompt, maxTokens, temperature)
		if err == nil {
			return content, nil
		}
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}

// Name lists the chained provider names
func (g *FallbackGenerator) Name() string {
	names := make([]string, len(g.chain))
	for i, gen := range g.chain {
		names[i] = gen.Name()
	}
	return "fallback[" + strings.Join(names, ",") + "]"
}

// Model returns the primary model
func (g *FallbackGenerator) Model() string {
	return g.chain[0].Model()
}
