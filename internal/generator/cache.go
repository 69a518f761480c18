package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// CachedGenerator wraps a generator with TTL response caching. Judges and
// validators re-ask identical prompts frequently enough that this pays for
// itself on the first consensus round.
type CachedGenerator struct {
	inner Generator
	ttl   time.Duration
	max   int

	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	content   string
	timestamp time.Time
}

// NewCachedGenerator creates a caching wrapper. max bounds the entry count;
// on overflow the stalest entry is dropped.
func NewCachedGenerator(inner Generator, ttl time.Duration, max int) *CachedGenerator {
	if max <= 0 {
		max = 512
	}
	return &CachedGenerator{
		inner:   inner,
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*cacheEntry),
	}
}

// Generate serves from cache when a fresh entry exists
func (g *CachedGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	key := g.cacheKey(prompt, maxTokens, temperature)

	if cached, ok := g.get(key); ok {
		return cached, nil
	}

	content, err := g.inner.Generate(ctx, prompt, maxTokens, temperature)
	if err != nil {
		return "", err
	}

	g.set(key, content)
	return content, nil
}

// Name returns the wrapped provider name
func (g *CachedGenerator) Name() string {
	return g.inner.Name() + "-cached"
}

// Model returns the wrapped model
func (g *CachedGenerator) Model() string {
	return g.inner.Model()
}

func (g *CachedGenerator) cacheKey(prompt string, maxTokens int, temperature float64) string {
	combined := fmt.Sprintf("%s:%s:%d:%.3f:%s", g.inner.Name(), g.inner.Model(), maxTokens, temperature, prompt)
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

func (g *CachedGenerator) get(key string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entry, ok := g.entries[key]
	if !ok || time.Since(entry.timestamp) > g.ttl {
		return "", false
	}
	return entry.content, true
}

func (g *CachedGenerator) set(key, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.entries) >= g.max {
		g.evictStalest()
	}
	g.entries[key] = &cacheEntry{content: content, timestamp: time.Now()}
}

// evictStalest drops the oldest entry; caller holds the write lock
func (g *CachedGenerator) evictStalest() {
	var stalestKey string
	var stalest time.Time
	for key, entry := range g.entries {
		if stalestKey == "" || entry.timestamp.Before(stalest) {
			stalestKey = key
			stalest = entry.timestamp
		}
	}
	if stalestKey != "" {
		delete(g.entries, stalestKey)
	}
}
