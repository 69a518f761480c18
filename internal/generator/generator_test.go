package generator

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubGenerator is a scripted generator for tests
type stubGenerator struct {
	name      string
	responses []string
	errs      []error
	calls     int
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	if len(s.responses) > 0 {
		return s.responses[len(s.responses)-1], nil
	}
	return "", errors.New("no scripted response")
}

func (s *stubGenerator) Name() string  { return s.name }
func (s *stubGenerator) Model() string { return "stub-model" }

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain json", `{"payload": "x"}`, false},
		{"fenced json", "```json\n{\"payload\": \"x\"}\n```", false},
		{"fenced no lang", "```\n{\"payload\": \"x\"}\n```", false},
		{"prose wrapped", "Here you go:\n{\"payload\": \"x\"}\nDone.", false},
		{"garbage", "not json at all", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result map[string]string
			err := ParseJSONResponse(tt.content, &result)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseJSONResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && result["payload"] != "x" {
				t.Errorf("expected payload=x, got %q", result["payload"])
			}
		})
	}
}

func TestCachedGenerator(t *testing.T) {
	stub := &stubGenerator{name: "stub", responses: []string{"first", "second"}}
	cached := NewCachedGenerator(stub, time.Minute, 10)

	got1, err := cached.Generate(context.Background(), "prompt", 100, 0.5)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	got2, err := cached.Generate(context.Background(), "prompt", 100, 0.5)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if got1 != "first" || got2 != "first" {
		t.Errorf("expected cache hit to repeat first response, got %q / %q", got1, got2)
	}
	if stub.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", stub.calls)
	}

	// A different prompt must miss
	got3, _ := cached.Generate(context.Background(), "other prompt", 100, 0.5)
	if got3 != "second" {
		t.Errorf("expected cache miss for new prompt, got %q", got3)
	}
}

func TestCachedGeneratorEviction(t *testing.T) {
	stub := &stubGenerator{name: "stub", responses: []string{"r"}}
	cached := NewCachedGenerator(stub, time.Minute, 2)

	cached.Generate(context.Background(), "a", 10, 0)
	cached.Generate(context.Background(), "b", 10, 0)
	cached.Generate(context.Background(), "c", 10, 0)

	cached.mu.RLock()
	defer cached.mu.RUnlock()
	if len(cached.entries) > 2 {
		t.Errorf("cache exceeded max size: %d entries", len(cached.entries))
	}
}

func TestFallbackGenerator(t *testing.T) {
	t.Run("primary success", func(t *testing.T) {
		primary := &stubGenerator{name: "p", responses: []string{"ok"}}
		backup := &stubGenerator{name: "b", responses: []string{"backup"}}
		fg, err := NewFallbackGenerator(primary, backup)
		if err != nil {
			t.Fatalf("NewFallbackGenerator failed: %v", err)
		}

		got, err := fg.Generate(context.Background(), "prompt", 10, 0)
		if err != nil || got != "ok" {
			t.Errorf("expected primary response, got %q err=%v", got, err)
		}
		if backup.calls != 0 {
			t.Errorf("backup should not be called on primary success")
		}
	})

	t.Run("falls through to backup", func(t *testing.T) {
		primary := &stubGenerator{name: "p", errs: []error{ErrRateLimited}}
		backup := &stubGenerator{name: "b", responses: []string{"backup"}}
		fg, _ := NewFallbackGenerator(primary, backup)

		got, err := fg.Generate(context.Background(), "prompt", 10, 0)
		if err != nil || got != "backup" {
			t.Errorf("expected backup response, got %q err=%v", got, err)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		primary := &stubGenerator{name: "p", errs: []error{ErrProviderError}}
		fg, _ := NewFallbackGenerator(primary)

		if _, err := fg.Generate(context.Background(), "prompt", 10, 0); err == nil {
			t.Error("expected error when every generator fails")
		}
	})

	t.Run("empty chain rejected", func(t *testing.T) {
		if _, err := NewFallbackGenerator(); err == nil {
			t.Error("expected error for empty chain")
		}
	})
}
