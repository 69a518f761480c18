package plugins

import (
	"testing"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
)

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	err := r.Register("sql_injection", func() scenario.Scenario {
		return scenario.NewSQLInjectionScenario()
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	scn, err := r.Create("sql_injection")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if scn.Name() != "sql_injection" {
		t.Errorf("unexpected scenario name: %s", scn.Name())
	}
	if len(scn.Techniques()) == 0 {
		t.Error("scenario lists no techniques")
	}
}

func TestRegistryCreateReturnsFreshInstances(t *testing.T) {
	r := BuiltinRegistry()

	a, err := r.Create("sql_injection")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Create("sql_injection")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("Create should return a fresh instance per call")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := BuiltinRegistry()
	err := r.Register("sql_injection", func() scenario.Scenario {
		return scenario.NewSQLInjectionScenario()
	})
	if err == nil {
		t.Fatal("expected error registering duplicate name")
	}
}

func TestRegistryRejectsBadInput(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", func() scenario.Scenario { return nil }); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register("x", nil); err == nil {
		t.Error("expected error for nil factory")
	}
}

func TestRegistryCreateUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("nope"); err == nil {
		t.Fatal("expected error for unknown scenario")
	}
}

func TestBuiltinRegistryContents(t *testing.T) {
	r := BuiltinRegistry()

	names := r.Names()
	want := []string{"prompt_injection", "sql_injection"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	if !r.Has("sql_injection") || r.Has("xss") {
		t.Error("Has() disagrees with registered names")
	}
}

func TestRegistryList(t *testing.T) {
	summaries := BuiltinRegistry().List()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	for _, s := range summaries {
		if len(s.Techniques) == 0 {
			t.Errorf("scenario %s lists no techniques", s.Name)
		}
		if s.Baseline == 0 {
			t.Errorf("scenario %s has no baseline samples", s.Name)
		}
	}
}

func TestRegisterLoadedPlugins(t *testing.T) {
	loader := NewLoader(t.TempDir(), t.TempDir())
	r := NewRegistry()

	// Empty loader registers nothing.
	if err := r.RegisterLoaded(loader); err != nil {
		t.Fatalf("RegisterLoaded failed: %v", err)
	}
	if len(r.Names()) != 0 {
		t.Errorf("expected empty registry, got %v", r.Names())
	}
}
