package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotAndRestore(t *testing.T) {
	kb := NewInMemoryBase()
	if err := kb.Add(makeEntry("boundary", "prober_0", "sqli")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := kb.Add(makeEntry("evasion", "exploiter_0", "sqli", "union")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "kb.yaml")
	if err := kb.Snapshot(path); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	restored := NewInMemoryBase()
	if err := restored.Restore(path); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got := restored.Query(Filter{})
	if len(got) != 2 {
		t.Fatalf("expected 2 restored entries, got %d", len(got))
	}
	if tagged := restored.Query(Filter{Tags: []string{"union"}}); len(tagged) != 1 {
		t.Errorf("expected tag index rebuilt, got %d tagged entries", len(tagged))
	}

	orig := kb.Query(Filter{EntryType: "evasion"})
	back := restored.Query(Filter{EntryType: "evasion"})
	if len(orig) != 1 || len(back) != 1 || orig[0].EntryID != back[0].EntryID {
		t.Errorf("restored entry lost its id: %+v vs %+v", orig, back)
	}
}

func TestSnapshotEmptyPathIsNoop(t *testing.T) {
	kb := NewInMemoryBase()
	if err := kb.Snapshot(""); err != nil {
		t.Fatalf("empty path should be a no-op, got %v", err)
	}
}

func TestRestoreMissingFile(t *testing.T) {
	kb := NewInMemoryBase()
	if err := kb.Restore(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing snapshot file")
	}
}
