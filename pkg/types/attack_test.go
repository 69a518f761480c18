package types

import (
	"testing"
)

func TestAttackIDsUniqueInTightLoop(t *testing.T) {
	const n = 200
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		a := NewAttack("sql_injection", "union", "' UNION SELECT 1--")
		if _, dup := seen[a.AttackID]; dup {
			t.Fatalf("duplicate attack id after %d attacks: %s", i, a.AttackID)
		}
		seen[a.AttackID] = struct{}{}
	}
}

func TestCloneSiblingsGetDistinctIDs(t *testing.T) {
	parent := NewAttack("sql_injection", "union", "' OR 1=1--")

	a := parent.CloneWithPayload("' OR 1=1--", "case_variation")
	b := parent.CloneWithPayload("' oR 1=1--", "case_variation")
	c := parent.CloneWithPayload("' Or 1=1--", "case_variation")

	if a.AttackID == b.AttackID || a.AttackID == c.AttackID || b.AttackID == c.AttackID {
		t.Fatalf("sibling clones share ids: %s / %s / %s", a.AttackID, b.AttackID, c.AttackID)
	}
	for _, child := range []*Attack{a, b, c} {
		if child.ParentAttackID != parent.AttackID {
			t.Errorf("child %s lost lineage: parent %s, want %s",
				child.AttackID, child.ParentAttackID, parent.AttackID)
		}
		if child.Generation != parent.Generation+1 {
			t.Errorf("child generation = %d, want %d", child.Generation, parent.Generation+1)
		}
	}
}

func TestHashStableAcrossInstances(t *testing.T) {
	a := NewAttack("sql_injection", "union", "' UNION SELECT 1--")
	b := NewAttack("sql_injection", "union", "' UNION SELECT 1--")

	if a.AttackID == b.AttackID {
		t.Error("identical payloads must still get distinct attack ids")
	}
	if a.Hash() != b.Hash() {
		t.Errorf("dedup hash differs for identical content: %s vs %s", a.Hash(), b.Hash())
	}
	if len(a.Hash()) != 16 {
		t.Errorf("hash length = %d, want 16", len(a.Hash()))
	}
}

func TestCapabilityListSorted(t *testing.T) {
	s := NewCapabilitySet(CapabilityValidate, CapabilityGenerate, CapabilityMutate, CapabilityDebate)
	want := []string{"debate", "generate", "mutate", "validate"}

	for i := 0; i < 20; i++ {
		got := s.List()
		if len(got) != len(want) {
			t.Fatalf("List() = %v, want %v", got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("List() = %v, want %v", got, want)
			}
		}
	}
}

func TestNormalizeTagsSorted(t *testing.T) {
	e := &KnowledgeEntry{
		EntryType: "evasion",
		Tags: map[string]struct{}{
			"union": {}, "boundary": {}, "sqli": {},
		},
	}

	for i := 0; i < 20; i++ {
		e.NormalizeTags()
		want := []string{"boundary", "sqli", "union"}
		for j := range want {
			if e.TagList[j] != want[j] {
				t.Fatalf("TagList = %v, want %v", e.TagList, want)
			}
		}
	}
}
