package consensus

import (
	"fmt"
	"math"
	"testing"
)

// votesFromGrid builds votes from an item-by-judge label grid
func votesFromGrid(grid [][]int) []Vote {
	var votes []Vote
	for i, row := range grid {
		for j, label := range row {
			votes = append(votes, Vote{
				ItemID:  fmt.Sprintf("item_%d", i+1),
				JudgeID: fmt.Sprintf("judge_%d", j+1),
				Label:   label,
			})
		}
	}
	return votes
}

func posteriorFor(t *testing.T, posteriors []ItemPosterior, itemID string) ItemPosterior {
	t.Helper()
	for _, p := range posteriors {
		if p.ItemID == itemID {
			return p
		}
	}
	t.Fatalf("no posterior for %s", itemID)
	return ItemPosterior{}
}

func TestDawidSkeneCalibration(t *testing.T) {
	// 3 items x 3 judges: item 2 unanimously clean, item 3 unanimously
	// detected, item 1 split 2-1.
	votes := votesFromGrid([][]int{
		{1, 1, 0},
		{0, 0, 0},
		{1, 1, 1},
	})

	posteriors, reliability, err := NewModel(20).Run(votes)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(posteriors) != 3 || len(reliability) != 3 {
		t.Fatalf("expected 3 posteriors and 3 judges, got %d / %d", len(posteriors), len(reliability))
	}

	item2 := posteriorFor(t, posteriors, "item_2")
	if item2.Label != 0 || item2.Confidence <= 0.9 {
		t.Errorf("item 2: want label 0 with confidence > 0.9, got label %d conf %.3f", item2.Label, item2.Confidence)
	}

	item3 := posteriorFor(t, posteriors, "item_3")
	if item3.Label != 1 || item3.Confidence <= 0.9 {
		t.Errorf("item 3: want label 1 with confidence > 0.9, got label %d conf %.3f", item3.Label, item3.Confidence)
	}

	item1 := posteriorFor(t, posteriors, "item_1")
	if item1.Label != 1 {
		t.Errorf("item 1: majority detected, got label %d", item1.Label)
	}
}

func TestJudgeReliabilityRowsNormalized(t *testing.T) {
	votes := votesFromGrid([][]int{
		{1, 0},
		{1, 1},
		{0, 0},
		{1, 0},
	})

	_, reliability, err := NewModel(20).Run(votes)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, jr := range reliability {
		for trueClass := 0; trueClass < 2; trueClass++ {
			row := jr.Matrix[trueClass][0] + jr.Matrix[trueClass][1]
			if math.Abs(row-1.0) > 1e-9 {
				t.Errorf("judge %s row %d sums to %f, want 1", jr.JudgeID, trueClass, row)
			}
		}
	}
}

func TestUnreliableJudgeDownweighted(t *testing.T) {
	// Two reliable judges agree on every item; a third always votes
	// the opposite. The contrarian must not flip the consensus.
	grid := [][]int{
		{1, 1, 0},
		{1, 1, 0},
		{0, 0, 1},
		{1, 1, 0},
		{0, 0, 1},
		{1, 1, 0},
	}

	posteriors, _, err := NewModel(20).Run(votesFromGrid(grid))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i, row := range grid {
		want := row[0] // the reliable pair's vote
		got := posteriorFor(t, posteriors, fmt.Sprintf("item_%d", i+1))
		if got.Label != want {
			t.Errorf("item %d: consensus %d, want %d", i+1, got.Label, want)
		}
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	if _, _, err := NewModel(20).Run(nil); err == nil {
		t.Error("expected error for empty votes")
	}
	if _, _, err := NewModel(20).Run([]Vote{{ItemID: "a", JudgeID: "j", Label: 3}}); err == nil {
		t.Error("expected error for non-binary label")
	}
}

func TestDeterministicAcrossRuns(t *testing.T) {
	votes := votesFromGrid([][]int{
		{1, 0, 1},
		{0, 1, 0},
		{1, 1, 1},
	})

	first, _, err := NewModel(20).Run(votes)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, _, err := NewModel(20).Run(votes)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i := range first {
		if first[i] != second[i] {
			t.Errorf("posterior %d differs across runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
