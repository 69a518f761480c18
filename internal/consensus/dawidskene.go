// Package consensus aggregates imperfect judge votes into calibrated
// labels with the Dawid-Skene EM model, jointly estimating each judge's
// reliability and the class prior.
package consensus

import "fmt"

// Vote is one judge's binary rating of one item (0 = not detected,
// 1 = detected)
type Vote struct {
	ItemID  string
	JudgeID string
	Label   int
}

// ItemPosterior is the calibrated output for one item
type ItemPosterior struct {
	ItemID     string
	Label      int     // arg-max class
	Confidence float64 // posterior probability of the chosen class
}

// JudgeReliability is a judge's estimated 2x2 confusion matrix:
// rows are true class, columns are observed vote.
type JudgeReliability struct {
	JudgeID string
	Matrix  [2][2]float64
}

// Model runs fixed-iteration EM. There is no convergence check: the
// iteration budget is a tunable default.
type Model struct {
	iterations int
}

// NewModel creates a model with the given EM iteration budget
func NewModel(iterations int) *Model {
	if iterations <= 0 {
		iterations = 20
	}
	return &Model{iterations: iterations}
}

// Run estimates per-item posteriors and per-judge reliability from the
// observed votes
func (m *Model) Run(votes []Vote) ([]ItemPosterior, []JudgeReliability, error) {
	if len(votes) == 0 {
		return nil, nil, fmt.Errorf("no votes to aggregate")
	}

	itemIDs, judgeIDs := collectIDs(votes)
	itemIdx := indexOf(itemIDs)
	judgeIdx := indexOf(judgeIDs)

	// byItem[i] holds the (judge, label) observations for item i
	type obs struct {
		judge int
		label int
	}
	byItem := make([][]obs, len(itemIDs))
	byJudge := make([][]struct{ item, label int }, len(judgeIDs))
	for _, v := range votes {
		if v.Label != 0 && v.Label != 1 {
			return nil, nil, fmt.Errorf("vote for item %s has non-binary label %d", v.ItemID, v.Label)
		}
		i, j := itemIdx[v.ItemID], judgeIdx[v.JudgeID]
		byItem[i] = append(byItem[i], obs{judge: j, label: v.Label})
		byJudge[j] = append(byJudge[j], struct{ item, label int }{item: i, label: v.Label})
	}

	// Initialize posteriors from majority vote; ties and unrated items
	// get a uniform prior.
	posteriors := make([][2]float64, len(itemIDs))
	for i, ratings := range byItem {
		ones := 0
		for _, r := range ratings {
			ones += r.label
		}
		switch {
		case len(ratings) == 0 || ones*2 == len(ratings):
			posteriors[i] = [2]float64{0.5, 0.5}
		case ones*2 > len(ratings):
			posteriors[i] = [2]float64{0.0, 1.0}
		default:
			posteriors[i] = [2]float64{1.0, 0.0}
		}
	}

	prior := [2]float64{0.5, 0.5}
	confusion := make([][2][2]float64, len(judgeIDs))
	for j := range confusion {
		confusion[j] = [2][2]float64{{0.9, 0.1}, {0.1, 0.9}}
	}

	for iter := 0; iter < m.iterations; iter++ {
		// E-step: combine the class prior with every rating judge's
		// likelihood of the observed vote, then normalize.
		for i, ratings := range byItem {
			likelihood := [2]float64{prior[0], prior[1]}
			for _, r := range ratings {
				for trueClass := 0; trueClass < 2; trueClass++ {
					likelihood[trueClass] *= confusion[r.judge][trueClass][r.label]
				}
			}
			total := likelihood[0] + likelihood[1]
			if total > 0 {
				posteriors[i] = [2]float64{likelihood[0] / total, likelihood[1] / total}
			} else {
				posteriors[i] = [2]float64{0.5, 0.5}
			}
		}

		// M-step: re-estimate each judge's confusion matrix from the
		// current posteriors, row-normalizing; rows with no mass fall
		// back to an uninformative 0.5/0.5.
		for j := range confusion {
			var counts [2][2]float64
			for _, o := range byJudge[j] {
				for trueClass := 0; trueClass < 2; trueClass++ {
					counts[trueClass][o.label] += posteriors[o.item][trueClass]
				}
			}
			for trueClass := 0; trueClass < 2; trueClass++ {
				rowSum := counts[trueClass][0] + counts[trueClass][1]
				if rowSum > 0 {
					confusion[j][trueClass][0] = counts[trueClass][0] / rowSum
					confusion[j][trueClass][1] = counts[trueClass][1] / rowSum
				} else {
					confusion[j][trueClass] = [2]float64{0.5, 0.5}
				}
			}
		}

		// Update the class prior as the mean of item posteriors
		var sum [2]float64
		for _, p := range posteriors {
			sum[0] += p[0]
			sum[1] += p[1]
		}
		prior[0] = sum[0] / float64(len(posteriors))
		prior[1] = sum[1] / float64(len(posteriors))
	}

	out := make([]ItemPosterior, len(itemIDs))
	for i, id := range itemIDs {
		label := 0
		confidence := posteriors[i][0]
		if posteriors[i][1] > posteriors[i][0] {
			label = 1
			confidence = posteriors[i][1]
		}
		out[i] = ItemPosterior{ItemID: id, Label: label, Confidence: confidence}
	}

	reliability := make([]JudgeReliability, len(judgeIDs))
	for j, id := range judgeIDs {
		reliability[j] = JudgeReliability{JudgeID: id, Matrix: confusion[j]}
	}
	return out, reliability, nil
}

// collectIDs returns item and judge ids in first-seen order so results
// are deterministic for a given vote sequence
func collectIDs(votes []Vote) ([]string, []string) {
	var items, judges []string
	seenItem := make(map[string]bool)
	seenJudge := make(map[string]bool)
	for _, v := range votes {
		if !seenItem[v.ItemID] {
			seenItem[v.ItemID] = true
			items = append(items, v.ItemID)
		}
		if !seenJudge[v.JudgeID] {
			seenJudge[v.JudgeID] = true
			judges = append(judges, v.JudgeID)
		}
	}
	return items, judges
}

func indexOf(ids []string) map[string]int {
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}
	return idx
}
