// Package evolution implements the diversity-preserving evolutionary
// mutation engine: dual-objective fitness, Pareto selection, and a
// bounded novelty archive.
package evolution

import (
	"math"
	"strings"
)

// BehaviorDescriptor is a feature vector extracted from a payload, used
// for novelty scoring
type BehaviorDescriptor struct {
	Length       float64
	SpecialCount float64
	DigitCount   float64
	Entropy      float64
}

// DescribePayload extracts the behavior features of a payload
func DescribePayload(payload string) BehaviorDescriptor {
	var special, digits float64
	for _, r := range payload {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("'\";()<>{}[]|&$%#@!*-+=/\\", r):
			special++
		}
	}
	return BehaviorDescriptor{
		Length:       float64(len(payload)),
		SpecialCount: special,
		DigitCount:   digits,
		Entropy:      shannonEntropy(payload),
	}
}

// Distance returns the Euclidean distance between two descriptors
func (d BehaviorDescriptor) Distance(other BehaviorDescriptor) float64 {
	dl := d.Length - other.Length
	ds := d.SpecialCount - other.SpecialCount
	dd := d.DigitCount - other.DigitCount
	de := d.Entropy - other.Entropy
	return math.Sqrt(dl*dl + ds*ds + dd*dd + de*de)
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
