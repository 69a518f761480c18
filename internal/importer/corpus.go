// Package importer loads seed attack corpora from disk so evaluations
// can start from known payloads instead of scenario baselines alone.
package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// SeedCorpus is the on-disk seed file format
type SeedCorpus struct {
	Scenario    string      `json:"scenario" yaml:"scenario"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Seeds       []SeedEntry `json:"seeds" yaml:"seeds"`
}

// SeedEntry is a single starting payload. Malicious and detection
// expectations default to true when omitted.
type SeedEntry struct {
	Technique         string            `json:"technique" yaml:"technique"`
	Payload           string            `json:"payload" yaml:"payload"`
	Benign            bool              `json:"benign,omitempty" yaml:"benign,omitempty"`
	ExpectedDetection *bool             `json:"expected_detection,omitempty" yaml:"expected_detection,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// LoadCorpus parses a seed corpus file. The extension picks the codec:
// .yaml/.yml decode as YAML, everything else as JSON.
func LoadCorpus(path string) (*SeedCorpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed corpus: %w", err)
	}

	var corpus SeedCorpus
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &corpus)
	default:
		err = json.Unmarshal(data, &corpus)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse seed corpus: %w", err)
	}

	if corpus.Scenario == "" {
		return nil, fmt.Errorf("seed corpus is missing a scenario name")
	}
	return &corpus, nil
}

// ToAttacks converts seed entries to attacks, dropping entries with an
// empty payload and deduplicating by payload hash.
func ToAttacks(corpus *SeedCorpus) []*types.Attack {
	seen := make(map[string]bool)
	var attacks []*types.Attack

	for _, s := range corpus.Seeds {
		if s.Payload == "" {
			continue
		}
		attack := types.NewAttack(corpus.Scenario, s.Technique, s.Payload)
		attack.IsMalicious = !s.Benign
		attack.ExpectedDetection = !s.Benign
		if s.ExpectedDetection != nil {
			attack.ExpectedDetection = *s.ExpectedDetection
		}
		for k, v := range s.Metadata {
			attack.Metadata[k] = v
		}
		attack.Metadata["origin"] = "seed_corpus"

		if seen[attack.Hash()] {
			continue
		}
		seen[attack.Hash()] = true
		attacks = append(attacks, attack)
	}
	return attacks
}

// Techniques extracts the unique techniques used by a corpus
func Techniques(corpus *SeedCorpus) []string {
	seen := make(map[string]bool)
	var techniques []string

	for _, s := range corpus.Seeds {
		if s.Technique != "" && !seen[s.Technique] {
			seen[s.Technique] = true
			techniques = append(techniques, s.Technique)
		}
	}
	return techniques
}
