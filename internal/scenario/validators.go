package scenario

import (
	"strings"
	"unicode/utf8"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// SyntaxValidator rejects empty, oversized, or non-UTF8 payloads
type SyntaxValidator struct {
	MaxLength int
}

// Validate checks basic payload well-formedness
func (v SyntaxValidator) Validate(attack *types.Attack) (bool, string) {
	if strings.TrimSpace(attack.Payload) == "" {
		return false, "empty payload"
	}
	max := v.MaxLength
	if max == 0 {
		max = 8192
	}
	if len(attack.Payload) > max {
		return false, "payload exceeds maximum length"
	}
	if !utf8.ValidString(attack.Payload) {
		return false, "payload is not valid UTF-8"
	}
	return true, ""
}

// ValidatorType identifies this validator in failure tallies
func (SyntaxValidator) ValidatorType() string { return "syntax" }

// TechniqueValidator rejects attacks whose technique the scenario does
// not advertise
type TechniqueValidator struct {
	Known []string
}

// Validate checks the attack names a known technique
func (v TechniqueValidator) Validate(attack *types.Attack) (bool, string) {
	for _, t := range v.Known {
		if attack.Technique == t {
			return true, ""
		}
	}
	return false, "unknown technique: " + attack.Technique
}

// ValidatorType identifies this validator in failure tallies
func (TechniqueValidator) ValidatorType() string { return "technique" }
