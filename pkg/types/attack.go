// Package types provides shared type definitions for the evaluation engine
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// Attack represents a single test payload with its lineage metadata
type Attack struct {
	AttackID          string            `json:"attack_id" yaml:"attack_id"`
	Scenario          string            `json:"scenario" yaml:"scenario"`
	Technique         string            `json:"technique" yaml:"technique"`
	Payload           string            `json:"payload" yaml:"payload"`
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	IsMalicious       bool              `json:"is_malicious" yaml:"is_malicious"`
	ExpectedDetection bool              `json:"expected_detection" yaml:"expected_detection"`

	// Lineage
	ParentAttackID string `json:"parent_attack_id,omitempty" yaml:"parent_attack_id,omitempty"`
	Generation     int    `json:"generation" yaml:"generation"`
	MutationType   string `json:"mutation_type,omitempty" yaml:"mutation_type,omitempty"`

	// Validation
	IsValid          bool     `json:"is_valid" yaml:"is_valid"`
	ValidationErrors []string `json:"validation_errors,omitempty" yaml:"validation_errors,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NewAttack creates an attack with a fresh ID. The payload is immutable
// after creation; derive variants via CloneWithPayload.
func NewAttack(scenario, technique, payload string) *Attack {
	now := time.Now()
	return &Attack{
		AttackID:          CreateAttackID(scenario, technique, now),
		Scenario:          scenario,
		Technique:         technique,
		Payload:           payload,
		Metadata:          make(map[string]string),
		IsMalicious:       true,
		ExpectedDetection: true,
		IsValid:           true,
		CreatedAt:         now,
	}
}

// Hash returns a stable dedup key over (scenario, technique, payload)
func (a *Attack) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", a.Scenario, a.Technique, a.Payload)))
	return hex.EncodeToString(sum[:])[:16]
}

// CloneWithPayload derives a child attack carrying lineage back to a
func (a *Attack) CloneWithPayload(payload, mutationType string) *Attack {
	child := NewAttack(a.Scenario, a.Technique, payload)
	child.IsMalicious = a.IsMalicious
	child.ExpectedDetection = a.ExpectedDetection
	child.ParentAttackID = a.AttackID
	child.Generation = a.Generation + 1
	child.MutationType = mutationType
	for k, v := range a.Metadata {
		child.Metadata[k] = v
	}
	return child
}

// attackSeq disambiguates attacks created within the same microsecond,
// e.g. the sibling clones a single mutator call produces.
var attackSeq atomic.Uint64

// CreateAttackID builds a readable unique attack identifier
func CreateAttackID(scenario, technique string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%d_%d", scenario, technique, ts.UnixMicro(), attackSeq.Add(1))
}
