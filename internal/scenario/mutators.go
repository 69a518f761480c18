package scenario

import (
	"net/url"
	"strings"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// CaseMutator produces case variants of keyword-bearing payloads
type CaseMutator struct{}

// Mutate returns alternating-case, upper, and lower variants
func (CaseMutator) Mutate(attack *types.Attack) []*types.Attack {
	payload := attack.Payload
	variants := []string{
		alternateCase(payload),
		strings.ToUpper(payload),
		strings.ToLower(payload),
	}

	out := make([]*types.Attack, 0, len(variants))
	for _, v := range variants {
		if v == payload {
			continue
		}
		out = append(out, attack.CloneWithPayload(v, "case_variation"))
	}
	return out
}

// MutationType returns the lineage tag
func (CaseMutator) MutationType() string { return "case_variation" }

// CommentMutator splices inline comments between tokens
type CommentMutator struct{}

// Mutate returns comment-injected variants
func (CommentMutator) Mutate(attack *types.Attack) []*types.Attack {
	payload := attack.Payload
	variants := []string{
		strings.ReplaceAll(payload, " ", "/**/"),
		strings.ReplaceAll(payload, " ", " /*x*/ "),
	}

	out := make([]*types.Attack, 0, len(variants))
	for _, v := range variants {
		if v == payload {
			continue
		}
		out = append(out, attack.CloneWithPayload(v, "comment_injection"))
	}
	return out
}

// MutationType returns the lineage tag
func (CommentMutator) MutationType() string { return "comment_injection" }

// WhitespaceMutator substitutes alternate whitespace characters
type WhitespaceMutator struct{}

// Mutate returns tab/newline/form-feed spaced variants
func (WhitespaceMutator) Mutate(attack *types.Attack) []*types.Attack {
	payload := attack.Payload
	variants := []string{
		strings.ReplaceAll(payload, " ", "\t"),
		strings.ReplaceAll(payload, " ", "\n"),
		strings.ReplaceAll(payload, " ", "\x0c"),
	}

	out := make([]*types.Attack, 0, len(variants))
	for _, v := range variants {
		if v == payload {
			continue
		}
		out = append(out, attack.CloneWithPayload(v, "whitespace_substitution"))
	}
	return out
}

// MutationType returns the lineage tag
func (WhitespaceMutator) MutationType() string { return "whitespace_substitution" }

// EncodingMutator URL-encodes payloads, singly and doubly
type EncodingMutator struct{}

// Mutate returns encoded variants
func (EncodingMutator) Mutate(attack *types.Attack) []*types.Attack {
	payload := attack.Payload
	single := url.QueryEscape(payload)
	variants := []string{
		single,
		url.QueryEscape(single),
	}

	out := make([]*types.Attack, 0, len(variants))
	for _, v := range variants {
		if v == payload {
			continue
		}
		out = append(out, attack.CloneWithPayload(v, "url_encoding"))
	}
	return out
}

// MutationType returns the lineage tag
func (EncodingMutator) MutationType() string { return "url_encoding" }

func alternateCase(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	upper := true
	for _, r := range s {
		if upper {
			sb.WriteString(strings.ToUpper(string(r)))
		} else {
			sb.WriteString(strings.ToLower(string(r)))
		}
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			upper = !upper
		}
	}
	return sb.String()
}
