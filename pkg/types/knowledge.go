package types

import (
	"sort"
	"time"
)

// KnowledgeEntry is a single immutable fact on the shared blackboard.
// Entries are never mutated after insertion.
type KnowledgeEntry struct {
	EntryID     string              `json:"entry_id" yaml:"entry_id"`
	SourceAgent string              `json:"source_agent" yaml:"source_agent"`
	Timestamp   time.Time           `json:"timestamp" yaml:"timestamp"`
	EntryType   string              `json:"entry_type" yaml:"entry_type"`
	Data        map[string]any      `json:"data" yaml:"data"`
	Confidence  float64             `json:"confidence" yaml:"confidence"`
	Tags        map[string]struct{} `json:"-" yaml:"-"`

	// TagList mirrors Tags for serialization
	TagList []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// HasTag reports tag membership
func (e *KnowledgeEntry) HasTag(tag string) bool {
	_, ok := e.Tags[tag]
	return ok
}

// NormalizeTags rebuilds the set/list views so both stay consistent
func (e *KnowledgeEntry) NormalizeTags() {
	if e.Tags == nil {
		e.Tags = make(map[string]struct{})
	}
	for _, t := range e.TagList {
		e.Tags[t] = struct{}{}
	}
	e.TagList = e.TagList[:0]
	for t := range e.Tags {
		e.TagList = append(e.TagList, t)
	}
	sort.Strings(e.TagList)
}
