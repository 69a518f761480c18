// Package knowledge implements the shared append-only blackboard agents
// use to coordinate indirectly.
package knowledge

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Base is the contract every agent receives at construction
type Base interface {
	Add(entry *types.KnowledgeEntry) error
	Query(filter Filter) []*types.KnowledgeEntry
	Latest(entryType string, n int) []*types.KnowledgeEntry
	Clear()
	Stats() Stats
}

// Filter narrows a query; zero fields match everything
type Filter struct {
	EntryType   string
	Tags        []string // entry matches when it carries ANY listed tag
	SourceAgent string
	Since       time.Time
}

// Stats summarizes the store contents
type Stats struct {
	TotalEntries      int            `json:"total_entries"`
	EntriesByType     map[string]int `json:"entries_by_type"`
	EntriesBySource   map[string]int `json:"entries_by_source"`
	OldestEntry       time.Time      `json:"oldest_entry"`
	NewestEntry       time.Time      `json:"newest_entry"`
}

// InMemoryBase stores entries in insertion order with secondary indexes
// for type, tag, and source lookups. A single RWMutex guards mutation so
// concurrent writers from a worker pool are safe; readers get copies.
type InMemoryBase struct {
	mu      sync.RWMutex
	entries []*types.KnowledgeEntry

	byType   map[string][]int
	byTag    map[string][]int
	bySource map[string][]int
}

// NewInMemoryBase creates an empty knowledge base
func NewInMemoryBase() *InMemoryBase {
	b := &InMemoryBase{}
	b.reset()
	return b
}

func (b *InMemoryBase) reset() {
	b.entries = nil
	b.byType = make(map[string][]int)
	b.byTag = make(map[string][]int)
	b.bySource = make(map[string][]int)
}

// Add appends an immutable entry. The stored copy is decoupled from the
// caller's value so later caller mutation cannot corrupt the log.
func (b *InMemoryBase) Add(entry *types.KnowledgeEntry) error {
	if entry == nil {
		return fmt.Errorf("nil knowledge entry")
	}
	if entry.EntryType == "" {
		return fmt.Errorf("knowledge entry missing entry_type")
	}

	stored := copyEntry(entry)
	if stored.EntryID == "" {
		stored.EntryID = uuid.NewString()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	stored.NormalizeTags()

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := len(b.entries)
	b.entries = append(b.entries, stored)
	b.byType[stored.EntryType] = append(b.byType[stored.EntryType], idx)
	b.bySource[stored.SourceAgent] = append(b.bySource[stored.SourceAgent], idx)
	for tag := range stored.Tags {
		b.byTag[tag] = append(b.byTag[tag], idx)
	}
	return nil
}

// Query returns matching entries sorted by timestamp descending
func (b *InMemoryBase) Query(filter Filter) []*types.KnowledgeEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	candidates := b.candidateIndexes(filter)

	out := make([]*types.KnowledgeEntry, 0, len(candidates))
	for _, idx := range candidates {
		e := b.entries[idx]
		if filter.EntryType != "" && e.EntryType != filter.EntryType {
			continue
		}
		if filter.SourceAgent != "" && e.SourceAgent != filter.SourceAgent {
			continue
		}
		if !filter.Since.IsZero() && !e.Timestamp.After(filter.Since) {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(e, filter.Tags) {
			continue
		}
		out = append(out, copyEntry(e))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// candidateIndexes picks the narrowest available index for the filter
func (b *InMemoryBase) candidateIndexes(filter Filter) []int {
	if filter.EntryType != "" {
		return b.byType[filter.EntryType]
	}
	if filter.SourceAgent != "" {
		return b.bySource[filter.SourceAgent]
	}
	if len(filter.Tags) == 1 {
		return b.byTag[filter.Tags[0]]
	}
	all := make([]int, len(b.entries))
	for i := range b.entries {
		all[i] = i
	}
	return all
}

// Latest returns the n most recent entries of a type
func (b *InMemoryBase) Latest(entryType string, n int) []*types.KnowledgeEntry {
	matches := b.Query(Filter{EntryType: entryType})
	if n < len(matches) {
		matches = matches[:n]
	}
	return matches
}

// Clear drops every entry. Used only at the start of a fresh run.
func (b *InMemoryBase) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// Stats summarizes the current contents
func (b *InMemoryBase) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		TotalEntries:    len(b.entries),
		EntriesByType:   make(map[string]int),
		EntriesBySource: make(map[string]int),
	}
	for i, e := range b.entries {
		s.EntriesByType[e.EntryType]++
		s.EntriesBySource[e.SourceAgent]++
		if i == 0 || e.Timestamp.Before(s.OldestEntry) {
			s.OldestEntry = e.Timestamp
		}
		if e.Timestamp.After(s.NewestEntry) {
			s.NewestEntry = e.Timestamp
		}
	}
	return s
}

func hasAnyTag(e *types.KnowledgeEntry, tags []string) bool {
	for _, t := range tags {
		if e.HasTag(t) {
			return true
		}
	}
	return false
}

func copyEntry(e *types.KnowledgeEntry) *types.KnowledgeEntry {
	dup := *e
	dup.Data = make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		dup.Data[k] = v
	}
	dup.Tags = make(map[string]struct{}, len(e.Tags))
	for t := range e.Tags {
		dup.Tags[t] = struct{}{}
	}
	dup.TagList = append([]string(nil), e.TagList...)
	return &dup
}
