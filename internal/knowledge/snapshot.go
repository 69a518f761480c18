package knowledge

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Snapshot writes every entry to a YAML file for post-run analysis.
// The write is atomic via a rename from a temp file.
func (b *InMemoryBase) Snapshot(path string) error {
	if path == "" {
		return nil
	}

	b.mu.RLock()
	entries := make([]*types.KnowledgeEntry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, copyEntry(e))
	}
	b.mu.RUnlock()

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge entries: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Restore loads entries from a snapshot file, appending them to the
// current contents. Entries keep their original ids and timestamps.
func (b *InMemoryBase) Restore(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var entries []*types.KnowledgeEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}

	for _, e := range entries {
		if err := b.Add(e); err != nil {
			return fmt.Errorf("failed to restore entry %s: %w", e.EntryID, err)
		}
	}
	return nil
}
