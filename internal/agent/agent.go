// Package agent implements the capability-based agent roster and the
// ephemeral coalitions that coordinate them. Agents never call each
// other directly; findings travel through the shared knowledge base.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Agent is one member of the closed variant set. The unexported
// coalition hooks seal the interface to this package.
type Agent interface {
	ID() string
	Capabilities() types.AgentCapabilities
	CanExecute(task *types.Task) bool

	// Execute runs an assigned task. Malformed input comes back as an
	// error-shaped TaskResult; the error return is reserved for context
	// cancellation.
	Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error)

	Contributions() int

	joinCoalition(coalitionID string)
	leaveCoalition()
	coalitionID() string
}

// BaseAgent carries the state every variant shares: identity, declared
// capabilities, the knowledge base handle, and a contribution counter.
type BaseAgent struct {
	id     string
	caps   types.AgentCapabilities
	kb     knowledge.Base
	logger *zap.Logger

	mu            sync.Mutex
	contributions int
	coalition     string
}

func newBaseAgent(id string, caps types.AgentCapabilities, kb knowledge.Base, logger *zap.Logger) BaseAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return BaseAgent{
		id:     id,
		caps:   caps,
		kb:     kb,
		logger: logger.With(zap.String("agent_id", id), zap.String("role", string(caps.Role))),
	}
}

// ID returns the unique agent identifier.
func (a *BaseAgent) ID() string { return a.id }

// Capabilities returns the agent's declared capability profile.
func (a *BaseAgent) Capabilities() types.AgentCapabilities { return a.caps }

// Contributions reports how many tasks this agent has completed.
func (a *BaseAgent) Contributions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contributions
}

func (a *BaseAgent) recordContribution() {
	a.mu.Lock()
	a.contributions++
	a.mu.Unlock()
}

func (a *BaseAgent) joinCoalition(coalitionID string) {
	a.mu.Lock()
	a.coalition = coalitionID
	a.mu.Unlock()
	a.logger.Debug("joined coalition", zap.String("coalition_id", coalitionID))
}

func (a *BaseAgent) leaveCoalition() {
	a.mu.Lock()
	previous := a.coalition
	a.coalition = ""
	a.mu.Unlock()
	if previous != "" {
		a.logger.Debug("left coalition", zap.String("coalition_id", previous))
	}
}

func (a *BaseAgent) coalitionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.coalition
}

// share publishes a finding to the knowledge base. Publish failures are
// logged and swallowed; knowledge sharing is best effort.
func (a *BaseAgent) share(entryType string, data map[string]any, tags ...string) {
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	entry := &types.KnowledgeEntry{
		SourceAgent: a.id,
		Timestamp:   time.Now(),
		EntryType:   entryType,
		Data:        data,
		Confidence:  1.0,
		Tags:        tagSet,
	}
	if err := a.kb.Add(entry); err != nil {
		a.logger.Warn("failed to share knowledge", zap.String("entry_type", entryType), zap.Error(err))
	}
}

// errResult wraps a failure into the uniform task envelope.
func errResult(format string, args ...any) *types.TaskResult {
	return &types.TaskResult{Err: fmt.Sprintf(format, args...)}
}

func okResult(data map[string]any) *types.TaskResult {
	return &types.TaskResult{Data: data}
}
