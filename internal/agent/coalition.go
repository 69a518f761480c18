package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Goal states what a coalition must be able to do and why it exists.
type Goal struct {
	GoalID      string
	Description string
	Required    types.CapabilitySet
}

// Coalition is an ephemeral team formed for one phase-round. It owns
// its tasks until assignment and is dissolved after executing them.
type Coalition struct {
	id     string
	goal   Goal
	logger *zap.Logger

	members []Agent
	tasks   []*types.Task
	status  types.CoalitionStatus
}

// Form builds a coalition from every roster agent whose capability set
// intersects the goal's required set. There are no capacity limits;
// coverage is verified at execution time.
func Form(coalitionID string, goal Goal, roster []Agent, logger *zap.Logger) *Coalition {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coalition{
		id:     coalitionID,
		goal:   goal,
		logger: logger.With(zap.String("coalition_id", coalitionID)),
		status: types.CoalitionActive,
	}
	for _, candidate := range roster {
		if candidate.Capabilities().Capabilities.Intersects(goal.Required) {
			c.members = append(c.members, candidate)
			candidate.joinCoalition(coalitionID)
		}
	}
	c.logger.Debug("coalition formed",
		zap.String("goal", goal.Description),
		zap.Int("members", len(c.members)))
	return c
}

// ID returns the coalition identifier.
func (c *Coalition) ID() string { return c.id }

// Goal returns the coalition's goal.
func (c *Coalition) Goal() Goal { return c.goal }

// Status returns the coalition's lifecycle state.
func (c *Coalition) Status() types.CoalitionStatus { return c.status }

// Members returns the current member list.
func (c *Coalition) Members() []Agent {
	out := make([]Agent, len(c.members))
	copy(out, c.members)
	return out
}

// HasRequiredCapabilities reports whether the union of member
// capability sets covers the goal's required set.
func (c *Coalition) HasRequiredCapabilities() bool {
	union := make(types.CapabilitySet)
	for _, m := range c.members {
		for capability := range m.Capabilities().Capabilities {
			union[capability] = struct{}{}
		}
	}
	return union.ContainsAll(c.goal.Required)
}

// Assign hands a task to the first member that reports it can execute
// it. Assignment is greedy and order-dependent. Returns nil when no
// member qualifies.
func (c *Coalition) Assign(task *types.Task) Agent {
	for _, m := range c.members {
		if m.CanExecute(task) {
			task.AssignedTo = m.ID()
			task.Status = types.TaskAssigned
			c.tasks = append(c.tasks, task)
			c.logger.Debug("task assigned",
				zap.String("task_id", task.TaskID),
				zap.String("agent_id", m.ID()))
			return m
		}
	}
	c.logger.Warn("no member can execute task",
		zap.String("task_id", task.TaskID),
		zap.String("task_type", string(task.Type)))
	return nil
}

// Execute runs every assigned task in order. A coalition that lacks
// required capability coverage fails fast without running anything.
func (c *Coalition) Execute(ctx context.Context) ([]*types.TaskResult, error) {
	if !c.HasRequiredCapabilities() {
		c.status = types.CoalitionFailed
		c.logger.Error("missing required capabilities",
			zap.Strings("required", c.goal.Required.List()))
		return nil, nil
	}

	var results []*types.TaskResult
	for _, task := range c.tasks {
		agent := c.memberByID(task.AssignedTo)
		if agent == nil {
			continue
		}
		task.Status = types.TaskInProgress
		result, err := agent.Execute(ctx, task)
		if err != nil {
			task.Status = types.TaskFailed
			return results, err
		}
		task.Result = result
		if result.OK() {
			task.Status = types.TaskCompleted
		} else {
			task.Status = types.TaskFailed
			c.logger.Warn("task failed",
				zap.String("task_id", task.TaskID),
				zap.String("agent_id", agent.ID()),
				zap.String("error", result.Err))
		}
		results = append(results, result)
	}

	c.status = types.CoalitionCompleted
	return results, nil
}

// Dissolve detaches every member and empties the coalition. A dissolved
// coalition is never reused.
func (c *Coalition) Dissolve() {
	for _, m := range c.members {
		m.leaveCoalition()
	}
	c.members = nil
	c.status = types.CoalitionDissolved
	c.logger.Debug("coalition dissolved")
}

// Record snapshots the coalition for the run history.
func (c *Coalition) Record(phase types.Phase, round int) *types.CoalitionRecord {
	memberIDs := make([]string, 0, len(c.members))
	for _, m := range c.members {
		memberIDs = append(memberIDs, m.ID())
	}
	return &types.CoalitionRecord{
		CoalitionID:  c.id,
		Phase:        string(phase),
		Round:        round,
		Members:      memberIDs,
		Capabilities: c.goal.Required.List(),
	}
}

func (c *Coalition) memberByID(id string) Agent {
	for _, m := range c.members {
		if m.ID() == id {
			return m
		}
	}
	return nil
}
