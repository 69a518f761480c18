package types

// TaskStatus tracks a task through its lifecycle
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskType identifies the kind of work a task carries
type TaskType string

const (
	TaskProbe          TaskType = "probe"
	TaskGenerate       TaskType = "generate"
	TaskMutate         TaskType = "mutate"
	TaskValidate       TaskType = "validate"
	TaskJudge          TaskType = "judge"
	TaskCounterfactual TaskType = "counterfactual"
	TaskAssess         TaskType = "assess"
)

// TaskParams is the closed union of per-kind task parameters. Agents
// type-switch on the concrete variant instead of reading untyped maps.
type TaskParams interface {
	taskParams()
}

// ProbeParams asks a prober to map detection boundaries for a technique
type ProbeParams struct {
	Technique string
	NumProbes int
}

// GenerateParams asks an exploiter for fresh attacks in a technique/region
type GenerateParams struct {
	Technique   string
	BoundaryBin int
	NumAttacks  int
}

// MutateParams asks the mutation engine to evolve a population
type MutateParams struct {
	Seeds       []*Attack
	Generations int
}

// ValidateParams asks a validator to vet attacks before execution
type ValidateParams struct {
	Attacks []*Attack
}

// JudgeParams asks the judge panel for a consensus verdict over items
type JudgeParams struct {
	Attacks []*Attack
	Results []*TestResult
}

// CounterfactualParams asks for a minimal detection-flipping edit
type CounterfactualParams struct {
	Attack *Attack
	Result *TestResult
}

// AssessParams asks a perspective agent to critique a finished evaluation
type AssessParams struct {
	Evaluation *EvaluationResult
}

func (ProbeParams) taskParams()          {}
func (GenerateParams) taskParams()       {}
func (MutateParams) taskParams()         {}
func (ValidateParams) taskParams()       {}
func (JudgeParams) taskParams()          {}
func (CounterfactualParams) taskParams() {}
func (AssessParams) taskParams()         {}

// TaskResult is the uniform envelope agents return. Agent failures are
// reported as an error-shaped result, never as a panic or crash.
type TaskResult struct {
	Data map[string]any
	Err  string
}

// OK reports whether the task produced a usable result
func (r *TaskResult) OK() bool {
	return r != nil && r.Err == ""
}

// Task is a unit of work owned by the coalition that created it until
// assignment
type Task struct {
	TaskID      string
	Type        TaskType
	Description string
	Params      TaskParams
	Status      TaskStatus
	AssignedTo  string
	Result      *TaskResult
}

// NewTask creates a pending task
func NewTask(id string, taskType TaskType, params TaskParams) *Task {
	return &Task{
		TaskID: id,
		Type:   taskType,
		Params: params,
		Status: TaskPending,
	}
}
