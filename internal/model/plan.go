package model

// Intent is a classified user request. Params values are strings or ints.
type Intent struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// Param returns a string parameter, or "" when absent.
func (i Intent) Param(key string) string {
	if v, ok := i.Params[key].(string); ok {
		return v
	}
	return ""
}

// IntParam returns an int parameter, or def when absent.
func (i Intent) IntParam(key string, def int) int {
	if v, ok := i.Params[key].(int); ok {
		return v
	}
	return def
}

// MaxPlanSteps bounds plan length to keep latency predictable.
const MaxPlanSteps = 4

// PlanStep is one skill invocation inside an ExecutionPlan.
type PlanStep struct {
	SkillID              string         `json:"skill_id"`
	Args                 map[string]any `json:"args"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Reason               string         `json:"reason,omitempty"`
}

// ExecutionPlan is produced once by the planner (or from a classified intent)
// and consumed once by the executor.
type ExecutionPlan struct {
	Intent      string     `json:"intent"`
	Steps       []PlanStep `json:"steps"`
	Confidence  float64    `json:"confidence"`
	TokensIn    int        `json:"tokens_in"`
	TokensOut   int        `json:"tokens_out"`
	TokensTotal int        `json:"tokens_total"`
	ModelUsed   string     `json:"model_used,omitempty"`
}

// StepStatus is the terminal status of one plan step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepDenied  StepStatus = "denied"
	StepSkipped StepStatus = "skipped"
)

// StepResult records what happened to one step.
type StepResult struct {
	SkillID string     `json:"skill_id"`
	Status  StepStatus `json:"status"`
	Reason  string     `json:"reason,omitempty"`
}

// ExecutionResult is returned to the caller and never persisted.
type ExecutionResult struct {
	PlanIntent     string       `json:"plan_intent"`
	StepsAttempted int          `json:"steps_attempted"`
	StepsSucceeded int          `json:"steps_succeeded"`
	Aborted        bool         `json:"aborted"`
	StepResults    []StepResult `json:"step_results"`
}
