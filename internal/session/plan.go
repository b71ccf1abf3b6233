package session

import "time"

// PlanStatus is the lifecycle status of a plan version.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// StepStatus is the lifecycle status of a plan step. Transitions are
// monotonic except failed→running on a bounded retry; succeeded, escalated,
// and retry-exhausted failed are terminal.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepEscalated StepStatus = "escalated"
)

// StepKind classifies what a step does. ASK_USER and SUMMARIZE short-circuit
// normal tool execution in the coordinator.
type StepKind string

const (
	StepThink     StepKind = "think"
	StepRetrieve  StepKind = "retrieve"
	StepExecute   StepKind = "execute"
	StepAskUser   StepKind = "ask_user"
	StepSummarize StepKind = "summarize"
)

// PlanStep is a single unit of work inside a plan version.
type PlanStep struct {
	ID              string         `json:"id"`
	Index           int            `json:"index"`
	Kind            StepKind       `json:"kind"`
	Description     string         `json:"description"`
	InputContext    string         `json:"input_context,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	ToolArgs        map[string]any `json:"tool_args,omitempty"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
	Status          StepStatus     `json:"status"`
	ResultText      string         `json:"result_text,omitempty"`
	ResultPayload   map[string]any `json:"result_payload,omitempty"`
	Attempts        int            `json:"attempts"`
	Notes           string         `json:"notes,omitempty"`
	PerceptionID    string         `json:"perception_id,omitempty"`
	CriticReportID  string         `json:"critic_report_id,omitempty"`
}

// Terminal reports whether the step can no longer change status.
func (s *PlanStep) Terminal() bool {
	return s.Status == StepSucceeded || s.Status == StepEscalated
}

// PlanVersion is one iteration of the execution plan. Superseded versions
// are kept in session history but never mutated again; rewrites create a
// new version with a strictly larger version number.
type PlanVersion struct {
	ID           string     `json:"id"`
	Version      int        `json:"version"`
	RewriteCount int        `json:"rewrite_count"`
	CreatedTurn  int        `json:"created_turn"`
	Reason       string     `json:"reason,omitempty"`
	Steps        []PlanStep `json:"steps"`
	CurrentIndex int        `json:"current_index"`
	Status       PlanStatus `json:"status"`
	PlanText     string     `json:"plan_text,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CurrentStep returns the step at the current index, or nil when the plan
// has run out of steps.
func (p *PlanVersion) CurrentStep() *PlanStep {
	if p.CurrentIndex < 0 || p.CurrentIndex >= len(p.Steps) {
		return nil
	}
	return &p.Steps[p.CurrentIndex]
}

// Advance moves to the next step, marking the plan completed when the last
// step has been consumed.
func (p *PlanVersion) Advance() {
	if p.CurrentIndex < len(p.Steps) {
		p.CurrentIndex++
	}
	if p.CurrentIndex >= len(p.Steps) {
		p.Status = PlanCompleted
	}
}

// SucceededSteps returns the steps that finished successfully, in order.
func (p *PlanVersion) SucceededSteps() []PlanStep {
	var out []PlanStep
	for _, s := range p.Steps {
		if s.Status == StepSucceeded {
			out = append(out, s)
		}
	}
	return out
}
