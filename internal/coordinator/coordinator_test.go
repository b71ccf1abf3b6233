package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/agentloop/agentloop/internal/eventbus"
	"github.com/agentloop/agentloop/internal/profile"
	"github.com/agentloop/agentloop/internal/registry"
	"github.com/agentloop/agentloop/internal/safeexec"
	"github.com/agentloop/agentloop/internal/session"
	"github.com/agentloop/agentloop/internal/strategy"
)

// fakePerception builds minimal valid snapshots.
type fakePerception struct{}

func (fakePerception) AnalyzeQuery(ctx context.Context, text string, view session.View) (session.PerceptionSnapshot, error) {
	return session.PerceptionSnapshot{
		ID:         "snap-query",
		Source:     "user",
		InputText:  text,
		Intent:     "solve",
		Confidence: 0.9,
	}, nil
}

func (fakePerception) AnalyzeStepResult(ctx context.Context, step *session.PlanStep, raw string, view session.View) (session.PerceptionSnapshot, error) {
	if len(raw) < session.MinQueryLen {
		raw = raw + "..."
	}
	return session.PerceptionSnapshot{
		ID:         "snap-" + step.ID,
		Source:     "step_result",
		InputText:  raw,
		Confidence: 0.8,
	}, nil
}

// scriptedPlanner returns canned plans: the first for PlanInitial, the rest
// one per rewrite. When the rewrite script runs out it repeats the last.
type scriptedPlanner struct {
	plans    []session.PlanVersion
	rewrites int
}

func (p *scriptedPlanner) PlanInitial(ctx context.Context, snap session.PerceptionSnapshot, view session.View) (session.PlanVersion, error) {
	return p.plans[0], nil
}

func (p *scriptedPlanner) RewritePlan(ctx context.Context, prev session.PlanVersion, reason string, view session.View) (session.PlanVersion, error) {
	p.rewrites++
	idx := p.rewrites
	if idx >= len(p.plans) {
		idx = len(p.plans) - 1
	}
	return p.plans[idx], nil
}

// judgeCritic accepts anything the judge function accepts; a nil judge
// accepts every result.
type judgeCritic struct {
	judge func(step *session.PlanStep) bool
}

func (c *judgeCritic) ReviewResult(ctx context.Context, step *session.PlanStep, snap *session.PerceptionSnapshot, bundle *session.RetrievalBundle, view session.View) (session.CriticReport, error) {
	ok := c.judge == nil || c.judge(step)
	report := session.CriticReport{
		ID:           "report-" + step.ID,
		StepID:       step.ID,
		IsAcceptable: ok,
		QualityScore: 0.8,
	}
	if !ok {
		report.Issues = []string{"result did not satisfy the expected outcome"}
		report.QualityScore = 0.2
	}
	return report, nil
}

func calculatorFunc(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	expr, _ := args["expression"].(string)
	parts := strings.Split(expr, "*")
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("unsupported expression %q", expr)
	}
	a, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return "", nil, fmt.Errorf("unsupported expression %q", expr)
	}
	out := strconv.Itoa(a * b)
	return out, map[string]any{"value": a * b}, nil
}

func calculatorRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	err := reg.Register(registry.Schema{
		Name:        "calculator",
		Description: "evaluates arithmetic expressions",
		Input: []registry.FieldSpec{
			{Name: "expression", Type: registry.TypeString, Required: true, MinLength: 3},
		},
	}, calculatorFunc)
	if err != nil {
		t.Fatalf("register calculator: %v", err)
	}
	return reg
}

func executeStep(id, desc, tool string, args map[string]any) session.PlanStep {
	return session.PlanStep{
		ID:          id,
		Kind:        session.StepExecute,
		Description: desc,
		ToolName:    tool,
		ToolArgs:    args,
	}
}

func summarizeStep(id string) session.PlanStep {
	return session.PlanStep{ID: id, Kind: session.StepSummarize, Description: "summarize the results"}
}

func newCoordinator(t *testing.T, prof profile.Profile, reg *registry.Registry, planner Planner, critic Critic, opts func(*Config)) *Coordinator {
	t.Helper()
	exec := safeexec.New(reg, prof, nil)
	runner := strategy.NewRunner(prof, nil, &strategy.ToolStrategy{Exec: exec})
	cfg := Config{
		Profile:    prof,
		Runner:     runner,
		Perception: fakePerception{},
		Planner:    planner,
		Critic:     critic,
	}
	if opts != nil {
		opts(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRunCalculatorScenario(t *testing.T) {
	dir := t.TempDir()
	sink := eventbus.NewMemorySink()
	planner := &scriptedPlanner{plans: []session.PlanVersion{{
		Steps: []session.PlanStep{
			executeStep("s1", "calculate 12*7", "calculator", map[string]any{"expression": "12*7"}),
			summarizeStep("s2"),
		},
	}}}

	c := newCoordinator(t, profile.Conservative(), calculatorRegistry(t), planner, &judgeCritic{}, func(cfg *Config) {
		cfg.Events = sink
		cfg.PerfLogDir = dir
	})

	answer, err := c.Run(context.Background(), "Calculate 12*7")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(answer, "84") {
		t.Errorf("answer = %q, want it to contain 84", answer)
	}

	state := c.State()
	if !state.Done {
		t.Error("session not marked done")
	}
	plan := state.ActivePlan()
	if plan == nil || plan.Status != session.PlanCompleted {
		t.Errorf("plan status = %v, want completed", plan)
	}

	recs := state.Performance().Records()
	if len(recs) != 1 || !recs[0].Success || recs[0].ToolName != "calculator" {
		t.Errorf("perf records = %+v, want one calculator success", recs)
	}

	path := filepath.Join(dir, state.ID+"_tool_perf.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("performance log not persisted: %v", err)
	}

	var types []string
	for _, ev := range sink.Events() {
		types = append(types, ev.Type)
	}
	for _, want := range []string{"session_started", "plan_created", "step_started", "step_succeeded", "session_done"} {
		found := false
		for _, typ := range types {
			if typ == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("event %s missing from %v", want, types)
		}
	}
}

func TestRewriteProducesNextVersion(t *testing.T) {
	// First plan multiplies the wrong numbers; the critic rejects that and
	// the rewrite fixes the expression.
	planner := &scriptedPlanner{plans: []session.PlanVersion{
		{Steps: []session.PlanStep{
			executeStep("s1", "calculate 11*7", "calculator", map[string]any{"expression": "11*7"}),
			summarizeStep("s2"),
		}},
		{Steps: []session.PlanStep{
			executeStep("s3", "calculate 12*7", "calculator", map[string]any{"expression": "12*7"}),
			summarizeStep("s4"),
		}},
	}}
	critic := &judgeCritic{judge: func(step *session.PlanStep) bool {
		return step.ResultText != "" || !strings.Contains(step.Description, "11*7")
	}}

	c := newCoordinator(t, profile.Conservative(), calculatorRegistry(t), planner, critic, nil)
	answer, err := c.Run(context.Background(), "Calculate 12*7")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(answer, "84") {
		t.Errorf("answer = %q, want 84", answer)
	}

	state := c.State()
	plan := state.ActivePlan()
	if plan.Version != 2 || plan.RewriteCount != 1 {
		t.Errorf("plan version/rewrites = %d/%d, want 2/1", plan.Version, plan.RewriteCount)
	}
	if len(state.Plans) != 2 {
		t.Errorf("plan versions kept = %d, want 2", len(state.Plans))
	}

	var sawStepFailure bool
	for _, ev := range state.HILEvents {
		if ev.Category == session.HILStepFailure {
			sawStepFailure = true
		}
	}
	if !sawStepFailure {
		t.Error("no step_failure escalation recorded before rewrite")
	}
}

func TestRewriteBudgetExhaustion(t *testing.T) {
	planner := &scriptedPlanner{plans: []session.PlanVersion{{
		Steps: []session.PlanStep{
			executeStep("s1", "calculate something", "calculator", map[string]any{"expression": "2*2"}),
			summarizeStep("s2"),
		},
	}}}
	critic := &judgeCritic{judge: func(*session.PlanStep) bool { return false }}

	c := newCoordinator(t, profile.Conservative(), calculatorRegistry(t), planner, critic, nil)
	_, err := c.Run(context.Background(), "impossible request")
	var pf *PlanFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want PlanFailureError", err)
	}

	state := c.State()
	if !state.Done {
		t.Error("plan failure must force done")
	}
	if plan := state.ActivePlan(); plan.Status != session.PlanFailed {
		t.Errorf("plan status = %s, want failed", plan.Status)
	}
	// Conservative allows one rewrite, so two versions exist.
	if len(state.Plans) != 2 {
		t.Errorf("plan versions = %d, want 2", len(state.Plans))
	}

	last := state.HILEvents[len(state.HILEvents)-1]
	if last.Category != session.HILPlanFailure {
		t.Errorf("last HIL category = %s, want plan_failure", last.Category)
	}
}

func TestConsecutiveFailuresBanTool(t *testing.T) {
	prof := profile.Profile{
		Name:            "test",
		Mode:            profile.ModeConservative,
		MaxSteps:        20,
		MaxRetries:      0,
		MaxRewrites:     10,
		StrategyTimeout: time.Second,
	}

	reg := registry.New()
	calls := 0
	if err := reg.Register(registry.Schema{Name: "flaky"}, func(ctx context.Context, args map[string]any) (string, map[string]any, error) {
		calls++
		return "", nil, errors.New("backend unavailable")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	step := func(id string) session.PlanStep {
		return executeStep(id, "call the flaky backend", "flaky", nil)
	}
	plans := make([]session.PlanVersion, 11)
	for i := range plans {
		plans[i] = session.PlanVersion{Steps: []session.PlanStep{step(fmt.Sprintf("s%d", i))}}
	}
	planner := &scriptedPlanner{plans: plans}

	c := newCoordinator(t, prof, reg, planner, &judgeCritic{}, nil)
	_, err := c.Run(context.Background(), "use the flaky backend")
	var pf *PlanFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want PlanFailureError", err)
	}

	state := c.State()
	if !state.Memory().Banned("flaky") {
		t.Fatal("tool not banned after consecutive failures")
	}
	if calls != 3 {
		t.Errorf("tool invoked %d times, want exactly 3 before the ban", calls)
	}

	// Post-ban attempts must be recorded as tool_banned without invocation.
	var banned int
	for _, r := range state.Performance().Records() {
		if r.ErrorKind == "tool_banned" {
			banned++
		}
	}
	if banned == 0 {
		t.Error("no tool_banned performance records after the ban")
	}
}

func TestUnregisteredToolEscalates(t *testing.T) {
	planner := &scriptedPlanner{plans: []session.PlanVersion{{
		Steps: []session.PlanStep{
			executeStep("s1", "run a shell command", "shell_exec", map[string]any{"cmd": "ls"}),
		},
	}}}

	c := newCoordinator(t, profile.Conservative(), calculatorRegistry(t), planner, &judgeCritic{}, nil)
	_, err := c.Run(context.Background(), "run shell_exec for me")
	var pf *PlanFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want PlanFailureError", err)
	}

	var sawToolFailure bool
	for _, ev := range c.State().HILEvents {
		if ev.Category == session.HILToolFailure {
			sawToolFailure = true
		}
	}
	if !sawToolFailure {
		t.Error("no tool_failure escalation for the unknown tool")
	}
}

func TestDangerousArgumentsRejected(t *testing.T) {
	planner := &scriptedPlanner{plans: []session.PlanVersion{{
		Steps: []session.PlanStep{
			executeStep("s1", "calculate with injection", "calculator",
				map[string]any{"expression": "import os; os.system('rm -rf /')"}),
		},
	}}}

	c := newCoordinator(t, profile.Conservative(), calculatorRegistry(t), planner, &judgeCritic{}, nil)
	if _, err := c.Run(context.Background(), "evil query"); err == nil {
		t.Fatal("expected a failed session")
	}

	var sawDangerous bool
	for _, r := range c.State().Performance().Records() {
		if r.ErrorKind == "dangerous_pattern" {
			sawDangerous = true
		}
	}
	if !sawDangerous {
		t.Error("dangerous pattern rejection not recorded")
	}
}

func TestAskUserShortCircuit(t *testing.T) {
	planner := &scriptedPlanner{plans: []session.PlanVersion{{
		Steps: []session.PlanStep{
			{ID: "s1", Kind: session.StepAskUser, Description: "which color do you prefer?"},
			summarizeStep("s2"),
		},
	}}}

	humanCalls := 0
	c := newCoordinator(t, profile.Conservative(), calculatorRegistry(t), planner, &judgeCritic{}, func(cfg *Config) {
		cfg.Human = func(prompt string) (string, error) {
			humanCalls++
			return "blue", nil
		}
	})

	answer, err := c.Run(context.Background(), "help me pick a color")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(answer, "blue") {
		t.Errorf("answer = %q, want the user's reply folded in", answer)
	}
	if humanCalls != 1 {
		t.Errorf("human asked %d times, want 1", humanCalls)
	}
	// ask_user is not an escalation, so no HIL event is logged for it.
	if n := len(c.State().HILEvents); n != 0 {
		t.Errorf("HIL events = %d, want 0", n)
	}
}

// reviewCritic accepts every result but asks for a human confirmation.
type reviewCritic struct{}

func (reviewCritic) ReviewResult(ctx context.Context, step *session.PlanStep, snap *session.PerceptionSnapshot, bundle *session.RetrievalBundle, view session.View) (session.CriticReport, error) {
	return session.CriticReport{
		ID:                 "report-" + step.ID,
		StepID:             step.ID,
		IsAcceptable:       true,
		QualityScore:       0.7,
		RequiresHumanInput: true,
		HumanQuestion:      "does this look right?",
	}, nil
}

func TestAcceptedResultReviewIsNotAFailure(t *testing.T) {
	planner := &scriptedPlanner{plans: []session.PlanVersion{{
		Steps: []session.PlanStep{
			executeStep("s1", "calculate 12*7", "calculator", map[string]any{"expression": "12*7"}),
			summarizeStep("s2"),
		},
	}}}

	sink := eventbus.NewMemorySink()
	humanCalls := 0
	c := newCoordinator(t, profile.Conservative(), calculatorRegistry(t), planner, reviewCritic{}, func(cfg *Config) {
		cfg.Events = sink
		cfg.Human = func(prompt string) (string, error) {
			humanCalls++
			return "looks right", nil
		}
	})

	answer, err := c.Run(context.Background(), "Calculate 12*7")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(answer, "84") {
		t.Errorf("answer = %q, want 84", answer)
	}
	if humanCalls != 1 {
		t.Errorf("human asked %d times, want 1", humanCalls)
	}

	// A review of an accepted result is not a failure escalation.
	if n := len(c.State().HILEvents); n != 0 {
		t.Errorf("HIL events = %d, want 0", n)
	}
	step := c.State().ActivePlan().Steps[0]
	if !strings.Contains(step.Notes, "human review: looks right") {
		t.Errorf("step notes = %q, want the review response kept", step.Notes)
	}
	var reviewed bool
	for _, ev := range sink.Events() {
		if ev.Type == "step_reviewed" {
			reviewed = true
		}
	}
	if !reviewed {
		t.Error("no step_reviewed event emitted")
	}
}

func TestStepBudgetForcesPlanFailure(t *testing.T) {
	prof := profile.Conservative()
	prof.MaxSteps = 2

	planner := &scriptedPlanner{plans: []session.PlanVersion{{
		Steps: []session.PlanStep{
			executeStep("s1", "calculate 1*1 first", "calculator", map[string]any{"expression": "1*1"}),
			executeStep("s2", "calculate 2*2 second", "calculator", map[string]any{"expression": "2*2"}),
			executeStep("s3", "calculate 3*3 third", "calculator", map[string]any{"expression": "3*3"}),
			summarizeStep("s4"),
		},
	}}}

	c := newCoordinator(t, prof, calculatorRegistry(t), planner, &judgeCritic{}, nil)
	_, err := c.Run(context.Background(), "run them all")
	var pf *PlanFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want PlanFailureError", err)
	}

	state := c.State()
	last := state.HILEvents[len(state.HILEvents)-1]
	if last.Category != session.HILPlanFailure {
		t.Errorf("last HIL category = %s, want plan_failure", last.Category)
	}
	if got := len(state.Performance().Records()); got != 2 {
		t.Errorf("tool calls = %d, want exactly the 2 budgeted steps", got)
	}
}

func TestMissingCollaboratorsRejected(t *testing.T) {
	_, err := New(Config{Profile: profile.Conservative()})
	if err == nil {
		t.Fatal("expected config validation error")
	}
}
