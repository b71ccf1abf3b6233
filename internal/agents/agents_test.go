package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/agentloop/agentloop/internal/registry"
	"github.com/agentloop/agentloop/internal/session"
)

func TestCalculator(t *testing.T) {
	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{expr: "12*7", want: "84"},
		{expr: "2 + 3 * 4", want: "14"},
		{expr: "(2 + 3) * 4", want: "20"},
		{expr: "10 / 4", want: "2.5"},
		{expr: "-3 + 5", want: "2"},
		{expr: "1 / 0", wantErr: true},
		{expr: "2 +", wantErr: true},
		{expr: "hello", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			text, payload, err := Calculator(context.Background(), map[string]any{"expression": tt.expr})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Calculator(%q) = %q, want error", tt.expr, text)
				}
				return
			}
			if err != nil {
				t.Fatalf("Calculator(%q): %v", tt.expr, err)
			}
			if text != tt.want {
				t.Errorf("Calculator(%q) = %q, want %q", tt.expr, text, tt.want)
			}
			if _, ok := payload["value"].(float64); !ok {
				t.Errorf("payload value missing: %v", payload)
			}
		})
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	for _, name := range []string{"calculator", "echo", "clock"} {
		if !reg.Has(name) {
			t.Errorf("builtin %s not registered", name)
		}
	}
	// Double registration must fail instead of silently replacing.
	if err := RegisterBuiltins(reg); err == nil {
		t.Error("second RegisterBuiltins succeeded")
	}
}

func TestPerceptionClassifiesIntent(t *testing.T) {
	p := RuleBasedPerception{}
	tests := []struct {
		query string
		want  string
	}{
		{"Calculate 12*7", "calculate"},
		{"What is the capital of France?", "lookup"},
		{"Summarize the meeting notes", "summarize"},
		{"Book a table for two", "task"},
	}
	for _, tt := range tests {
		snap, err := p.AnalyzeQuery(context.Background(), tt.query, session.New(tt.query, "conservative"))
		if err != nil {
			t.Fatalf("AnalyzeQuery(%q): %v", tt.query, err)
		}
		if snap.Intent != tt.want {
			t.Errorf("intent(%q) = %s, want %s", tt.query, snap.Intent, tt.want)
		}
		if err := snap.Validate(); err != nil {
			t.Errorf("snapshot for %q invalid: %v", tt.query, err)
		}
	}
}

func TestPerceptionExtractsExpression(t *testing.T) {
	p := RuleBasedPerception{}
	snap, err := p.AnalyzeQuery(context.Background(), "Please calculate 12 * 7 for me", nil)
	if err != nil {
		t.Fatalf("AnalyzeQuery: %v", err)
	}
	if len(snap.Entities) == 0 || !strings.Contains(snap.Entities[0], "12") {
		t.Errorf("entities = %v, want the expression first", snap.Entities)
	}
}

func TestPlannerInitialCalculate(t *testing.T) {
	reg := registry.New()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	planner := &HeuristicPlanner{Reg: reg}
	state := session.New("Calculate 12*7", "conservative")

	snap, _ := RuleBasedPerception{}.AnalyzeQuery(context.Background(), "Calculate 12*7", state)
	plan, err := planner.PlanInitial(context.Background(), snap, state)
	if err != nil {
		t.Fatalf("PlanInitial: %v", err)
	}
	if err := session.ValidatePlan(&plan); err != nil {
		t.Fatalf("plan invalid: %v", err)
	}

	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want execute + summarize", len(plan.Steps))
	}
	first := plan.Steps[0]
	if first.Kind != session.StepExecute || first.ToolName != "calculator" {
		t.Errorf("first step = %+v, want a calculator call", first)
	}
	if expr, _ := first.ToolArgs["expression"].(string); !strings.Contains(expr, "12") {
		t.Errorf("expression arg = %v", first.ToolArgs)
	}
	if plan.Steps[len(plan.Steps)-1].Kind != session.StepSummarize {
		t.Error("plan does not end in a summarize step")
	}
}

func TestPlannerInitialLookup(t *testing.T) {
	planner := &HeuristicPlanner{}
	state := session.New("What is the capital of France?", "conservative")
	snap, _ := RuleBasedPerception{}.AnalyzeQuery(context.Background(), state.UserQuery, state)

	plan, err := planner.PlanInitial(context.Background(), snap, state)
	if err != nil {
		t.Fatalf("PlanInitial: %v", err)
	}
	if plan.Steps[0].Kind != session.StepRetrieve {
		t.Errorf("first step kind = %s, want retrieve", plan.Steps[0].Kind)
	}
}

func TestRewriteDemotesBannedTool(t *testing.T) {
	reg := registry.New()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	planner := &HeuristicPlanner{Reg: reg}
	state := session.New("Calculate 12*7", "conservative")
	state.Memory().BannedTools["calculator"] = true

	prev := session.PlanVersion{Steps: []session.PlanStep{
		{
			Kind:        session.StepExecute,
			Description: "evaluate the expression 12*7",
			ToolName:    "calculator",
			ToolArgs:    map[string]any{"expression": "12*7"},
			Status:      session.StepFailed,
		},
		{Kind: session.StepSummarize, Description: "summarize the findings into a final answer"},
	}}

	next, err := planner.RewritePlan(context.Background(), prev, "tool kept failing", state)
	if err != nil {
		t.Fatalf("RewritePlan: %v", err)
	}
	if next.Steps[0].Kind != session.StepRetrieve || next.Steps[0].ToolName != "" {
		t.Errorf("failed tool step not demoted: %+v", next.Steps[0])
	}
}

func TestRewriteDropsSucceededSteps(t *testing.T) {
	planner := &HeuristicPlanner{}
	prev := session.PlanVersion{Steps: []session.PlanStep{
		{Kind: session.StepThink, Description: "already done thinking", Status: session.StepSucceeded},
		{Kind: session.StepThink, Description: "still pending thought", Status: session.StepFailed},
	}}
	next, err := planner.RewritePlan(context.Background(), prev, "retry", session.New("query", "conservative"))
	if err != nil {
		t.Fatalf("RewritePlan: %v", err)
	}
	if len(next.Steps) != 2 || next.Steps[0].Description != "still pending thought" {
		t.Errorf("steps = %+v, want pending step then summarize", next.Steps)
	}
}

func TestStaticRetrieverRanksByOverlap(t *testing.T) {
	kb := &StaticRetriever{Docs: []Document{
		{Ref: "kb:1", Title: "France", Content: "Paris is the capital of France."},
		{Ref: "kb:2", Title: "Germany", Content: "Berlin is the capital of Germany."},
		{Ref: "kb:3", Title: "Cooking", Content: "How to bake bread at home."},
	}}

	items, err := kb.Lookup(context.Background(), "capital of France", 10)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(items) < 1 || items[0].Ref != "kb:1" {
		t.Fatalf("items = %+v, want kb:1 ranked first", items)
	}
	if items[0].Relevance <= 0 || items[0].Relevance > 1 {
		t.Errorf("relevance = %f, want (0,1]", items[0].Relevance)
	}

	bundle, err := kb.Retrieve(context.Background(), "capital of France", session.New("q", "conservative"))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if err := bundle.Validate(); err != nil {
		t.Errorf("bundle invalid: %v", err)
	}
	if !strings.Contains(bundle.Summary, "Paris") {
		t.Errorf("summary = %q", bundle.Summary)
	}
}

func TestCriticRejectsFailureText(t *testing.T) {
	critic := HeuristicCritic{}
	step := &session.PlanStep{ID: "s1", Description: "call the backend"}

	bad := &session.PerceptionSnapshot{InputText: "request failed: connection refused", Confidence: 0.5}
	report, err := critic.ReviewResult(context.Background(), step, bad, nil, nil)
	if err != nil {
		t.Fatalf("ReviewResult: %v", err)
	}
	if report.IsAcceptable {
		t.Error("failure text accepted")
	}
	if err := report.Validate(); err != nil {
		t.Errorf("report invalid: %v", err)
	}

	good := &session.PerceptionSnapshot{InputText: "84", Confidence: 0.9, IsGoalSatisfied: true}
	report, err = critic.ReviewResult(context.Background(), step, good, nil, nil)
	if err != nil {
		t.Fatalf("ReviewResult: %v", err)
	}
	if !report.IsAcceptable {
		t.Error("clean result rejected")
	}
}

func TestMemoryRecorderTrimsShortTerm(t *testing.T) {
	rec := Recorder{}
	state := session.New("remember things", "conservative")
	for i := 0; i < session.MaxShortTermItems; i++ {
		state.MemoryState.ShortTerm = append(state.MemoryState.ShortTerm, session.MemoryItem{
			ID: "old", Kind: session.MemoryFact, Content: "filler",
		})
	}

	step := &session.PlanStep{ID: "s1", Description: "compute a value", ToolName: "calculator"}
	mem, err := rec.UpdateFromStep(context.Background(), step, "84", state)
	if err != nil {
		t.Fatalf("UpdateFromStep: %v", err)
	}
	if err := mem.Validate(); err != nil {
		t.Fatalf("memory invalid: %v", err)
	}
	if len(mem.ShortTerm) != session.MaxShortTermItems {
		t.Errorf("short-term items = %d, want capped at %d", len(mem.ShortTerm), session.MaxShortTermItems)
	}
	last := mem.ShortTerm[len(mem.ShortTerm)-1]
	if last.Kind != session.MemoryToolSuccess {
		t.Errorf("last item kind = %s, want tool_success", last.Kind)
	}
}
