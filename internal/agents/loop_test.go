package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/agentloop/agentloop/internal/coordinator"
	"github.com/agentloop/agentloop/internal/profile"
	"github.com/agentloop/agentloop/internal/registry"
	"github.com/agentloop/agentloop/internal/safeexec"
	"github.com/agentloop/agentloop/internal/session"
	"github.com/agentloop/agentloop/internal/strategy"
)

// Full loop over the reference collaborators and built-in tools, no fakes.
func newLoop(t *testing.T, prof profile.Profile, kb *StaticRetriever) *coordinator.Coordinator {
	t.Helper()
	reg := registry.New()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	exec := safeexec.New(reg, prof, nil)
	strategies := []strategy.Strategy{&strategy.ToolStrategy{Exec: exec}}
	cfg := coordinator.Config{
		Profile:    prof,
		Perception: RuleBasedPerception{},
		Memory:     Recorder{},
		Planner:    &HeuristicPlanner{Reg: reg},
		Critic:     HeuristicCritic{},
	}
	if kb != nil {
		cfg.Retriever = kb
		strategies = append(strategies, &strategy.RetrievalStrategy{Source: KBSource{KB: kb}})
	}
	cfg.Runner = strategy.NewRunner(prof, nil, strategies...)

	c, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	return c
}

func TestEndToEndCalculation(t *testing.T) {
	c := newLoop(t, profile.Conservative(), nil)
	answer, err := c.Run(context.Background(), "Calculate 12*7")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(answer, "84") {
		t.Errorf("answer = %q, want 84", answer)
	}

	state := c.State()
	if plan := state.ActivePlan(); plan == nil || plan.Status != session.PlanCompleted {
		t.Error("plan did not complete")
	}
	recs := state.Performance().Records()
	if len(recs) != 1 || !recs[0].Success {
		t.Errorf("perf records = %+v", recs)
	}
	if len(state.MemoryState.ShortTerm) == 0 {
		t.Error("memory recorded nothing")
	}
}

func TestEndToEndLookup(t *testing.T) {
	kb := &StaticRetriever{Docs: []Document{
		{Ref: "kb:1", Title: "France", Content: "Paris is the capital of France."},
	}}
	c := newLoop(t, profile.Fallback(), kb)
	answer, err := c.Run(context.Background(), "What is the capital of France?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(answer, "Paris") {
		t.Errorf("answer = %q, want it to mention Paris", answer)
	}
}
