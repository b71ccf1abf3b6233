package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/internal/registry"
	"github.com/agentloop/agentloop/internal/session"
)

// HeuristicPlanner maps perceived intent to a short plan. Every plan ends
// in a summarize step so the loop always has a finishing step.
type HeuristicPlanner struct {
	Reg *registry.Registry
}

func (p *HeuristicPlanner) PlanInitial(ctx context.Context, snap session.PerceptionSnapshot, view session.View) (session.PlanVersion, error) {
	var steps []session.PlanStep

	switch snap.Intent {
	case "calculate":
		expr := firstExpression(snap)
		if expr != "" && p.Reg != nil && p.Reg.Has("calculator") {
			steps = append(steps, session.PlanStep{
				Kind:            session.StepExecute,
				Description:     "evaluate the expression " + expr,
				ToolName:        "calculator",
				ToolArgs:        map[string]any{"expression": expr},
				ExpectedOutcome: "a numeric result",
			})
		}
	case "lookup":
		steps = append(steps, session.PlanStep{
			Kind:            session.StepRetrieve,
			Description:     "look up background for the question",
			InputContext:    clip(snap.InputText, session.MaxRetrievalQueryLen),
			ExpectedOutcome: "relevant knowledge base passages",
		})
	}

	if len(steps) == 0 {
		steps = append(steps, session.PlanStep{
			Kind:            session.StepThink,
			Description:     "work out an answer for: " + clip(snap.InputText, 200),
			InputContext:    snap.InputText,
			ExpectedOutcome: "a direct answer",
		})
	}

	steps = append(steps, session.PlanStep{
		Kind:        session.StepSummarize,
		Description: "summarize the findings into a final answer",
	})
	return p.newVersion(steps), nil
}

// RewritePlan retries the remaining work, demoting a failed tool step to a
// retrieval step when its tool is banned or gone.
func (p *HeuristicPlanner) RewritePlan(ctx context.Context, prev session.PlanVersion, reason string, view session.View) (session.PlanVersion, error) {
	var steps []session.PlanStep
	for _, s := range prev.Steps {
		if s.Status == session.StepSucceeded {
			continue
		}
		next := session.PlanStep{
			Kind:            s.Kind,
			Description:     s.Description,
			InputContext:    s.InputContext,
			ToolName:        s.ToolName,
			ToolArgs:        s.ToolArgs,
			ExpectedOutcome: s.ExpectedOutcome,
			Notes:           s.Notes,
		}
		if s.Kind == session.StepExecute && s.ToolName != "" && !p.toolUsable(s.ToolName, view) {
			next.Kind = session.StepRetrieve
			next.Description = fmt.Sprintf("find another way to %s", strings.TrimSpace(s.Description))
			next.ToolName = ""
			next.ToolArgs = nil
		}
		steps = append(steps, next)
	}
	if len(steps) == 0 || steps[len(steps)-1].Kind != session.StepSummarize {
		steps = append(steps, session.PlanStep{
			Kind:        session.StepSummarize,
			Description: "summarize the findings into a final answer",
		})
	}
	return p.newVersion(steps), nil
}

func (p *HeuristicPlanner) toolUsable(tool string, view session.View) bool {
	if view.Memory().Banned(tool) {
		return false
	}
	return p.Reg != nil && p.Reg.Has(tool)
}

func (p *HeuristicPlanner) newVersion(steps []session.PlanStep) session.PlanVersion {
	if len(steps) > session.MaxPlanSteps {
		steps = steps[:session.MaxPlanSteps]
	}
	var lines []string
	for i, s := range steps {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, s.Description))
	}
	return session.PlanVersion{
		ID:       uuid.NewString(),
		Steps:    steps,
		PlanText: strings.Join(lines, "\n"),
	}
}

func firstExpression(snap session.PerceptionSnapshot) string {
	for _, e := range snap.Entities {
		if exprRe.MatchString(e) {
			return e
		}
	}
	return exprRe.FindString(snap.InputText)
}
