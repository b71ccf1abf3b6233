package coordinator

import (
	"context"

	"github.com/agentloop/agentloop/internal/session"
)

// Collaborator capabilities the coordinator depends on. The coordinator
// holds interfaces only; reference implementations live in internal/agents
// and production deployments substitute their own.

// Perception analyzes free text into a structured snapshot.
type Perception interface {
	AnalyzeQuery(ctx context.Context, text string, view session.View) (session.PerceptionSnapshot, error)
	AnalyzeStepResult(ctx context.Context, step *session.PlanStep, rawOutput string, view session.View) (session.PerceptionSnapshot, error)
}

// Retriever answers a query from a knowledge base.
type Retriever interface {
	Retrieve(ctx context.Context, query string, view session.View) (session.RetrievalBundle, error)
}

// MemoryKeeper consolidates session memory. Returned states replace the
// blackboard's memory after bounds validation.
type MemoryKeeper interface {
	AttachRelevantMemory(ctx context.Context, view session.View) (session.MemoryState, error)
	UpdateFromStep(ctx context.Context, step *session.PlanStep, resultText string, view session.View) (session.MemoryState, error)
}

// Planner produces and rewrites plan versions. Version numbering and
// rewrite counting are enforced by the coordinator, not the planner.
type Planner interface {
	PlanInitial(ctx context.Context, snap session.PerceptionSnapshot, view session.View) (session.PlanVersion, error)
	RewritePlan(ctx context.Context, prev session.PlanVersion, reason string, view session.View) (session.PlanVersion, error)
}

// Critic judges a step result.
type Critic interface {
	ReviewResult(ctx context.Context, step *session.PlanStep, snap *session.PerceptionSnapshot, bundle *session.RetrievalBundle, view session.View) (session.CriticReport, error)
}

// HumanInput is the synchronous human-in-the-loop callback. A nil callback
// is treated as a human who always answers with an empty string.
type HumanInput func(prompt string) (string, error)
