package agents

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/internal/session"
)

// Recorder is a minimal memory keeper: it records one short-term item per
// evaluated step and evicts the oldest entries past the capacity bound.
type Recorder struct{}

func (Recorder) AttachRelevantMemory(ctx context.Context, view session.View) (session.MemoryState, error) {
	mem := cloneMemory(view.Memory())
	mem.ShortTerm = append(mem.ShortTerm, session.MemoryItem{
		ID:          uuid.NewString(),
		Kind:        session.MemoryFact,
		Content:     "session goal: " + view.Query(),
		CreatedTurn: view.Turn(),
	})
	return trimMemory(mem), nil
}

func (Recorder) UpdateFromStep(ctx context.Context, step *session.PlanStep, resultText string, view session.View) (session.MemoryState, error) {
	mem := cloneMemory(view.Memory())

	item := session.MemoryItem{
		ID:          uuid.NewString(),
		CreatedTurn: view.Turn(),
	}
	switch {
	case step.Status == session.StepFailed && step.ToolName != "":
		item.Kind = session.MemoryToolFailure
		item.Content = fmt.Sprintf("tool %s failed on step %q", step.ToolName, step.Description)
		item.Tags = []string{step.ToolName}
	case step.ToolName != "":
		item.Kind = session.MemoryToolSuccess
		item.Content = fmt.Sprintf("tool %s answered step %q: %s", step.ToolName, step.Description, clip(resultText, 120))
		item.Tags = []string{step.ToolName}
	default:
		item.Kind = session.MemoryFact
		item.Content = fmt.Sprintf("step %q produced: %s", step.Description, clip(resultText, 120))
	}
	mem.ShortTerm = append(mem.ShortTerm, item)
	return trimMemory(mem), nil
}

func cloneMemory(m *session.MemoryState) session.MemoryState {
	out := session.NewMemoryState()
	out.Notes = m.Notes
	out.ShortTerm = append(out.ShortTerm, m.ShortTerm...)
	for k, v := range m.BannedTools {
		out.BannedTools[k] = v
	}
	for k, v := range m.SuccessfulTools {
		out.SuccessfulTools[k] = v
	}
	for k, v := range m.FailureStreaks {
		out.FailureStreaks[k] = v
	}
	return out
}

func trimMemory(m session.MemoryState) session.MemoryState {
	if n := len(m.ShortTerm); n > session.MaxShortTermItems {
		m.ShortTerm = m.ShortTerm[n-session.MaxShortTermItems:]
	}
	return m
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
