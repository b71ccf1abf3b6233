package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentloop/agentloop/internal/safeexec"
	"github.com/agentloop/agentloop/internal/session"
)

// ToolStrategy satisfies a step by calling its named tool through the safe
// executor. It applies to every step that names a tool, registered or not,
// so an unknown or banned tool fails through the executor's guards and is
// recorded instead of silently falling through to a softer strategy.
type ToolStrategy struct {
	Exec *safeexec.Executor
}

func (s *ToolStrategy) Kind() Kind { return KindTool }

func (s *ToolStrategy) Applicable(step *session.PlanStep) bool {
	return step.ToolName != ""
}

func (s *ToolStrategy) Run(ctx context.Context, step *session.PlanStep, view session.View) (Outcome, error) {
	res, err := s.Exec.Execute(ctx, step, view)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Text: res.Text, Payload: res.Payload, Latency: res.Latency}, nil
}

// Retriever looks up knowledge-base items for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]session.RetrievedItem, error)
}

// RetrievalStrategy satisfies a step from the knowledge base. It applies to
// any step with a usable query text, so it can act as a softer fallback
// when a tool call is not available or keeps failing.
type RetrievalStrategy struct {
	Source Retriever
	Limit  int
}

func (s *RetrievalStrategy) Kind() Kind { return KindRetrieval }

func (s *RetrievalStrategy) Applicable(step *session.PlanStep) bool {
	return len(queryText(step)) >= session.MinQueryLen
}

func (s *RetrievalStrategy) Run(ctx context.Context, step *session.PlanStep, view session.View) (Outcome, error) {
	limit := s.Limit
	if limit <= 0 || limit > session.MaxRetrievedItems {
		limit = session.MaxRetrievedItems
	}
	items, err := s.Source.Retrieve(ctx, queryText(step), limit)
	if err != nil {
		return Outcome{}, err
	}
	if len(items) == 0 {
		return Outcome{}, fmt.Errorf("no knowledge base matches for step %s", step.ID)
	}
	var b strings.Builder
	payload := map[string]any{"items": items}
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(it.Snippet)
	}
	return Outcome{Text: b.String(), Payload: payload}, nil
}

// Searcher answers a query from an external search backend.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// SearchStrategy is the lowest ranked option: ask an open-ended search
// backend and take its answer text verbatim.
type SearchStrategy struct {
	Source Searcher
}

func (s *SearchStrategy) Kind() Kind { return KindSearch }

func (s *SearchStrategy) Applicable(step *session.PlanStep) bool {
	return len(queryText(step)) >= session.MinQueryLen
}

func (s *SearchStrategy) Run(ctx context.Context, step *session.PlanStep, view session.View) (Outcome, error) {
	text, err := s.Source.Search(ctx, queryText(step))
	if err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Outcome{}, fmt.Errorf("empty search result for step %s", step.ID)
	}
	return Outcome{Text: text}, nil
}

func queryText(step *session.PlanStep) string {
	if step.InputContext != "" {
		return step.InputContext
	}
	return step.Description
}
