// Package agents provides rule-based reference implementations of the
// collaborator capabilities plus a handful of built-in tools. They keep the
// engine usable end to end without a model backend; deployments replace
// them with real perception, planning, and critique.
package agents

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/internal/session"
)

var (
	exprRe   = regexp.MustCompile(`\d+(?:\.\d+)?(?:\s*[-+*/]\s*\d+(?:\.\d+)?)+`)
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// RuleBasedPerception classifies queries with keyword rules and extracts
// entities with small regexes.
type RuleBasedPerception struct{}

func (RuleBasedPerception) AnalyzeQuery(ctx context.Context, text string, view session.View) (session.PerceptionSnapshot, error) {
	lower := strings.ToLower(text)
	snap := session.PerceptionSnapshot{
		ID:         uuid.NewString(),
		Source:     "user",
		InputText:  text,
		Intent:     classifyIntent(lower),
		Confidence: 0.6,
	}

	if expr := exprRe.FindString(text); expr != "" {
		snap.Entities = append(snap.Entities, strings.TrimSpace(expr))
		snap.Confidence = 0.9
	}
	for _, n := range numberRe.FindAllString(text, session.MaxEntities) {
		if len(snap.Entities) >= session.MaxEntities {
			break
		}
		snap.Entities = append(snap.Entities, n)
	}

	for _, part := range splitGoals(text) {
		if len(snap.SubGoals) >= session.MaxSubGoals {
			break
		}
		snap.SubGoals = append(snap.SubGoals, part)
	}
	return snap, nil
}

func (RuleBasedPerception) AnalyzeStepResult(ctx context.Context, step *session.PlanStep, raw string, view session.View) (session.PerceptionSnapshot, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = "(empty result)"
	}
	// Prefix keeps even one-character results above the snapshot's
	// minimum input length.
	text = "step result: " + text
	lower := strings.ToLower(text)
	failed := strings.Contains(lower, "error") || strings.Contains(lower, "failed") ||
		strings.Contains(lower, "timed out")

	snap := session.PerceptionSnapshot{
		ID:              uuid.NewString(),
		Source:          "step_result",
		InputText:       text,
		Intent:          "evaluate_result",
		IsGoalSatisfied: !failed,
		Confidence:      0.7,
	}
	if failed {
		snap.Confidence = 0.4
		snap.Uncertainties = append(snap.Uncertainties, "step output looks like a failure message")
	}
	return snap, nil
}

func classifyIntent(lower string) string {
	switch {
	case strings.Contains(lower, "calculate") || strings.Contains(lower, "compute") ||
		strings.Contains(lower, "how much") || exprRe.MatchString(lower):
		return "calculate"
	case strings.HasPrefix(lower, "what") || strings.HasPrefix(lower, "who") ||
		strings.HasPrefix(lower, "when") || strings.HasPrefix(lower, "where") ||
		strings.Contains(lower, "look up") || strings.Contains(lower, "find out"):
		return "lookup"
	case strings.Contains(lower, "summarize") || strings.Contains(lower, "summary"):
		return "summarize"
	default:
		return "task"
	}
}

func splitGoals(text string) []string {
	var out []string
	for _, chunk := range strings.Split(text, " and then ") {
		for _, part := range strings.Split(chunk, ", then ") {
			part = strings.TrimSpace(part)
			if len(part) >= session.MinQueryLen {
				out = append(out, part)
			}
		}
	}
	if len(out) <= 1 {
		return nil
	}
	return out
}
