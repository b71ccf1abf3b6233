package agents

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/internal/session"
)

var suspectPhrases = []string{"error", "failed", "timed out", "exception", "traceback"}

// HeuristicCritic judges a step result from the re-perception snapshot:
// empty or failure-looking output is rejected, everything else is scored
// by overlap with the step's expected outcome.
type HeuristicCritic struct{}

func (HeuristicCritic) ReviewResult(ctx context.Context, step *session.PlanStep, snap *session.PerceptionSnapshot, bundle *session.RetrievalBundle, view session.View) (session.CriticReport, error) {
	report := session.CriticReport{
		ID:     uuid.NewString(),
		StepID: step.ID,
	}

	if snap == nil || strings.TrimSpace(snap.InputText) == "" || strings.Contains(snap.InputText, "(empty result)") {
		report.IsAcceptable = false
		report.QualityScore = 0.1
		report.Issues = []string{"no result text to review"}
		return report, nil
	}

	text := snap.InputText
	lower := strings.ToLower(text)
	for _, phrase := range suspectPhrases {
		if strings.Contains(lower, phrase) {
			report.Issues = append(report.Issues, "result mentions "+phrase)
		}
	}
	if len(report.Issues) > 0 {
		report.IsAcceptable = false
		report.QualityScore = 0.2
		report.RewriteSuggestion = "retry the step with different inputs or a different tool"
		return report, nil
	}

	score := 0.6
	if step.ExpectedOutcome != "" {
		score = 0.4 + 0.6*overlap(tokenize(step.ExpectedOutcome), tokenize(text))
	}
	if snap.IsGoalSatisfied {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	report.QualityScore = score
	report.HallucinationRisk = 1 - snap.Confidence
	report.IsAcceptable = true
	return report, nil
}
