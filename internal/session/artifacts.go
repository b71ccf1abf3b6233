package session

import "fmt"

// Bounds enforced on collaborator-produced artifacts before they are
// appended to the blackboard.
const (
	MaxEntities       = 50
	MaxSubGoals       = 10
	MaxRetrievedItems = 20
	MaxCriticIssues   = 20
	MaxShortTermItems = 100
	MaxBannedTools    = 50
	MaxToolCounters   = 100

	MinQueryLen          = 3
	MaxQueryLen          = 5000
	MaxRetrievalQueryLen = 500
	MinStepDescription   = 5
	MaxPlanSteps         = 20
)

// PerceptionSnapshot is the perception collaborator's reading of either the
// user query or a step result.
type PerceptionSnapshot struct {
	ID              string   `json:"id"`
	TurnIndex       int      `json:"turn_index"`
	Source          string   `json:"source"` // "user" or "step_result"
	InputText       string   `json:"input_text"`
	Entities        []string `json:"entities,omitempty"`
	Intent          string   `json:"intent,omitempty"`
	SubGoals        []string `json:"sub_goals,omitempty"`
	Constraints     []string `json:"constraints,omitempty"`
	Uncertainties   []string `json:"uncertainties,omitempty"`
	IsGoalSatisfied bool     `json:"is_goal_satisfied"`
	Confidence      float64  `json:"confidence"`
	Notes           string   `json:"notes,omitempty"`
}

// Validate checks the snapshot against the perception capability bounds.
func (s *PerceptionSnapshot) Validate() error {
	if n := len(s.InputText); n < MinQueryLen || n > MaxQueryLen {
		return fmt.Errorf("perception input length %d outside [%d,%d]", n, MinQueryLen, MaxQueryLen)
	}
	if len(s.Entities) > MaxEntities {
		return fmt.Errorf("perception snapshot has %d entities, max %d", len(s.Entities), MaxEntities)
	}
	if len(s.SubGoals) > MaxSubGoals {
		return fmt.Errorf("perception snapshot has %d sub-goals, max %d", len(s.SubGoals), MaxSubGoals)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("perception confidence %.2f outside [0,1]", s.Confidence)
	}
	return nil
}

// RetrievedItem is a single item inside a retrieval bundle.
type RetrievedItem struct {
	Source    string  `json:"source"`
	Snippet   string  `json:"snippet"`
	Ref       string  `json:"ref"`
	Relevance float64 `json:"relevance"`
	Summary   string  `json:"summary,omitempty"`
}

// RetrievalBundle is the retrieval collaborator's answer to a query.
type RetrievalBundle struct {
	ID            string          `json:"id"`
	TurnIndex     int             `json:"turn_index"`
	QueryUsed     string          `json:"query_used"`
	SourcesUsed   []string        `json:"sources_used,omitempty"`
	Items         []RetrievedItem `json:"items,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	OpenQuestions []string        `json:"open_questions,omitempty"`
}

// Validate checks the bundle against the retrieval capability bounds.
func (b *RetrievalBundle) Validate() error {
	if n := len(b.QueryUsed); n < MinQueryLen || n > MaxRetrievalQueryLen {
		return fmt.Errorf("retrieval query length %d outside [%d,%d]", n, MinQueryLen, MaxRetrievalQueryLen)
	}
	if len(b.Items) > MaxRetrievedItems {
		return fmt.Errorf("retrieval bundle has %d items, max %d", len(b.Items), MaxRetrievedItems)
	}
	for _, it := range b.Items {
		if it.Relevance < 0 || it.Relevance > 1 {
			return fmt.Errorf("retrieval item %q relevance %.2f outside [0,1]", it.Ref, it.Relevance)
		}
	}
	return nil
}

// CriticReport is the critic collaborator's judgment of one step result.
type CriticReport struct {
	ID                 string   `json:"id"`
	StepID             string   `json:"step_id"`
	TurnIndex          int      `json:"turn_index"`
	QualityScore       float64  `json:"quality_score"`
	IsAcceptable       bool     `json:"is_acceptable"`
	Issues             []string `json:"issues,omitempty"`
	HallucinationRisk  float64  `json:"hallucination_risk"`
	SafetyFlags        []string `json:"safety_flags,omitempty"`
	RewriteSuggestion  string   `json:"rewrite_suggestion,omitempty"`
	RequiresHumanInput bool     `json:"requires_human_input"`
	HumanQuestion      string   `json:"human_question,omitempty"`
}

// Validate checks the report against the critic capability bounds.
func (r *CriticReport) Validate() error {
	if len(r.Issues) > MaxCriticIssues {
		return fmt.Errorf("critic report has %d issues, max %d", len(r.Issues), MaxCriticIssues)
	}
	if r.QualityScore < 0 || r.QualityScore > 1 {
		return fmt.Errorf("critic quality score %.2f outside [0,1]", r.QualityScore)
	}
	if r.HallucinationRisk < 0 || r.HallucinationRisk > 1 {
		return fmt.Errorf("critic hallucination risk %.2f outside [0,1]", r.HallucinationRisk)
	}
	return nil
}

// MemoryItemKind classifies a short-term memory item.
type MemoryItemKind string

const (
	MemoryFact        MemoryItemKind = "fact"
	MemoryPattern     MemoryItemKind = "pattern"
	MemoryToolFailure MemoryItemKind = "tool_failure"
	MemoryToolSuccess MemoryItemKind = "tool_success"
)

// MemoryItem is one entry in short-term memory.
type MemoryItem struct {
	ID          string         `json:"id"`
	Kind        MemoryItemKind `json:"kind"`
	Content     string         `json:"content"`
	Tags        []string       `json:"tags,omitempty"`
	CreatedTurn int            `json:"created_turn"`
}

// MemoryState is the session's working memory, managed by the memory
// collaborator. The coordinator inspects only the banned set and the
// failure counters; everything else is opaque payload.
type MemoryState struct {
	ShortTerm       []MemoryItem    `json:"short_term,omitempty"`
	BannedTools     map[string]bool `json:"banned_tools,omitempty"`
	SuccessfulTools map[string]int  `json:"successful_tools,omitempty"`
	FailureStreaks  map[string]int  `json:"failure_streaks,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// NewMemoryState returns an empty memory state with initialized maps.
func NewMemoryState() MemoryState {
	return MemoryState{
		BannedTools:     make(map[string]bool),
		SuccessfulTools: make(map[string]int),
		FailureStreaks:  make(map[string]int),
	}
}

// Banned reports whether the named tool is in the banned set.
func (m *MemoryState) Banned(tool string) bool {
	return m.BannedTools[tool]
}

// Validate checks the state against the memory capability bounds.
func (m *MemoryState) Validate() error {
	if len(m.ShortTerm) > MaxShortTermItems {
		return fmt.Errorf("memory has %d short-term items, max %d", len(m.ShortTerm), MaxShortTermItems)
	}
	if len(m.BannedTools) > MaxBannedTools {
		return fmt.Errorf("memory has %d banned tools, max %d", len(m.BannedTools), MaxBannedTools)
	}
	if len(m.SuccessfulTools) > MaxToolCounters {
		return fmt.Errorf("memory has %d successful-tool entries, max %d", len(m.SuccessfulTools), MaxToolCounters)
	}
	return nil
}

// ValidatePlan checks a plan version against the planning capability bounds.
func ValidatePlan(p *PlanVersion) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s has no steps", p.ID)
	}
	if len(p.Steps) > MaxPlanSteps {
		return fmt.Errorf("plan %s has %d steps, max %d", p.ID, len(p.Steps), MaxPlanSteps)
	}
	for i := range p.Steps {
		if len(p.Steps[i].Description) < MinStepDescription {
			return fmt.Errorf("plan %s step %d description too short", p.ID, i)
		}
	}
	return nil
}
