// Package session holds the shared blackboard state for one orchestration
// session: perception snapshots, retrieval bundles, versioned plans, memory
// state, the tool performance log, and the human-in-the-loop event log.
// All collaborators read from and append to this state; only the
// coordinator owns it.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HILCategory classifies a human-in-the-loop escalation.
type HILCategory string

const (
	HILToolFailure HILCategory = "tool_failure"
	HILStepFailure HILCategory = "step_failure"
	HILPlanFailure HILCategory = "plan_failure"
)

// HILEvent records one synchronous human escalation.
type HILEvent struct {
	Category  HILCategory `json:"category"`
	Prompt    string      `json:"prompt"`
	Response  string      `json:"response,omitempty"`
	StepID    string      `json:"step_id,omitempty"`
	Turn      int         `json:"turn"`
	Timestamp time.Time   `json:"timestamp"`
}

// View is the read-only access collaborators and strategies get to session
// state. The concrete *State satisfies it; nothing behind a View may
// replace the state wholesale.
type View interface {
	SessionID() string
	Query() string
	Turn() int
	ProfileName() string
	Memory() *MemoryState
	ActivePlan() *PlanVersion
	LatestPerception() *PerceptionSnapshot
	LatestRetrieval() *RetrievalBundle
	Performance() *PerformanceLog
}

// State is the blackboard. It is mutated only on the coordinator's thread;
// the performance log carries its own lock for appends.
type State struct {
	ID          string
	UserQuery   string
	CurrentTurn int
	Profile     string

	Perceptions []PerceptionSnapshot
	Retrievals  []RetrievalBundle
	Plans       []PlanVersion
	activePlan  int // index into Plans, -1 when none

	MemoryState MemoryState
	PerfLog     PerformanceLog
	HILEvents   []HILEvent

	Done        bool
	FinalAnswer string
	Meta        map[string]any

	CreatedAt time.Time
}

// New creates a fresh session for a user query under the named profile.
func New(userQuery, profileName string) *State {
	return &State{
		ID:          uuid.NewString(),
		UserQuery:   userQuery,
		Profile:     profileName,
		MemoryState: NewMemoryState(),
		activePlan:  -1,
		Meta:        make(map[string]any),
		CreatedAt:   time.Now(),
	}
}

func (s *State) SessionID() string            { return s.ID }
func (s *State) Query() string                { return s.UserQuery }
func (s *State) Turn() int                    { return s.CurrentTurn }
func (s *State) ProfileName() string          { return s.Profile }
func (s *State) Memory() *MemoryState         { return &s.MemoryState }
func (s *State) Performance() *PerformanceLog { return &s.PerfLog }

// ActivePlan returns the single active plan version, or nil before planning.
func (s *State) ActivePlan() *PlanVersion {
	if s.activePlan < 0 || s.activePlan >= len(s.Plans) {
		return nil
	}
	return &s.Plans[s.activePlan]
}

// SetActivePlan appends a plan version and makes it the active one. The
// version number must strictly increase over the previous active plan;
// superseded plans stay in history and are not touched again.
func (s *State) SetActivePlan(p PlanVersion) error {
	if prev := s.ActivePlan(); prev != nil && p.Version <= prev.Version {
		return fmt.Errorf("plan version %d does not supersede active version %d", p.Version, prev.Version)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.Plans = append(s.Plans, p)
	s.activePlan = len(s.Plans) - 1
	return nil
}

// AppendPerception records a perception snapshot, stamped with the
// current turn.
func (s *State) AppendPerception(snap PerceptionSnapshot) {
	snap.TurnIndex = s.CurrentTurn
	s.Perceptions = append(s.Perceptions, snap)
}

// AppendRetrieval records a retrieval bundle, stamped with the current
// turn.
func (s *State) AppendRetrieval(b RetrievalBundle) {
	b.TurnIndex = s.CurrentTurn
	s.Retrievals = append(s.Retrievals, b)
}

// LatestPerception returns the most recent snapshot, or nil.
func (s *State) LatestPerception() *PerceptionSnapshot {
	if len(s.Perceptions) == 0 {
		return nil
	}
	return &s.Perceptions[len(s.Perceptions)-1]
}

// LatestRetrieval returns the most recent bundle, or nil.
func (s *State) LatestRetrieval() *RetrievalBundle {
	if len(s.Retrievals) == 0 {
		return nil
	}
	return &s.Retrievals[len(s.Retrievals)-1]
}

// AppendHIL records a human-in-the-loop event.
func (s *State) AppendHIL(ev HILEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Turn = s.CurrentTurn
	s.HILEvents = append(s.HILEvents, ev)
}

// MarkDone sets the final answer, flips the done flag, and completes the
// active plan if it has not already reached a terminal status.
func (s *State) MarkDone(answer string) {
	s.FinalAnswer = answer
	s.Done = true
	if p := s.ActivePlan(); p != nil && p.Status == PlanActive {
		p.Status = PlanCompleted
	}
}
