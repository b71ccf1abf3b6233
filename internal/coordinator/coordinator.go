// Package coordinator drives the phase loop for one session: perceive and
// plan, execute steps through the strategy runner, evaluate results with
// the critic, and branch into advance, rewrite, or human escalation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agentloop/agentloop/internal/eventbus"
	"github.com/agentloop/agentloop/internal/profile"
	"github.com/agentloop/agentloop/internal/safeexec"
	"github.com/agentloop/agentloop/internal/session"
	"github.com/agentloop/agentloop/internal/strategy"
)

// banThreshold is the consecutive-failure count that bans a tool for the
// rest of the session.
const banThreshold = 3

// Config wires a coordinator. Profile, Runner, Perception, Planner, and
// Critic are required; the rest default to no-ops.
type Config struct {
	Profile    profile.Profile
	Runner     *strategy.Runner
	Perception Perception
	Retriever  Retriever
	Memory     MemoryKeeper
	Planner    Planner
	Critic     Critic
	Human      HumanInput
	Logger     *zap.Logger
	Events     eventbus.Sink
	PerfLogDir string
}

// Coordinator owns the session blackboard and runs the phase loop on a
// single goroutine. Concurrency happens only inside the strategy runner.
type Coordinator struct {
	cfg    Config
	state  *session.State
	tracer trace.Tracer
	logger *zap.Logger

	executed int
}

func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Runner == nil || cfg.Perception == nil || cfg.Planner == nil || cfg.Critic == nil {
		return nil, errors.New("coordinator requires a runner, perception, planner, and critic")
	}
	if cfg.Human == nil {
		cfg.Human = func(string) (string, error) { return "", nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = eventbus.NopSink{}
	}
	return &Coordinator{
		cfg:    cfg,
		tracer: otel.Tracer("agentloop/coordinator"),
		logger: cfg.Logger.Named("coordinator"),
	}, nil
}

// State exposes the blackboard after Run for reporting. Nil before Run.
func (c *Coordinator) State() *session.State { return c.state }

// Run executes one session for the query and returns the final answer.
// The returned error is non-nil only for a terminal FAILED session or a
// setup failure; recoverable step and tool failures are handled inside
// the loop.
func (c *Coordinator) Run(ctx context.Context, query string) (string, error) {
	c.state = session.New(query, c.cfg.Profile.Name)
	c.executed = 0
	defer c.finalize()

	c.logger.Info("session started",
		zap.String("session", c.state.ID),
		zap.String("profile", c.cfg.Profile.Name))
	c.emit("session_started", "", map[string]any{"query": query})

	if err := c.phaseInit(ctx); err != nil {
		return "", fmt.Errorf("init: %w", err)
	}
	if err := c.phasePlanning(ctx); err != nil {
		return "", fmt.Errorf("planning: %w", err)
	}

	for !c.state.Done {
		plan := c.state.ActivePlan()
		if plan == nil || plan.Status != session.PlanActive {
			break
		}
		step := plan.CurrentStep()
		if step == nil {
			break
		}
		if c.executed >= c.cfg.Profile.MaxSteps {
			c.planFailure(step.ID, fmt.Sprintf("step budget of %d exhausted", c.cfg.Profile.MaxSteps))
			break
		}
		c.state.CurrentTurn++
		c.executed++

		switch step.Kind {
		case session.StepAskUser:
			c.phaseAskUser(ctx, plan, step)
		case session.StepSummarize:
			c.phaseSummarize(ctx, plan, step)
		default:
			sel, execErr := c.phaseExecute(ctx, step)
			switch c.phaseEvaluate(ctx, step, sel.Outcome, execErr) {
			case branchAdvance:
				plan.Advance()
			case branchRewrite:
				if err := c.phaseRewrite(ctx, plan, step); err != nil {
					return "", err
				}
			case branchEscalate:
				c.planFailure(step.ID, "rewrite budget exhausted")
			}
		}
	}

	return c.finish()
}

type branch int

const (
	branchAdvance branch = iota
	branchRewrite
	branchEscalate
)

// phaseInit populates the initial perception snapshot, memory state, and,
// when a retriever is configured, a first retrieval bundle.
func (c *Coordinator) phaseInit(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "coordinator.init")
	defer span.End()

	snap, err := c.cfg.Perception.AnalyzeQuery(ctx, c.state.UserQuery, c.state)
	if err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	c.state.AppendPerception(snap)

	if c.cfg.Memory != nil {
		mem, err := c.cfg.Memory.AttachRelevantMemory(ctx, c.state)
		if err != nil {
			return err
		}
		if err := mem.Validate(); err != nil {
			return err
		}
		c.state.MemoryState = mem
	}

	if c.cfg.Retriever != nil {
		q := clipQuery(c.state.UserQuery, session.MaxRetrievalQueryLen)
		bundle, err := c.cfg.Retriever.Retrieve(ctx, q, c.state)
		if err != nil {
			// Retrieval at init is best-effort context, not a hard
			// prerequisite for planning.
			c.logger.Warn("initial retrieval failed", zap.Error(err))
		} else if verr := bundle.Validate(); verr != nil {
			return verr
		} else {
			c.state.AppendRetrieval(bundle)
		}
	}
	return nil
}

func (c *Coordinator) phasePlanning(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "coordinator.planning")
	defer span.End()

	snap := c.state.LatestPerception()
	if snap == nil {
		return errors.New("planning requires a perception snapshot")
	}
	plan, err := c.cfg.Planner.PlanInitial(ctx, *snap, c.state)
	if err != nil {
		return err
	}
	c.normalizePlan(&plan, 1, 0, "initial")
	if err := session.ValidatePlan(&plan); err != nil {
		return err
	}
	if err := c.state.SetActivePlan(plan); err != nil {
		return err
	}
	c.logger.Info("plan created",
		zap.String("session", c.state.ID),
		zap.Int("steps", len(plan.Steps)))
	c.emit("plan_created", "", map[string]any{"version": plan.Version, "steps": len(plan.Steps)})
	return nil
}

// phaseExecute produces a raw result for the step via the strategy runner,
// or via the retriever directly for RETRIEVE steps. The per-strategy
// comparison metrics are logged and emitted here, win or lose.
func (c *Coordinator) phaseExecute(ctx context.Context, step *session.PlanStep) (strategy.Selection, error) {
	ctx, span := c.startSpan(ctx, "coordinator.execute",
		attribute.String("step.id", step.ID),
		attribute.String("step.kind", string(step.Kind)))
	defer span.End()

	step.Status = session.StepRunning
	c.emit("step_started", step.ID, map[string]any{"kind": string(step.Kind), "tool": step.ToolName})

	var sel strategy.Selection
	var err error
	if step.Kind == session.StepRetrieve && c.cfg.Retriever != nil {
		sel, err = c.executeRetrieve(ctx, step)
	} else {
		sel, err = c.cfg.Runner.Execute(ctx, step, c.state)
	}
	c.reportStrategies(step, sel)
	return sel, err
}

func (c *Coordinator) executeRetrieve(ctx context.Context, step *session.PlanStep) (strategy.Selection, error) {
	q := step.InputContext
	if q == "" {
		q = step.Description
	}
	q = clipQuery(q, session.MaxRetrievalQueryLen)
	start := time.Now()
	fail := func(err error) (strategy.Selection, error) {
		m := strategy.Metric{Kind: strategy.KindRetrieval, Latency: time.Since(start), Err: err}
		return strategy.Selection{Metrics: []strategy.Metric{m}}, err
	}
	bundle, err := c.cfg.Retriever.Retrieve(ctx, q, c.state)
	if err != nil {
		return fail(err)
	}
	if err := bundle.Validate(); err != nil {
		return fail(err)
	}
	c.state.AppendRetrieval(bundle)

	text := bundle.Summary
	if text == "" {
		var parts []string
		for _, it := range bundle.Items {
			parts = append(parts, it.Snippet)
		}
		text = strings.Join(parts, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return fail(fmt.Errorf("retrieval produced nothing for step %s", step.ID))
	}
	latency := time.Since(start)
	return strategy.Selection{
		Outcome: strategy.Outcome{Text: text, Source: strategy.KindRetrieval, Latency: latency},
		Metrics: []strategy.Metric{{Kind: strategy.KindRetrieval, Latency: latency, Success: true}},
	}, nil
}

// reportStrategies surfaces the comparison metrics for every strategy
// attempted on a step, so a losing or failed attempt stays visible next
// to the selected result.
func (c *Coordinator) reportStrategies(step *session.PlanStep, sel strategy.Selection) {
	if len(sel.Metrics) == 0 {
		return
	}
	attempts := make([]map[string]any, 0, len(sel.Metrics))
	for _, m := range sel.Metrics {
		entry := map[string]any{
			"strategy":   string(m.Kind),
			"latency_ms": m.Latency.Milliseconds(),
			"success":    m.Success,
		}
		if m.Err != nil {
			entry["error"] = m.Err.Error()
		}
		attempts = append(attempts, entry)
		c.logger.Debug("strategy attempt",
			zap.String("step", step.ID),
			zap.String("strategy", string(m.Kind)),
			zap.Duration("latency", m.Latency),
			zap.Bool("success", m.Success),
			zap.NamedError("attempt_error", m.Err))
	}
	c.emit("strategies_compared", step.ID, map[string]any{"attempts": attempts})
}

// phaseEvaluate re-perceives the raw result, asks the critic to judge it,
// updates memory, and decides the branch. Failures never escape this
// phase as Go errors; they become branch decisions.
func (c *Coordinator) phaseEvaluate(ctx context.Context, step *session.PlanStep, out strategy.Outcome, execErr error) branch {
	ctx, span := c.startSpan(ctx, "coordinator.evaluate", attribute.String("step.id", step.ID))
	defer span.End()

	raw := out.Text
	if execErr != nil {
		raw = execErr.Error()
	}

	var snap *session.PerceptionSnapshot
	if s, err := c.cfg.Perception.AnalyzeStepResult(ctx, step, raw, c.state); err != nil {
		c.logger.Warn("result perception failed", zap.String("step", step.ID), zap.Error(err))
	} else if verr := s.Validate(); verr != nil {
		c.logger.Warn("result perception out of bounds", zap.String("step", step.ID), zap.Error(verr))
	} else {
		c.state.AppendPerception(s)
		step.PerceptionID = s.ID
		snap = c.state.LatestPerception()
	}

	report, err := c.cfg.Critic.ReviewResult(ctx, step, snap, c.state.LatestRetrieval(), c.state)
	if err != nil || report.Validate() != nil {
		if err == nil {
			err = report.Validate()
		}
		c.logger.Warn("critic unavailable, accepting on execution outcome only",
			zap.String("step", step.ID), zap.Error(err))
		report = session.CriticReport{
			ID:           uuid.NewString(),
			StepID:       step.ID,
			IsAcceptable: execErr == nil,
			QualityScore: 0.5,
		}
	}
	step.CriticReportID = report.ID

	// Budget-exhausted tool failures consult the human before branching;
	// the guidance feeds the next planning cycle through memory notes.
	var exhausted *safeexec.RetryExhaustedError
	var allFailed *strategy.AllFailedError
	if errors.As(execErr, &exhausted) || errors.As(execErr, &allFailed) {
		resp := c.escalate(session.HILToolFailure, step.ID,
			fmt.Sprintf("Tool execution for step %q failed: %v. How should I proceed?", step.Description, execErr))
		if resp != "" {
			c.state.MemoryState.Notes = appendNote(c.state.MemoryState.Notes, "human guidance: "+resp)
			step.Notes = appendNote(step.Notes, "human guidance: "+resp)
		}
	}

	accepted := execErr == nil && report.IsAcceptable
	c.updateMemory(ctx, step, out.Text, accepted)

	if accepted {
		if report.RequiresHumanInput {
			// An accepted result with an open question is a review, not a
			// failure, so no failure-category HIL event is recorded.
			resp, herr := c.cfg.Human(humanQuestion(report, step))
			if herr != nil {
				c.logger.Warn("human review unavailable", zap.String("step", step.ID), zap.Error(herr))
			} else if resp != "" {
				step.Notes = appendNote(step.Notes, "human review: "+resp)
			}
			c.emit("step_reviewed", step.ID, map[string]any{"question": humanQuestion(report, step)})
		}
		step.Status = session.StepSucceeded
		step.ResultText = out.Text
		step.ResultPayload = out.Payload
		c.logger.Info("step succeeded",
			zap.String("step", step.ID),
			zap.String("source", string(out.Source)))
		c.emit("step_succeeded", step.ID, map[string]any{"source": string(out.Source)})
		return branchAdvance
	}

	step.Status = session.StepFailed
	rejection := &StepRejectedError{StepID: step.ID, Issues: report.Issues}
	c.logger.Warn("step failed",
		zap.String("step", step.ID),
		zap.NamedError("exec_error", execErr),
		zap.Bool("critic_acceptable", report.IsAcceptable))
	c.emit("step_failed", step.ID, map[string]any{"reason": rejection.Error()})

	plan := c.state.ActivePlan()
	if plan != nil && plan.RewriteCount < c.cfg.Profile.MaxRewrites {
		return branchRewrite
	}
	return branchEscalate
}

// phaseRewrite asks the planner for a replacement plan version after a
// step-failure escalation. The new version number and rewrite count are
// stamped here so planner implementations cannot violate them.
func (c *Coordinator) phaseRewrite(ctx context.Context, plan *session.PlanVersion, failed *session.PlanStep) error {
	ctx, span := c.startSpan(ctx, "coordinator.rewrite", attribute.Int("plan.version", plan.Version))
	defer span.End()

	resp := c.escalate(session.HILStepFailure, failed.ID,
		fmt.Sprintf("Step %q failed and the plan will be rewritten. Any guidance?", failed.Description))
	reason := fmt.Sprintf("step %s failed", failed.ID)
	if resp != "" {
		reason += "; human guidance: " + resp
	}

	next, err := c.cfg.Planner.RewritePlan(ctx, *plan, reason, c.state)
	if err != nil {
		c.planFailure(failed.ID, fmt.Sprintf("rewrite failed: %v", err))
		return nil
	}
	c.normalizePlan(&next, plan.Version+1, plan.RewriteCount+1, reason)
	if err := session.ValidatePlan(&next); err != nil {
		c.planFailure(failed.ID, fmt.Sprintf("rewritten plan invalid: %v", err))
		return nil
	}
	if err := c.state.SetActivePlan(next); err != nil {
		return err
	}
	c.logger.Info("plan rewritten",
		zap.String("session", c.state.ID),
		zap.Int("version", next.Version),
		zap.Int("rewrites", next.RewriteCount))
	c.emit("plan_rewritten", failed.ID, map[string]any{"version": next.Version})
	return nil
}

// phaseAskUser short-circuits execution: the human's answer becomes step
// output and is re-perceived for the following steps.
func (c *Coordinator) phaseAskUser(ctx context.Context, plan *session.PlanVersion, step *session.PlanStep) {
	ctx, span := c.startSpan(ctx, "coordinator.ask_user", attribute.String("step.id", step.ID))
	defer span.End()

	prompt := step.InputContext
	if prompt == "" {
		prompt = step.Description
	}
	resp, err := c.cfg.Human(prompt)
	if err != nil {
		c.logger.Warn("human input unavailable", zap.String("step", step.ID), zap.Error(err))
		resp = ""
	}
	step.Status = session.StepSucceeded
	step.ResultText = resp
	step.Notes = appendNote(step.Notes, "user answered")
	if resp != "" {
		if s, perr := c.cfg.Perception.AnalyzeStepResult(ctx, step, resp, c.state); perr == nil && s.Validate() == nil {
			c.state.AppendPerception(s)
			step.PerceptionID = s.ID
		}
	}
	c.emit("step_succeeded", step.ID, map[string]any{"source": "user"})
	plan.Advance()
}

// phaseSummarize builds the final answer from the succeeded steps and
// terminates the loop.
func (c *Coordinator) phaseSummarize(ctx context.Context, plan *session.PlanVersion, step *session.PlanStep) {
	_, span := c.startSpan(ctx, "coordinator.summarize", attribute.String("step.id", step.ID))
	defer span.End()

	answer := composeAnswer(plan)
	step.Status = session.StepSucceeded
	step.ResultText = answer
	plan.Advance()
	c.state.MarkDone(answer)
	c.emit("step_succeeded", step.ID, map[string]any{"source": "summarize"})
}

// updateMemory runs after every evaluation: deterministic tool counters
// and banning here, heuristic consolidation delegated to the keeper.
func (c *Coordinator) updateMemory(ctx context.Context, step *session.PlanStep, resultText string, success bool) {
	if tool := step.ToolName; tool != "" {
		mem := c.state.Memory()
		if success {
			mem.SuccessfulTools[tool]++
			mem.FailureStreaks[tool] = 0
		} else {
			mem.FailureStreaks[tool]++
			if mem.FailureStreaks[tool] >= banThreshold && !mem.BannedTools[tool] {
				mem.BannedTools[tool] = true
				c.logger.Warn("tool banned",
					zap.String("tool", tool),
					zap.Int("consecutive_failures", mem.FailureStreaks[tool]))
				c.emit("tool_banned", step.ID, map[string]any{"tool": tool})
			}
		}
	}

	if c.cfg.Memory == nil {
		return
	}
	mem, err := c.cfg.Memory.UpdateFromStep(ctx, step, resultText, c.state)
	if err != nil {
		c.logger.Warn("memory update failed", zap.String("step", step.ID), zap.Error(err))
		return
	}
	if err := mem.Validate(); err != nil {
		c.logger.Warn("memory update out of bounds", zap.String("step", step.ID), zap.Error(err))
		return
	}
	c.state.MemoryState = mem
}

// escalate invokes the human callback and appends exactly one HIL event.
func (c *Coordinator) escalate(cat session.HILCategory, stepID, prompt string) string {
	resp, err := c.cfg.Human(prompt)
	if err != nil {
		c.logger.Warn("human callback failed", zap.String("category", string(cat)), zap.Error(err))
		resp = ""
	}
	c.state.AppendHIL(session.HILEvent{
		Category: cat,
		Prompt:   prompt,
		Response: resp,
		StepID:   stepID,
	})
	c.emit("hil_escalation", stepID, map[string]any{"category": string(cat)})
	return resp
}

// planFailure is the forced-termination path: one plan_failure escalation,
// active plan marked FAILED, done flag set.
func (c *Coordinator) planFailure(stepID, reason string) {
	c.escalate(session.HILPlanFailure, stepID,
		fmt.Sprintf("Plan cannot proceed (%s). The session will stop.", reason))
	if plan := c.state.ActivePlan(); plan != nil {
		plan.Status = session.PlanFailed
	}
	c.state.Done = true
	c.logger.Error("plan failed", zap.String("session", c.state.ID), zap.String("reason", reason))
}

// finish resolves the terminal state after the loop exits.
func (c *Coordinator) finish() (string, error) {
	plan := c.state.ActivePlan()
	if plan != nil && plan.Status == session.PlanFailed {
		return "", &PlanFailureError{SessionID: c.state.ID, Reason: "budgets exhausted before completion"}
	}
	if c.state.FinalAnswer == "" {
		answer := "No answer produced."
		if plan != nil {
			if a := composeAnswer(plan); a != "" {
				answer = a
			}
		}
		c.state.MarkDone(answer)
	}
	c.logger.Info("session done",
		zap.String("session", c.state.ID),
		zap.Int("turns", c.state.CurrentTurn),
		zap.Int("perf_records", c.state.Performance().Len()))
	return c.state.FinalAnswer, nil
}

// finalize persists the performance log artifact and emits the closing
// event. Runs even when the session fails.
func (c *Coordinator) finalize() {
	if c.cfg.PerfLogDir != "" {
		path := filepath.Join(c.cfg.PerfLogDir, c.state.ID+"_tool_perf.json")
		if err := c.state.Performance().SaveFile(path); err != nil {
			c.logger.Warn("persisting performance log failed", zap.String("path", path), zap.Error(err))
		}
	}
	c.emit("session_done", "", map[string]any{"done": c.state.Done, "answer": c.state.FinalAnswer})
}

func (c *Coordinator) normalizePlan(p *session.PlanVersion, version, rewrites int, reason string) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Version = version
	p.RewriteCount = rewrites
	p.Reason = reason
	p.CreatedTurn = c.state.CurrentTurn
	p.Status = session.PlanActive
	p.CurrentIndex = 0
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	for i := range p.Steps {
		if p.Steps[i].ID == "" {
			p.Steps[i].ID = uuid.NewString()
		}
		p.Steps[i].Index = i
		if p.Steps[i].Status == "" {
			p.Steps[i].Status = session.StepPending
		}
	}
}

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, name)
	span.SetAttributes(append(attrs, attribute.String("session.id", c.state.ID))...)
	return ctx, span
}

func (c *Coordinator) emit(typ, stepID string, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	if stepID != "" {
		detail["step_id"] = stepID
	}
	err := c.cfg.Events.Publish(eventbus.Event{
		SessionID: c.state.ID,
		Type:      typ,
		Turn:      c.state.CurrentTurn,
		Detail:    detail,
		At:        time.Now().UTC(),
	})
	if err != nil {
		c.logger.Debug("event publish failed", zap.String("type", typ), zap.Error(err))
	}
}

func composeAnswer(plan *session.PlanVersion) string {
	var parts []string
	for _, s := range plan.SucceededSteps() {
		if s.Kind == session.StepSummarize {
			continue
		}
		if t := strings.TrimSpace(s.ResultText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func humanQuestion(r session.CriticReport, step *session.PlanStep) string {
	if r.HumanQuestion != "" {
		return r.HumanQuestion
	}
	return fmt.Sprintf("Please review the result of step %q.", step.Description)
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}

func clipQuery(q string, max int) string {
	if len(q) <= max {
		return q
	}
	return q[:max]
}
