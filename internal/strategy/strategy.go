// Package strategy runs alternative ways of satisfying a plan step. A step
// may be answerable by a direct tool call, by knowledge-base retrieval, or
// by web search; the runner picks applicable strategies and executes them
// according to the session's risk mode.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentloop/agentloop/internal/profile"
	"github.com/agentloop/agentloop/internal/session"
)

// Kind identifies a strategy family. Priority is fixed: direct tool calls
// beat retrieval, retrieval beats open web search.
type Kind string

const (
	KindTool      Kind = "tool"
	KindRetrieval Kind = "retrieval"
	KindSearch    Kind = "web_search"
)

func (k Kind) Priority() int {
	switch k {
	case KindTool:
		return 3
	case KindRetrieval:
		return 2
	case KindSearch:
		return 1
	}
	return 0
}

// Outcome is the result of one strategy run.
type Outcome struct {
	Text    string
	Payload map[string]any
	Source  Kind
	Latency time.Duration
}

// Metric records how one strategy attempt went. Losing and failing
// attempts keep their latency and error so runs can be compared after
// selection.
type Metric struct {
	Kind    Kind
	Latency time.Duration
	Success bool
	Err     error
}

// Selection is the runner's answer for a step: the winning outcome plus
// one metric per attempted strategy, in attempt order. Metrics are
// populated even when every strategy failed.
type Selection struct {
	Outcome Outcome
	Metrics []Metric
}

// Strategy is one candidate way to satisfy a step.
type Strategy interface {
	Kind() Kind
	// Applicable reports whether this strategy can serve the given step.
	Applicable(step *session.PlanStep) bool
	Run(ctx context.Context, step *session.PlanStep, view session.View) (Outcome, error)
}

// maxParallel caps exploratory fan-out.
const maxParallel = 3

// Runner executes candidate strategies for a step under one of the three
// risk modes.
type Runner struct {
	strategies []Strategy
	prof       profile.Profile
	logger     *zap.Logger
}

func NewRunner(prof profile.Profile, logger *zap.Logger, strategies ...Strategy) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{strategies: strategies, prof: prof, logger: logger}
}

// Execute runs the applicable strategies for step per the profile's mode.
//
// Conservative runs only the highest ranked strategy. Fallback tries each
// in rank order and returns the first success. Exploratory fans out up to
// maxParallel strategies concurrently, waits for all of them, and returns
// the best success.
func (r *Runner) Execute(ctx context.Context, step *session.PlanStep, view session.View) (Selection, error) {
	candidates := r.rank(step, view)
	if len(candidates) == 0 {
		return Selection{}, &AllFailedError{Step: step.ID}
	}

	switch r.prof.Mode {
	case profile.ModeExploratory:
		return r.runParallel(ctx, step, view, candidates)
	case profile.ModeFallback:
		return r.runSequential(ctx, step, view, candidates)
	default:
		return r.runSequential(ctx, step, view, candidates[:1])
	}
}

// rank orders the applicable strategies by priority, breaking ties with the
// historical success rate recorded in the performance log.
func (r *Runner) rank(step *session.PlanStep, view session.View) []Strategy {
	var out []Strategy
	for _, s := range r.strategies {
		if s.Applicable(step) {
			out = append(out, s)
		}
	}
	stats := view.Performance().SummarizeByTool()
	key := func(s Strategy) string {
		if s.Kind() == KindTool && step.ToolName != "" {
			return step.ToolName
		}
		return string(s.Kind())
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Kind().Priority(), out[j].Kind().Priority()
		if pi != pj {
			return pi > pj
		}
		return successRate(stats, key(out[i])) > successRate(stats, key(out[j]))
	})
	return out
}

func successRate(stats map[string]session.ToolStats, name string) float64 {
	st, ok := stats[name]
	if !ok || st.TotalCalls == 0 {
		return 0
	}
	return st.SuccessRate
}

func (r *Runner) runSequential(ctx context.Context, step *session.PlanStep, view session.View, candidates []Strategy) (Selection, error) {
	var sel Selection
	fails := &AllFailedError{Step: step.ID}
	for _, s := range candidates {
		out, m, err := r.runOne(ctx, s, step, view)
		sel.Metrics = append(sel.Metrics, m)
		if err == nil {
			sel.Outcome = out
			return sel, nil
		}
		r.logger.Debug("strategy failed",
			zap.String("strategy", string(s.Kind())),
			zap.String("step", step.ID),
			zap.Error(err))
		fails.Add(s.Kind(), err)
	}
	return sel, fails
}

// runParallel fans out the top candidates concurrently. Every launched
// strategy runs to completion under its own deadline; failures are
// collected, never propagated through the group, so a fast failure cannot
// cancel a slower success.
func (r *Runner) runParallel(ctx context.Context, step *session.PlanStep, view session.View, candidates []Strategy) (Selection, error) {
	if len(candidates) > maxParallel {
		candidates = candidates[:maxParallel]
	}

	outcomes := make([]Outcome, len(candidates))
	metrics := make([]Metric, len(candidates))
	errs := make([]error, len(candidates))
	var g errgroup.Group
	for i, s := range candidates {
		g.Go(func() error {
			outcomes[i], metrics[i], errs[i] = r.runOne(ctx, s, step, view)
			return nil
		})
	}
	g.Wait()

	best := -1
	for i := range candidates {
		if errs[i] != nil {
			continue
		}
		if best < 0 || better(candidates[i].Kind(), outcomes[i], candidates[best].Kind(), outcomes[best]) {
			best = i
		}
	}
	if best < 0 {
		fails := &AllFailedError{Step: step.ID}
		for i, s := range candidates {
			fails.Add(s.Kind(), errs[i])
		}
		return Selection{Metrics: metrics}, fails
	}
	return Selection{Outcome: outcomes[best], Metrics: metrics}, nil
}

func better(ka Kind, a Outcome, kb Kind, b Outcome) bool {
	if ka.Priority() != kb.Priority() {
		return ka.Priority() > kb.Priority()
	}
	return a.Latency < b.Latency
}

// runOne executes a single strategy under the profile's per-strategy
// deadline. Tool invocations carry their own tighter timeout inside the
// safe executor; this bound covers retrieval and search too.
func (r *Runner) runOne(ctx context.Context, s Strategy, step *session.PlanStep, view session.View) (Outcome, Metric, error) {
	sctx, cancel := context.WithTimeout(ctx, r.prof.StrategyTimeout)
	defer cancel()

	start := time.Now()
	out, err := s.Run(sctx, step, view)
	elapsed := time.Since(start)
	if err != nil {
		return Outcome{}, Metric{Kind: s.Kind(), Latency: elapsed, Err: err}, err
	}
	out.Source = s.Kind()
	if out.Latency == 0 {
		out.Latency = elapsed
	}
	return out, Metric{Kind: s.Kind(), Latency: out.Latency, Success: true}, nil
}

// AllFailedError reports that every applicable strategy for a step failed,
// with the per-strategy causes in attempt order.
type AllFailedError struct {
	Step     string
	Kinds    []Kind
	Failures []error
}

func (e *AllFailedError) Add(k Kind, err error) {
	e.Kinds = append(e.Kinds, k)
	e.Failures = append(e.Failures, err)
}

// Unwrap exposes the per-strategy causes so errors.Is and errors.As can
// match the underlying failure of any attempt.
func (e *AllFailedError) Unwrap() []error { return e.Failures }

func (e *AllFailedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("no applicable strategy for step %s", e.Step)
	}
	parts := make([]string, len(e.Failures))
	for i := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", e.Kinds[i], e.Failures[i])
	}
	return fmt.Sprintf("all strategies failed for step %s: %s", e.Step, strings.Join(parts, "; "))
}
