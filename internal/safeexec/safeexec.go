// Package safeexec runs registered tools under validation, timeout, and
// retry guards, and records one performance entry per execution outcome.
package safeexec

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agentloop/agentloop/internal/profile"
	"github.com/agentloop/agentloop/internal/registry"
	"github.com/agentloop/agentloop/internal/session"
)

const defaultBackoffBase = 250 * time.Millisecond

// Result holds the output of a successful tool invocation.
type Result struct {
	Text    string
	Payload map[string]any
	Latency time.Duration
}

// Executor validates and invokes tools from a registry. Guards run in a
// fixed order: ban check, lookup, input validation, timed invocation with
// retries, output validation. The zero value is not usable; use New.
type Executor struct {
	reg         *registry.Registry
	prof        profile.Profile
	logger      *zap.Logger
	backoffBase time.Duration
	sleep       func(time.Duration)
}

func New(reg *registry.Registry, prof profile.Profile, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		reg:         reg,
		prof:        prof,
		logger:      logger,
		backoffBase: defaultBackoffBase,
		sleep:       time.Sleep,
	}
}

// Execute runs the tool named by step against the blackboard view. Exactly
// one record is appended to the session performance log regardless of
// outcome. step.Attempts is incremented once per invocation attempt.
func (e *Executor) Execute(ctx context.Context, step *session.PlanStep, view session.View) (Result, error) {
	perf := view.Performance()
	tool := step.ToolName

	if view.Memory().Banned(tool) {
		err := &ToolBannedError{Tool: tool}
		e.record(perf, tool, step.ID, false, 0, "tool_banned")
		return Result{}, err
	}

	schema, fn, err := e.reg.Lookup(tool)
	if err != nil {
		e.record(perf, tool, step.ID, false, 0, "unknown_tool")
		return Result{}, err
	}

	if err := e.reg.ValidateInput(tool, step.ToolArgs); err != nil {
		e.record(perf, tool, step.ID, false, 0, inputErrorKind(err))
		return Result{}, err
	}

	timeout := schema.Timeout
	if timeout <= 0 {
		timeout = e.prof.StrategyTimeout
	}
	maxRetries := e.prof.MaxRetries
	if schema.MaxRetries > 0 && schema.MaxRetries < maxRetries {
		maxRetries = schema.MaxRetries
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoffBase << (attempt - 1)
			e.logger.Debug("retrying tool",
				zap.String("tool", tool),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay))
			e.sleep(delay)
		}
		step.Attempts++

		text, payload, err := e.invoke(ctx, tool, fn, step.ToolArgs, timeout)
		if err == nil {
			latency := time.Since(start)
			if verr := e.reg.ValidateOutput(tool, payload); verr != nil {
				e.record(perf, tool, step.ID, true, latency, "output_validation")
				return Result{}, verr
			}
			e.record(perf, tool, step.ID, true, latency, "")
			return Result{Text: text, Payload: payload, Latency: latency}, nil
		}

		lastErr = err
		if !retryable(err) {
			latency := time.Since(start)
			e.record(perf, tool, step.ID, false, latency, "execution_error")
			return Result{}, err
		}
	}

	latency := time.Since(start)
	e.logger.Warn("tool retries exhausted",
		zap.String("tool", tool),
		zap.Int("attempts", maxRetries+1),
		zap.Error(lastErr))
	exhausted := &RetryExhaustedError{Tool: tool, Attempts: maxRetries + 1, Cause: lastErr}
	e.record(perf, tool, step.ID, false, latency, "retry_exhausted")
	return Result{}, exhausted
}

// invoke runs fn under its own deadline. The tool runs in a goroutine so a
// hung tool cannot block the loop past the timeout; its result is discarded
// once the deadline fires.
func (e *Executor) invoke(ctx context.Context, tool string, fn registry.Func, args map[string]any, timeout time.Duration) (string, map[string]any, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		text    string
		payload map[string]any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		text, payload, err := fn(tctx, args)
		done <- outcome{text, payload, err}
	}()

	select {
	case out := <-done:
		return out.text, out.payload, out.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return "", nil, &TimeoutError{Tool: tool, Timeout: timeout}
		}
		return "", nil, tctx.Err()
	}
}

func retryable(err error) bool {
	var te *TimeoutError
	var tr *TransientError
	return errors.As(err, &te) || errors.As(err, &tr)
}

func inputErrorKind(err error) string {
	var dp *registry.DangerousPatternError
	if errors.As(err, &dp) {
		return "dangerous_pattern"
	}
	return "schema_validation"
}

func (e *Executor) record(perf *session.PerformanceLog, tool, stepID string, success bool, latency time.Duration, kind string) {
	perf.Append(session.PerfRecord{
		ToolName:  tool,
		StepID:    stepID,
		Success:   success,
		Latency:   latency,
		ErrorKind: kind,
		CreatedAt: time.Now().UTC(),
	})
}
