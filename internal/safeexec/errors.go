package safeexec

import (
	"fmt"
	"time"
)

// ToolBannedError rejects a step naming a tool the memory collaborator has
// banned. The underlying executor is never invoked.
type ToolBannedError struct {
	Tool string
}

func (e *ToolBannedError) Error() string {
	return fmt.Sprintf("tool %s is banned after repeated failures", e.Tool)
}

// TimeoutError reports an invocation that exceeded its deadline.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.Timeout)
}

// RetryExhaustedError reports that all retry attempts failed. Cause is the
// last underlying failure.
type RetryExhaustedError struct {
	Tool     string
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("tool %s failed after %d attempts: %v", e.Tool, e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Cause }

// TransientError marks a tool failure as retryable. Tool funcs wrap
// recoverable failures in this so the executor knows to back off and retry;
// unwrapped errors fail the attempt immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
