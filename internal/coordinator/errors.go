package coordinator

import (
	"fmt"
	"strings"
)

// StepRejectedError reports a step result the critic refused to accept.
type StepRejectedError struct {
	StepID string
	Issues []string
}

func (e *StepRejectedError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("step %s rejected by critic", e.StepID)
	}
	return fmt.Sprintf("step %s rejected by critic: %s", e.StepID, strings.Join(e.Issues, "; "))
}

// PlanFailureError is the only fatal session error: the rewrite or step
// budget ran out before the plan could complete.
type PlanFailureError struct {
	SessionID string
	Reason    string
}

func (e *PlanFailureError) Error() string {
	return fmt.Sprintf("session %s plan failed: %s", e.SessionID, e.Reason)
}
