// Package delegation dispatches backlog tasks to the external executor and
// tracks per-task outcomes with bounded retries.
package delegation

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/designd/internal/backlog"
)

// Outcome is the executor's verdict on one delegation attempt.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailure    Outcome = "failure"
	OutcomeNeedsInput Outcome = "needs_input"
)

// Result is what the executor returns for an attempt. Note carries the
// executor's explanation for failures and input requests.
type Result struct {
	Outcome Outcome
	Note    string
}

// Executor hands a task to the external execution component. Delegate must
// be idempotent per task ID so that retrying a timed-out attempt is safe.
type Executor interface {
	Delegate(ctx context.Context, task *backlog.Task) (Result, error)
}

// Request records a single dispatch of a task. Requests are immutable once
// recorded.
type Request struct {
	TaskID   string        `json:"task_id"`
	Attempt  int           `json:"attempt"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Summary aggregates one dispatcher run over a backlog.
type Summary struct {
	Done     int
	Rejected int
	Parked   int
	Requests []Request
}

// DelegationError reports a task that exhausted its attempt budget or an
// executor that could not be reached at all.
type DelegationError struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e *DelegationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task %s: delegation failed after %d attempts: %v", e.TaskID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("task %s: rejected after %d attempts", e.TaskID, e.Attempts)
}

func (e *DelegationError) Unwrap() error { return e.Err }
