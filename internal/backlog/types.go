// Package backlog turns reviewed design documents into ordered, atomic
// tasks and persists them for the downstream executor.
package backlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the delegation state of a task.
type TaskStatus string

const (
	// StatusPending means the task has not been delegated yet.
	StatusPending TaskStatus = "pending"

	// StatusDelegated means an attempt is in flight.
	StatusDelegated TaskStatus = "delegated"

	// StatusDone is terminal success.
	StatusDone TaskStatus = "done"

	// StatusParked means the executor needs input; the orchestrator may
	// re-enter requirement capture for the owning feature.
	StatusParked TaskStatus = "parked"

	// StatusRejected is terminal failure after the attempt cap.
	StatusRejected TaskStatus = "rejected"
)

// Task is one atomic unit of delegated work.
type Task struct {
	ID                 string     `json:"id"`
	Feature            string     `json:"feature"`
	Objective          string     `json:"objective"`
	AcceptanceCriteria []string   `json:"acceptance_criteria"`
	RequiredFiles      []string   `json:"required_files"`
	DependsOn          []string   `json:"depends_on,omitempty"`
	Status             TaskStatus `json:"status"`
	Attempts           int        `json:"attempts"`
	FailureNotes       []string   `json:"failure_notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// TaskSpec is the pre-decomposition task description extracted from the
// reviewed documents. Priority is the original feature-priority position,
// used to break ordering ties.
type TaskSpec struct {
	Objective          string
	AcceptanceCriteria []string
	RequiredFiles      []string
	Priority           int
}

// Backlog is the ordered task collection for one feature. It is appended
// to only before delegation begins.
type Backlog struct {
	Feature string  `json:"feature"`
	Tasks   []*Task `json:"tasks"`
}

// Task returns the task with the given ID.
func (b *Backlog) Task(id string) *Task {
	for _, t := range b.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Rejected counts tasks in terminal failure.
func (b *Backlog) Rejected() int {
	n := 0
	for _, t := range b.Tasks {
		if t.Status == StatusRejected {
			n++
		}
	}
	return n
}

// Parked returns tasks waiting on user input.
func (b *Backlog) Parked() []*Task {
	var out []*Task
	for _, t := range b.Tasks {
		if t.Status == StatusParked {
			out = append(out, t)
		}
	}
	return out
}

// DecompositionError reports a cyclic file dependency among task specs,
// which makes a valid ordering impossible.
type DecompositionError struct {
	Feature string
	Cycle   []string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("feature %q: cyclic file dependency among tasks %v", e.Feature, e.Cycle)
}

func newTask(feature string, spec TaskSpec) *Task {
	return &Task{
		ID:                 uuid.NewString(),
		Feature:            feature,
		Objective:          spec.Objective,
		AcceptanceCriteria: append([]string(nil), spec.AcceptanceCriteria...),
		RequiredFiles:      append([]string(nil), spec.RequiredFiles...),
		Status:             StatusPending,
		CreatedAt:          time.Now().UTC(),
	}
}
