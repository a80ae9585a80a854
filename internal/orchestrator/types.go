// Package orchestrator sequences the design workflow through phase gates.
// It drives the reasoning service, writes results into the document store,
// validates each phase before its gate opens, and hands the approved design
// to decomposition and delegation.
package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/designd/internal/docstore"
	"github.com/fyrsmithlabs/designd/internal/template"
	"github.com/fyrsmithlabs/designd/internal/validation"
)

// Phase is a named stage of the workflow.
type Phase string

const (
	// PhaseDiscovery gathers the initial project brief and detects
	// capabilities.
	PhaseDiscovery Phase = "discovery"

	// PhaseRequirementCapture drafts and validates the requirements set.
	PhaseRequirementCapture Phase = "requirement_capture"

	// PhaseArchitectureProposal drafts the architecture and any
	// capability-gated companion documents.
	PhaseArchitectureProposal Phase = "architecture_proposal"

	// PhaseTaskDecomposition turns the reviewed design into backlogs.
	PhaseTaskDecomposition Phase = "task_decomposition"

	// PhaseDelegation dispatches backlog tasks to the executor.
	PhaseDelegation Phase = "delegation"

	// PhaseClosure runs the final validation pass and closes the run.
	PhaseClosure Phase = "closure"
)

// AllPhases returns the phases in execution order.
func AllPhases() []Phase {
	return []Phase{
		PhaseDiscovery,
		PhaseRequirementCapture,
		PhaseArchitectureProposal,
		PhaseTaskDecomposition,
		PhaseDelegation,
		PhaseClosure,
	}
}

// next returns the phase after p, or "" when p is the last one.
func next(p Phase) Phase {
	phases := AllPhases()
	for i, candidate := range phases[:len(phases)-1] {
		if candidate == p {
			return phases[i+1]
		}
	}
	return ""
}

// GateStatus is the state of a phase checkpoint.
type GateStatus string

const (
	GatePending GateStatus = "pending"
	GateOpen    GateStatus = "open"
	GateBlocked GateStatus = "blocked"
)

// Gate is the checkpoint wrapping one phase. It records the clarification
// rounds spent and the last validation report produced for the phase.
type Gate struct {
	Phase  Phase              `json:"phase"`
	Status GateStatus         `json:"status"`
	Rounds int                `json:"rounds"`
	Forced bool               `json:"forced,omitempty"`
	Report *validation.Report `json:"report,omitempty"`
}

// State is the persisted orchestrator state. It is saved at every phase
// boundary so a run survives process restarts.
type State struct {
	Phase        Phase                 `json:"phase"`
	Gates        map[Phase]*Gate       `json:"gates"`
	Capabilities []template.Capability `json:"capabilities,omitempty"`
	Features     []string              `json:"features,omitempty"`
	Rollbacks    int                   `json:"rollbacks"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NewState returns a fresh state positioned at discovery with all gates
// pending.
func NewState(features []string) *State {
	gates := make(map[Phase]*Gate, len(AllPhases()))
	for _, p := range AllPhases() {
		gates[p] = &Gate{Phase: p, Status: GatePending}
	}
	return &State{
		Phase:    PhaseDiscovery,
		Gates:    gates,
		Features: features,
	}
}

// Gate returns the checkpoint for a phase, creating it if the state was
// persisted by an older run that did not know the phase.
func (s *State) Gate(p Phase) *Gate {
	g, ok := s.Gates[p]
	if !ok {
		g = &Gate{Phase: p, Status: GatePending}
		s.Gates[p] = g
	}
	return g
}

// Draft is one document produced by the reasoning service. Links name the
// targets the document references; they are recorded on write and resolved
// during validation.
type Draft struct {
	Path     string
	Title    string
	Sections []docstore.Section
	Links    []string
}

// ProposalRequest carries everything the reasoning service needs for one
// clarification round.
type ProposalRequest struct {
	Phase Phase

	// Templates are the document kinds the phase must produce.
	Templates []template.Template

	// Defects is the previous round's blocking feedback, empty on the
	// first round.
	Defects []validation.Defect

	// Notes are free-form prompts, such as parked executor questions.
	Notes []string
}

// Proposal is the reasoning service's output for one round.
type Proposal struct {
	Drafts []Draft

	// Capabilities are project traits detected so far. They accumulate
	// on the orchestrator state and gate optional document kinds.
	Capabilities []template.Capability
}

// Reasoner is the external reasoning service. Both calls block with the
// configured timeout; content is opaque text, never parsed for control
// decisions.
type Reasoner interface {
	Ask(ctx context.Context, question string) (string, error)
	Propose(ctx context.Context, req ProposalRequest) (*Proposal, error)
}

// DiagramRenderer turns a diagram description into an embeddable block.
// Failures are advisory only and never block a gate.
type DiagramRenderer interface {
	Render(ctx context.Context, description string) (string, error)
}
