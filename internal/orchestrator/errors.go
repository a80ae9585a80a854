package orchestrator

import "fmt"

// GateBlockedError reports a phase whose gate could not open after the
// round cap, with forced progression disabled.
type GateBlockedError struct {
	Phase  Phase
	Rounds int
}

func (e *GateBlockedError) Error() string {
	return fmt.Sprintf("phase %s: gate blocked after %d clarification rounds", e.Phase, e.Rounds)
}

// CycleLimitError records an exhausted clarification budget. It triggers
// forced progression, not termination, and is kept on the decision log
// rather than returned to the caller.
type CycleLimitError struct {
	Phase  Phase
	Rounds int
}

func (e *CycleLimitError) Error() string {
	return fmt.Sprintf("phase %s: clarification rounds exhausted at %d, progression forced", e.Phase, e.Rounds)
}
