package alertstate

import (
	"fmt"
	"time"
)

// Phase is the coarse alerting state.
type Phase string

const (
	// PhaseNormal means the balance is healthy and no alert run is active.
	PhaseNormal Phase = "normal"
	// PhaseAlerting means a low-balance alert run is in progress.
	PhaseAlerting Phase = "alerting"
)

// State is the durable record of the alerting state machine. It is a
// singleton per monitored account, mutated only by Transition, and
// persisted synchronously after every mutation.
type State struct {
	Phase             Phase      `json:"phase"`
	Sequence          int        `json:"sequence"`
	NextEligibleAt    *time.Time `json:"next_eligible_at,omitempty"`
	EnteredAlertingAt *time.Time `json:"entered_alerting_at,omitempty"`
}

// Normal returns the initial (and post-recovery) state.
func Normal() State {
	return State{Phase: PhaseNormal}
}

// Validate checks the structural invariants that tie phase, sequence,
// and eligibility together. A persisted record violating them is corrupt.
func (s State) Validate() error {
	switch s.Phase {
	case PhaseNormal:
		if s.Sequence != 0 || s.NextEligibleAt != nil || s.EnteredAlertingAt != nil {
			return fmt.Errorf("normal phase must carry no alert-run fields")
		}
	case PhaseAlerting:
		if s.Sequence < 1 {
			return fmt.Errorf("alerting phase requires sequence >= 1, got %d", s.Sequence)
		}
		if s.NextEligibleAt == nil {
			return fmt.Errorf("alerting phase requires next_eligible_at")
		}
	default:
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	return nil
}

// Equal reports field-for-field equality, comparing timestamps by instant.
func (s State) Equal(other State) bool {
	return s.Phase == other.Phase &&
		s.Sequence == other.Sequence &&
		timePtrEqual(s.NextEligibleAt, other.NextEligibleAt) &&
		timePtrEqual(s.EnteredAlertingAt, other.EnteredAlertingAt)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
