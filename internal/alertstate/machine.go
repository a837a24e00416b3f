package alertstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"balance-alerts/internal/fetcher"
)

// Action is the outcome of one evaluation.
type Action int

const (
	// ActionNone means no notification is due.
	ActionNone Action = iota
	// ActionAlert means a low-balance alert must be sent.
	ActionAlert
	// ActionRecovery means a recovery notice must be sent.
	ActionRecovery
)

// String renders the action for logs.
func (a Action) String() string {
	switch a {
	case ActionAlert:
		return "alert"
	case ActionRecovery:
		return "recovery"
	default:
		return "none"
	}
}

// Decision pairs an action with the sequence number of the alert it
// fires. Sequence is meaningful only when Action == ActionAlert.
type Decision struct {
	Action   Action
	Sequence int
}

// Params configure threshold comparisons and repeat cadence.
type Params struct {
	LowBalanceThreshold decimal.Decimal
	HysteresisMargin    decimal.Decimal
	// PodStopBalance is the level at which the monitored resource halts.
	// Display only; it never influences the decision table.
	PodStopBalance decimal.Decimal
	Schedule       Schedule
}

// RecoveryThreshold is the level the balance must strictly exceed before
// an alert run is declared recovered.
func (p Params) RecoveryThreshold() decimal.Decimal {
	return p.LowBalanceThreshold.Add(p.HysteresisMargin)
}

// Store persists the singleton alert state record.
type Store interface {
	// Load returns the persisted state, or found=false when no record
	// exists yet. A present-but-unreadable record is an error.
	Load(ctx context.Context) (State, bool, error)
	// Save atomically overwrites the persisted record.
	Save(ctx context.Context, state State) error
}

// Transition is the pure decision function. It consumes one snapshot
// against the current state and returns the action to take plus the
// state to persist. It never touches the outside world, so replaying
// the same snapshot against the same state is idempotent.
//
// A zero spend rate does not suppress alerting: a balance already below
// threshold still alerts, it just renders an infinite runout elsewhere.
func Transition(snap fetcher.Snapshot, state State, params Params) (Decision, State) {
	switch state.Phase {
	case PhaseAlerting:
		if snap.Balance.GreaterThan(params.RecoveryThreshold()) {
			return Decision{Action: ActionRecovery}, Normal()
		}
		if state.NextEligibleAt != nil && !snap.ObservedAt.Before(*state.NextEligibleAt) {
			fired := state.Sequence
			next := snap.ObservedAt.Add(params.Schedule.IntervalFor(fired + 1))
			return Decision{Action: ActionAlert, Sequence: fired}, State{
				Phase:             PhaseAlerting,
				Sequence:          fired + 1,
				NextEligibleAt:    &next,
				EnteredAlertingAt: state.EnteredAlertingAt,
			}
		}
		// Below threshold, waiting out the cadence.
		return Decision{Action: ActionNone}, state

	default:
		if snap.Balance.LessThan(params.LowBalanceThreshold) {
			// First alert of a run fires immediately at sequence 0; the
			// stored state already reflects it as sent.
			entered := snap.ObservedAt
			next := snap.ObservedAt.Add(params.Schedule.IntervalFor(1))
			return Decision{Action: ActionAlert, Sequence: 0}, State{
				Phase:             PhaseAlerting,
				Sequence:          1,
				NextEligibleAt:    &next,
				EnteredAlertingAt: &entered,
			}
		}
		return Decision{Action: ActionNone}, state
	}
}

// Machine owns the single mutable alert state and routes every mutation
// through Transition followed by a synchronous persist. The persist is
// part of the transition: if it fails, the in-memory state is untouched
// and the decision is dropped for this cycle.
type Machine struct {
	mu     sync.RWMutex
	state  State
	params Params
	store  Store
	logger zerolog.Logger
}

// NewMachine wires the state machine to its durable store.
func NewMachine(store Store, params Params, logger zerolog.Logger) *Machine {
	return &Machine{
		state:  Normal(),
		params: params,
		store:  store,
		logger: logger.With().Str("component", "alert_machine").Logger(),
	}
}

// Restore loads the persisted state, defaulting to Normal when no record
// exists. A corrupt record is a startup error.
func (m *Machine) Restore(ctx context.Context) error {
	state, found, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore alert state: %w", err)
	}
	if !found {
		m.logger.Info().Msg("no persisted alert state, starting fresh")
		state = Normal()
	} else if err := state.Validate(); err != nil {
		return fmt.Errorf("restore alert state: %w", err)
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.logger.Info().
		Str("phase", string(state.Phase)).
		Int("sequence", state.Sequence).
		Msg("alert state restored")
	return nil
}

// Evaluate runs one read-evaluate-persist cycle as a single critical
// section. Callers must fetch the snapshot before entering and dispatch
// the returned action after it returns.
func (m *Machine) Evaluate(ctx context.Context, snap fetcher.Snapshot) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	decision, next := Transition(snap, m.state, m.params)
	if next.Equal(m.state) {
		return decision, nil
	}

	if err := m.store.Save(ctx, next); err != nil {
		// Fail closed: the prior durable state stays authoritative and
		// the action is not dispatched this cycle.
		return Decision{Action: ActionNone}, fmt.Errorf("persist alert state: %w", err)
	}
	m.state = next

	m.logger.Debug().
		Str("action", decision.Action.String()).
		Int("sequence", next.Sequence).
		Str("phase", string(next.Phase)).
		Msg("alert state transition persisted")
	return decision, nil
}

// Current returns the last-persisted state for read-only display.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Params returns the configured thresholds for formatting.
func (m *Machine) Params() Params {
	return m.params
}
