package statestore

import (
	"context"
	"sync"

	"balance-alerts/internal/alertstate"
)

// MemoryStore keeps the alert state in process memory. Used by
// simulate-alert and by tests; SaveErr can be primed to exercise the
// fail-closed persistence path.
type MemoryStore struct {
	mu      sync.Mutex
	state   alertstate.State
	found   bool
	SaveErr error
	Saves   int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved state, if any.
func (m *MemoryStore) Load(ctx context.Context) (alertstate.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.found, nil
}

// Save records the state, or fails with the primed error.
func (m *MemoryStore) Save(ctx context.Context, state alertstate.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.state = state
	m.found = true
	m.Saves++
	return nil
}

var _ alertstate.Store = (*MemoryStore)(nil)
