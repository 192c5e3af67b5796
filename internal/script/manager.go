package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/halpline/halpline/internal/kv"
)

// stateKeyPrefix namespaces shared script state in the store.
const stateKeyPrefix = "script:"

// Reducer is the narrative hook run after every integrate, still under
// the manager lock. Matchmaking lives here: the reducer may mutate the
// state and enqueue follow-up work, but must not block on request
// handlers.
type Reducer interface {
	Reduce(ctx context.Context, state *State, shard *Shard) error
}

// Manager owns the canonical shared state of one script. All mutation
// funnels through Integrate under one lock: sync from the store, replay
// shard changes, save on change, reduce, save again.
type Manager struct {
	mu      sync.Mutex
	key     string
	shape   []string
	store   kv.Store
	local   *State
	reducer Reducer
	logger  *slog.Logger
}

// NewManager creates a manager for the named script. The reducer is
// attached separately because narratives build their reducer around the
// manager.
func NewManager(store kv.Store, scriptName string, shape []string, logger *slog.Logger) *Manager {
	return &Manager{
		key:    stateKeyPrefix + scriptName,
		shape:  shape,
		store:  store,
		local:  NewState(shape),
		logger: logger.With("subsystem", "script-state", "script", scriptName),
	}
}

// SetReducer installs the narrative's reduce hook.
func (m *Manager) SetReducer(r Reducer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reducer = r
}

// NewShard snapshots current state for one request. The shard's sink is
// this manager.
func (m *Manager) NewShard(ctx context.Context) (*Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sync(ctx); err != nil {
		return nil, err
	}
	return NewShard(m.local.Clone(), m), nil
}

// State returns a copy of canonical state after a fresh sync.
func (m *Manager) State(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sync(ctx); err != nil {
		return nil, err
	}
	return m.local.Clone(), nil
}

// Integrate replays a batch of shard changes onto canonical state and
// runs the reducer. It implements ChangeSink.
func (m *Manager) Integrate(ctx context.Context, changes []Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		return err
	}

	before := m.local.Clone()
	for _, change := range changes {
		apply(m.local, change)
	}
	if err := m.saveIfChanged(ctx, before); err != nil {
		return err
	}

	if m.reducer == nil {
		return nil
	}
	before = m.local.Clone()
	shard := NewShard(m.local.Clone(), m)
	if err := m.reducer.Reduce(ctx, m.local, shard); err != nil {
		return fmt.Errorf("reduce: %w", err)
	}
	return m.saveIfChanged(ctx, before)
}

// BumpGeneration increments the generation so that any concurrent
// writer holding older state loses on its next sync. Admin restore only.
func (m *Manager) BumpGeneration(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sync(ctx); err != nil {
		return err
	}
	m.local.Generation++
	m.local.Version++
	return m.write(ctx)
}

// sync refreshes local state from the store. The stored record wins when
// its version or generation is newer.
func (m *Manager) sync(ctx context.Context) error {
	data, err := m.store.Get(ctx, m.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("syncing %s: %w", m.key, err)
	}

	stored := &State{}
	if err := json.Unmarshal(data, stored); err != nil {
		m.logger.Error("stored state corrupt, keeping local", "error", err)
		return nil
	}
	if err := stored.Reshape(m.shape); err != nil {
		m.logger.Warn("stored state reshaped", "error", err)
	}

	if stored.Version > m.local.Version || stored.Generation > m.local.Generation {
		m.local = stored
	}
	return nil
}

func (m *Manager) saveIfChanged(ctx context.Context, before *State) error {
	if m.local.Equal(before) {
		return nil
	}
	m.local.Version++
	return m.write(ctx)
}

func (m *Manager) write(ctx context.Context) error {
	data, err := json.Marshal(m.local)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", m.key, err)
	}
	if err := m.store.Set(ctx, m.key, data); err != nil {
		return fmt.Errorf("saving %s: %w", m.key, err)
	}
	return nil
}
