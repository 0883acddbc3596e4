// Package flow implements the per-task state machine and the flow
// composition root that ties it to the collaboration registry and the tool
// bridge.
package flow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/fault"
)

// State represents a flow lifecycle state.
type State string

const (
	StateInitialized State = "initialized"
	StateReady       State = "ready"
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether no transition can ever leave the state.
// Completed is not terminal: post-completion error detection may still move
// a flow to failed.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateCancelled
}

// transitions is the static transition table. A transition is permitted only
// if the target appears in the source's entry.
var transitions = map[State][]State{
	StateInitialized: {StateReady, StateFailed},
	StateReady:       {StateRunning, StateFailed, StateCancelled},
	StateRunning:     {StatePaused, StateCompleted, StateFailed, StateCancelled},
	StatePaused:      {StateRunning, StateFailed, StateCancelled},
	StateCompleted:   {StateFailed},
	StateFailed:      {},
	StateCancelled:   {},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected state transition. Hint carries
// corrective guidance for the most common caller mistakes.
type TransitionError struct {
	From State
	To   State
	Hint string
}

func (e *TransitionError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid transition from %s to %s: %s", e.From, e.To, e.Hint)
	}
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ErrMaxErrors is returned by RecordError once the error counter reaches the
// configured maximum and the flow has been forced to failed.
var ErrMaxErrors = errors.New("max errors exceeded")

// HistoryEntry is one append-only log entry of (state, error, snapshot).
type HistoryEntry struct {
	State    State          `json:"state"`
	Error    string         `json:"error,omitempty"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
	At       time.Time      `json:"at"`
}

// MachineConfig configures a state machine.
type MachineConfig struct {
	// MaxErrors is the recorded-error threshold that forces failed (default: 3).
	MaxErrors int

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultMachineConfig returns sensible defaults.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		MaxErrors: 3,
		Logger:    zap.NewNop(),
	}
}

// Machine is a per-flow state machine with a bounded error counter.
type Machine struct {
	mu        sync.Mutex
	state     State
	history   []HistoryEntry
	faults    []fault.Record
	data      map[string]any
	errCount  int
	maxErrors int
	logger    *zap.Logger
}

// NewMachine creates a machine in the initialized state.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Machine{
		state:     StateInitialized,
		data:      make(map[string]any),
		maxErrors: cfg.MaxErrors,
		logger:    cfg.Logger,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetData updates the data snapshot attached to subsequent history entries.
func (m *Machine) SetData(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// TransitionTo moves the machine to target. Transitioning to the current
// state is a no-op success. Rejected transitions are logged with the prior
// and attempted state before the error is returned; these rejections are the
// most common integration bug in embedding code, so the log record carries
// full context.
func (m *Machine) TransitionTo(target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(target)
}

func (m *Machine) transitionLocked(target State) error {
	if target == m.state {
		return nil
	}
	if !allowed(m.state, target) {
		terr := &TransitionError{From: m.state, To: target}
		if m.state == StateInitialized && target == StateRunning {
			terr.Hint = "transition to ready before running"
		}
		m.logger.Warn("rejected flow transition",
			zap.String("from", string(m.state)),
			zap.String("to", string(target)),
			zap.String("hint", terr.Hint),
		)
		return terr
	}
	m.state = target
	m.history = append(m.history, HistoryEntry{
		State:    target,
		Snapshot: m.snapshotLocked(),
		At:       time.Now(),
	})
	m.logger.Debug("flow transition",
		zap.String("to", string(target)),
		zap.Int("history_len", len(m.history)),
	)
	return nil
}

// RecordError appends the error to the fault history and increments the
// error counter. Once the counter reaches the configured maximum the machine
// is forced to failed and ErrMaxErrors is returned; below the threshold the
// return is nil. A machine already in a terminal state stays where it is:
// failed stays failed, and cancelled is never converted to failed.
func (m *Machine) RecordError(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var f *fault.Error
	if !errors.As(err, &f) {
		f = fault.Wrap(fault.KindWorkflow, fault.SeverityHigh, "flow", err)
	}
	m.faults = append(m.faults, f.Record())
	m.history = append(m.history, HistoryEntry{
		State:    m.state,
		Error:    f.Message,
		Snapshot: m.snapshotLocked(),
		At:       time.Now(),
	})
	m.errCount++

	if m.errCount >= m.maxErrors {
		if !m.state.Terminal() {
			m.logger.Error("flow error threshold reached, forcing failed",
				zap.Int("errors", m.errCount),
				zap.Int("max_errors", m.maxErrors),
				zap.String("from", string(m.state)),
			)
			m.state = StateFailed
			m.history = append(m.history, HistoryEntry{
				State:    StateFailed,
				Snapshot: m.snapshotLocked(),
				At:       time.Now(),
			})
		} else if m.state == StateCancelled {
			m.logger.Warn("flow error threshold reached after cancellation, state unchanged",
				zap.Int("errors", m.errCount),
				zap.Int("max_errors", m.maxErrors),
			)
		}
		return fmt.Errorf("%w: %d of %d", ErrMaxErrors, m.errCount, m.maxErrors)
	}
	m.logger.Warn("flow error recorded below threshold",
		zap.String("error", f.Message),
		zap.Int("errors", m.errCount),
		zap.Int("max_errors", m.maxErrors),
	)
	return nil
}

// ErrorCount returns the number of recorded errors.
func (m *Machine) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errCount
}

// History returns a copy of the append-only history log.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Faults returns a copy of the recorded fault history.
func (m *Machine) Faults() []fault.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]fault.Record, len(m.faults))
	copy(out, m.faults)
	return out
}

func (m *Machine) snapshotLocked() map[string]any {
	if len(m.data) == 0 {
		return nil
	}
	snap := make(map[string]any, len(m.data))
	for k, v := range m.data {
		snap[k] = v
	}
	return snap
}
