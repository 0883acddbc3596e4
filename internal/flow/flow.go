package flow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/bridge"
	"github.com/fyrsmithlabs/flowd/internal/collab"
	"github.com/fyrsmithlabs/flowd/internal/fault"
)

// Event drives a flow forward. Each event maps to a target state in the
// transition table; whether the transition is legal from the current state
// is decided by the machine.
type Event string

const (
	EventStart    Event = "start"
	EventRun      Event = "run"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
	EventFail     Event = "fail"
)

var eventTargets = map[Event]State{
	EventStart:    StateReady,
	EventRun:      StateRunning,
	EventPause:    StatePaused,
	EventResume:   StateRunning,
	EventComplete: StateCompleted,
	EventCancel:   StateCancelled,
	EventFail:     StateFailed,
}

// Flow is one orchestrated task instance. It owns one state machine and one
// collaboration registry, and holds the injected tool bridge; all three are
// reachable only through its methods.
type Flow struct {
	ID string

	machine *Machine
	agents  *collab.Registry
	bridge  *bridge.Bridge
	logger  *zap.Logger
}

// Config configures a flow.
type Config struct {
	// MaxErrors is the recorded-error threshold (default: 3).
	MaxErrors int

	// Bridge is the shared tool bridge. Required.
	Bridge *bridge.Bridge

	// Logger for structured logging.
	Logger *zap.Logger
}

// New creates a flow in the initialized state.
func New(id string, cfg Config) *Flow {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.With(zap.String("flow_id", id))
	return &Flow{
		ID:      id,
		machine: NewMachine(MachineConfig{MaxErrors: cfg.MaxErrors, Logger: logger}),
		agents:  collab.NewRegistry(collab.RegistryConfig{Logger: logger}),
		bridge:  cfg.Bridge,
		logger:  logger,
	}
}

// State returns the flow's current state.
func (f *Flow) State() State {
	return f.machine.State()
}

// Advance applies an event and returns the resulting state. An unknown
// event is an invalid-input fault; a legal but disallowed transition
// surfaces the machine's TransitionError.
func (f *Flow) Advance(ev Event) (State, error) {
	target, ok := eventTargets[ev]
	if !ok {
		return f.machine.State(), fault.New(fault.KindInvalidInput, fault.SeverityLow, "advance",
			"unknown event").With("event", string(ev)).With("flow_id", f.ID)
	}
	if err := f.machine.TransitionTo(target); err != nil {
		return f.machine.State(), err
	}
	return f.machine.State(), nil
}

// RecordError records a flow-level error on the machine. See
// Machine.RecordError for the threshold semantics.
func (f *Flow) RecordError(err error) error {
	return f.machine.RecordError(err)
}

// History returns the machine's append-only history log.
func (f *Flow) History() []HistoryEntry {
	return f.machine.History()
}

// Faults returns the machine's recorded fault history.
func (f *Flow) Faults() []fault.Record {
	return f.machine.Faults()
}

// SetData updates the snapshot attached to subsequent history entries.
func (f *Flow) SetData(key string, value any) {
	f.machine.SetData(key, value)
}

// Agents returns the flow's collaboration registry.
func (f *Flow) Agents() *collab.Registry {
	return f.agents
}

// WaitForCompletion blocks until the flow's active agent set is empty, an
// agent errors, or the deadline passes.
func (f *Flow) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	return f.agents.WaitForCompletion(ctx, timeout)
}

// InvokeTool forwards to the injected bridge.
func (f *Flow) InvokeTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return f.bridge.Invoke(ctx, name, args)
}
