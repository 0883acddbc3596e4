package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/bridge"
	"github.com/fyrsmithlabs/flowd/internal/collab"
)

// ErrFlowNotFound is returned for operations against an unknown flow id.
var ErrFlowNotFound = errors.New("flow not found")

// ManagerConfig configures a manager.
type ManagerConfig struct {
	// MaxErrors is the per-flow recorded-error threshold (default: 3).
	MaxErrors int

	// Bridge is the tool bridge injected into every flow. When nil a
	// bridge with default configuration is created.
	Bridge *bridge.Bridge

	// Logger for structured logging.
	Logger *zap.Logger
}

// Manager owns the flow map and is the single entry point external
// collaborators use. Registries and the bridge are owned instances passed in
// through construction, never module-level singletons, so independent
// managers can coexist in tests.
type Manager struct {
	mu        sync.Mutex
	flows     map[string]*Flow
	maxErrors int
	bridge    *bridge.Bridge
	logger    *zap.Logger
}

// NewManager creates a manager with no flows.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Bridge == nil {
		cfg.Bridge = bridge.New(bridge.DefaultConfig())
	}
	return &Manager{
		flows:     make(map[string]*Flow),
		maxErrors: cfg.MaxErrors,
		bridge:    cfg.Bridge,
		logger:    cfg.Logger,
	}
}

// StartFlow creates a new flow in the initialized state and returns its id.
func (m *Manager) StartFlow() string {
	id := uuid.NewString()
	f := New(id, Config{MaxErrors: m.maxErrors, Bridge: m.bridge, Logger: m.logger})

	m.mu.Lock()
	m.flows[id] = f
	m.mu.Unlock()

	m.logger.Info("flow started", zap.String("flow_id", id))
	return id
}

// Flow returns the flow registered under id.
func (m *Manager) Flow(id string) (*Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return f, nil
}

// RemoveFlow tears a flow down, dropping its agent records. Agent records
// are never removed any other way.
func (m *Manager) RemoveFlow(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flows[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	delete(m.flows, id)
	return nil
}

// Advance applies an event to a flow and returns the resulting state.
func (m *Manager) Advance(flowID string, ev Event) (State, error) {
	f, err := m.Flow(flowID)
	if err != nil {
		return "", err
	}
	return f.Advance(ev)
}

// GetHistory returns a flow's append-only history log.
func (m *Manager) GetHistory(flowID string) ([]HistoryEntry, error) {
	f, err := m.Flow(flowID)
	if err != nil {
		return nil, err
	}
	return f.History(), nil
}

// RegisterAgent registers an agent with a flow's collaboration registry.
func (m *Manager) RegisterAgent(flowID, agentID, name string, handle any) error {
	f, err := m.Flow(flowID)
	if err != nil {
		return err
	}
	return f.Agents().Register(agentID, name, handle)
}

// UpdateAgentState sets an agent's lifecycle state, task and progress.
func (m *Manager) UpdateAgentState(flowID, agentID string, state collab.Lifecycle, task string, progress float64) error {
	f, err := m.Flow(flowID)
	if err != nil {
		return err
	}
	return f.Agents().UpdateState(agentID, state, task, progress)
}

// RecordAgentResult stores an agent's last result payload.
func (m *Manager) RecordAgentResult(flowID, agentID string, result any) error {
	f, err := m.Flow(flowID)
	if err != nil {
		return err
	}
	return f.Agents().RecordResult(agentID, result)
}

// RecordAgentError stores an agent's error and moves it to the error state.
func (m *Manager) RecordAgentError(flowID, agentID, message string) error {
	f, err := m.Flow(flowID)
	if err != nil {
		return err
	}
	return f.Agents().RecordError(agentID, message)
}

// SendMessage delivers a payload to an agent's inbox.
func (m *Manager) SendMessage(flowID, from, to string, payload any) error {
	f, err := m.Flow(flowID)
	if err != nil {
		return err
	}
	return f.Agents().Send(from, to, payload)
}

// ReceiveMessages drains an agent's inbox.
func (m *Manager) ReceiveMessages(flowID, agentID string) ([]collab.Message, error) {
	f, err := m.Flow(flowID)
	if err != nil {
		return nil, err
	}
	return f.Agents().Receive(agentID)
}

// ShareData stores a registry-wide key/value pair for a flow.
func (m *Manager) ShareData(flowID, key string, value any, ownerID string) error {
	f, err := m.Flow(flowID)
	if err != nil {
		return err
	}
	return f.Agents().ShareData(key, value, ownerID)
}

// SharedData returns a flow's shared entry for key.
func (m *Manager) SharedData(flowID, key string) (collab.SharedEntry, bool, error) {
	f, err := m.Flow(flowID)
	if err != nil {
		return collab.SharedEntry{}, false, err
	}
	entry, ok := f.Agents().SharedData(key)
	return entry, ok, nil
}

// WaitForCompletion blocks until a flow's active agent set drains, an agent
// errors, or the deadline passes.
func (m *Manager) WaitForCompletion(ctx context.Context, flowID string, timeout time.Duration) error {
	f, err := m.Flow(flowID)
	if err != nil {
		return err
	}
	return f.WaitForCompletion(ctx, timeout)
}

// ConnectTool connects a tool server on the shared bridge.
func (m *Manager) ConnectTool(ctx context.Context, serverID string, tc bridge.TransportConfig) ([]bridge.ToolDescriptor, error) {
	return m.bridge.Connect(ctx, serverID, tc)
}

// InvokeTool invokes a tool proxy on the shared bridge.
func (m *Manager) InvokeTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return m.bridge.Invoke(ctx, name, args)
}

// DisconnectTool closes one tool server session.
func (m *Manager) DisconnectTool(serverID string) error {
	return m.bridge.Disconnect(serverID)
}

// DisconnectAllTools closes every tool server session.
func (m *Manager) DisconnectAllTools() error {
	return m.bridge.DisconnectAll()
}

// Tools lists every registered tool proxy.
func (m *Manager) Tools() []bridge.ToolDescriptor {
	return m.bridge.Tools()
}

// Close tears down every flow and tool session.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.flows = make(map[string]*Flow)
	m.mu.Unlock()
	return m.bridge.DisconnectAll()
}
