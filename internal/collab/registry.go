// Package collab tracks a set of named agents, their lifecycle state,
// pending messages, and shared key/value data for one flow.
//
// The registry is the only writer of its maps; callers go through its
// operations. WaitForCompletion is a barrier with first-error-wins semantics
// and a hard deadline.
package collab

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lifecycle is an agent's lifecycle state.
type Lifecycle string

const (
	LifecycleIdle      Lifecycle = "idle"
	LifecycleActive    Lifecycle = "active"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleError     Lifecycle = "error"
)

// Errors for registry operations.
var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentConflict = errors.New("agent already registered with a different handle")
)

// AgentFailedError reports that an agent entered the error state while a
// caller was waiting for completion.
type AgentFailedError struct {
	AgentID string
	Reason  string
}

func (e *AgentFailedError) Error() string {
	return fmt.Sprintf("agent %s failed: %s", e.AgentID, e.Reason)
}

// WaitTimeoutError reports that the completion deadline elapsed while agents
// were still active.
type WaitTimeoutError struct {
	Active []string
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("wait for completion timed out, still active: %s", strings.Join(e.Active, ", "))
}

// AgentRecord tracks one registered agent. Records are created on
// registration, mutated only through registry operations, and removed only
// on flow teardown.
type AgentRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Lifecycle  Lifecycle `json:"lifecycle"`
	Task       string    `json:"task,omitempty"`
	Progress   float64   `json:"progress"`
	Result     any       `json:"result,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Registered time.Time `json:"registered"`
	Updated    time.Time `json:"updated"`
}

// Message is a payload in transit between two agents. Delivery order per
// recipient is FIFO relative to a given sender.
type Message struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// SharedEntry is one registry-wide key/value pair, last-writer-wins.
type SharedEntry struct {
	Key     string    `json:"key"`
	Value   any       `json:"value"`
	OwnerID string    `json:"owner_id"`
	Updated time.Time `json:"updated"`
}

// RegistryConfig configures a registry.
type RegistryConfig struct {
	// Logger for structured logging.
	Logger *zap.Logger
}

// Registry coordinates a set of agents. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	logger  *zap.Logger
	agents  map[string]*AgentRecord
	handles map[string]any
	active  map[string]struct{}
	inboxes map[string][]Message
	shared  map[string]SharedEntry

	// changed is closed and replaced on every lifecycle mutation so waiters
	// can re-check without polling.
	changed chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		logger:  cfg.Logger,
		agents:  make(map[string]*AgentRecord),
		handles: make(map[string]any),
		active:  make(map[string]struct{}),
		inboxes: make(map[string][]Message),
		shared:  make(map[string]SharedEntry),
		changed: make(chan struct{}),
	}
}

// Register creates an agent record in the idle state. Registering the same
// id again with an equal handle is a no-op; a different handle is rejected
// and the existing record is left untouched.
func (r *Registry) Register(id, name string, handle any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[id]; ok {
		if reflect.DeepEqual(existing, handle) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAgentConflict, id)
	}

	now := time.Now()
	r.agents[id] = &AgentRecord{
		ID:         id,
		Name:       name,
		Lifecycle:  LifecycleIdle,
		Registered: now,
		Updated:    now,
	}
	r.handles[id] = handle
	r.logger.Debug("agent registered", zap.String("agent_id", id), zap.String("name", name))
	r.notifyLocked()
	return nil
}

// UpdateState sets an agent's lifecycle state. Active inserts the agent into
// the active set; idle, completed and error remove it. An empty task leaves
// the task unchanged; a negative progress leaves progress unchanged,
// otherwise it is clamped to [0, 1]. An unknown agent id fails without
// touching any other agent's state.
func (r *Registry) UpdateState(id string, state Lifecycle, task string, progress float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	rec.Lifecycle = state
	if task != "" {
		rec.Task = task
	}
	if progress >= 0 {
		rec.Progress = min(progress, 1)
	}
	rec.Updated = time.Now()

	if state == LifecycleActive {
		r.active[id] = struct{}{}
	} else {
		delete(r.active, id)
	}
	r.notifyLocked()
	return nil
}

// RecordResult stores an agent's last result payload.
func (r *Registry) RecordResult(id string, result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	rec.Result = result
	rec.Updated = time.Now()
	return nil
}

// RecordError stores an agent's error, forces its lifecycle to error, and
// evicts it from the active set.
func (r *Registry) RecordError(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	rec.LastError = message
	rec.Lifecycle = LifecycleError
	rec.Updated = time.Now()
	delete(r.active, id)
	r.logger.Warn("agent error recorded", zap.String("agent_id", id), zap.String("error", message))
	r.notifyLocked()
	return nil
}

// Send appends a message to the recipient's inbox. Both agents must be
// registered.
func (r *Registry) Send(from, to string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[from]; !ok {
		return fmt.Errorf("%w: sender %s", ErrAgentNotFound, from)
	}
	if _, ok := r.agents[to]; !ok {
		return fmt.Errorf("%w: recipient %s", ErrAgentNotFound, to)
	}
	r.inboxes[to] = append(r.inboxes[to], Message{
		From:    from,
		To:      to,
		Payload: payload,
		SentAt:  time.Now(),
	})
	return nil
}

// Receive drains and returns all messages currently queued for the agent.
// It never blocks; an empty inbox yields an empty slice.
func (r *Registry) Receive(id string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	msgs := r.inboxes[id]
	r.inboxes[id] = nil
	return msgs, nil
}

// ShareData stores a registry-wide key/value pair, last-writer-wins.
func (r *Registry) ShareData(key string, value any, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[ownerID]; !ok {
		return fmt.Errorf("%w: owner %s", ErrAgentNotFound, ownerID)
	}
	r.shared[key] = SharedEntry{
		Key:     key,
		Value:   value,
		OwnerID: ownerID,
		Updated: time.Now(),
	}
	return nil
}

// SharedData returns the entry stored under key.
func (r *Registry) SharedData(key string) (SharedEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.shared[key]
	return entry, ok
}

// Agent returns a copy of one agent's record.
func (r *Registry) Agent(id string) (AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	if !ok {
		return AgentRecord{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return *rec, nil
}

// Agents returns copies of all agent records, ordered by id.
func (r *Registry) Agents() []AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveIDs returns the ids of all agents currently in the active set,
// sorted. The set is denormalized but always equals the filter of records
// whose lifecycle is active.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeIDsLocked()
}

func (r *Registry) activeIDsLocked() []string {
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WaitForCompletion blocks until the active set is empty. If any agent's
// lifecycle is error at any point during the wait, it fails immediately with
// that agent's id and last error; the first error wins. If timeout elapses
// first it fails listing all still-active ids, leaving every record exactly
// as it was. A timeout of zero or less waits without a deadline; context
// cancellation applies either way.
func (r *Registry) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		r.mu.Lock()
		if failed := r.firstErrorLocked(); failed != nil {
			r.mu.Unlock()
			return failed
		}
		if len(r.active) == 0 {
			r.mu.Unlock()
			return nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			r.mu.Lock()
			active := r.activeIDsLocked()
			r.mu.Unlock()
			return &WaitTimeoutError{Active: active}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// firstErrorLocked returns the failure for the first errored agent by id
// order, or nil when no agent is in the error state.
func (r *Registry) firstErrorLocked() error {
	var failed *AgentRecord
	for _, rec := range r.agents {
		if rec.Lifecycle != LifecycleError {
			continue
		}
		if failed == nil || rec.ID < failed.ID {
			failed = rec
		}
	}
	if failed == nil {
		return nil
	}
	return &AgentFailedError{AgentID: failed.ID, Reason: failed.LastError}
}

// notifyLocked wakes all waiters. Must be called with the mutex held.
func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
