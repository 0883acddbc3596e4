package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/flowd/internal/collab"
	"github.com/fyrsmithlabs/flowd/internal/fault"
)

func TestManagerStartFlow(t *testing.T) {
	m := NewManager(ManagerConfig{})

	id := m.StartFlow()
	require.NotEmpty(t, id)

	f, err := m.Flow(id)
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, f.State())

	other := m.StartFlow()
	assert.NotEqual(t, id, other, "flow ids must be unique")
}

func TestManagerUnknownFlow(t *testing.T) {
	m := NewManager(ManagerConfig{})

	_, err := m.Advance("missing", EventStart)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	_, err = m.GetHistory("missing")
	assert.ErrorIs(t, err, ErrFlowNotFound)

	err = m.RegisterAgent("missing", "a1", "", nil)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestManagerAdvance(t *testing.T) {
	m := NewManager(ManagerConfig{})
	id := m.StartFlow()

	state, err := m.Advance(id, EventStart)
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)

	state, err = m.Advance(id, EventRun)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)

	state, err = m.Advance(id, EventComplete)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	history, err := m.GetHistory(id)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestManagerAdvanceUnknownEvent(t *testing.T) {
	m := NewManager(ManagerConfig{})
	id := m.StartFlow()

	_, err := m.Advance(id, Event("warp"))
	require.Error(t, err)

	var f *fault.Error
	require.ErrorAs(t, err, &f)
	assert.Equal(t, fault.KindInvalidInput, f.Kind)
	assert.Equal(t, "warp", f.Context["event"])
}

func TestManagerAdvanceSkippingReady(t *testing.T) {
	m := NewManager(ManagerConfig{})
	id := m.StartFlow()

	_, err := m.Advance(id, EventRun)

	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Error(), "ready")
}

func TestManagerAgentLifecycle(t *testing.T) {
	m := NewManager(ManagerConfig{})
	id := m.StartFlow()

	require.NoError(t, m.RegisterAgent(id, "worker-1", "Worker One", "handle-1"))
	require.NoError(t, m.UpdateAgentState(id, "worker-1", collab.LifecycleActive, "crunching", 0.5))
	require.NoError(t, m.RecordAgentResult(id, "worker-1", "42"))
	require.NoError(t, m.UpdateAgentState(id, "worker-1", collab.LifecycleCompleted, "", -1))

	err := m.WaitForCompletion(context.Background(), id, time.Second)
	assert.NoError(t, err)

	f, err := m.Flow(id)
	require.NoError(t, err)
	rec, err := f.Agents().Agent("worker-1")
	require.NoError(t, err)
	assert.Equal(t, "42", rec.Result)
	assert.Equal(t, 0.5, rec.Progress)
}

func TestManagerMessagingAndSharedData(t *testing.T) {
	m := NewManager(ManagerConfig{})
	id := m.StartFlow()

	require.NoError(t, m.RegisterAgent(id, "a", "", nil))
	require.NoError(t, m.RegisterAgent(id, "b", "", nil))

	require.NoError(t, m.SendMessage(id, "a", "b", "hello"))
	msgs, err := m.ReceiveMessages(id, "b")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Payload)

	require.NoError(t, m.ShareData(id, "plan", "v2", "a"))
	entry, ok, err := m.SharedData(id, "plan")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", entry.Value)
	assert.Equal(t, "a", entry.OwnerID)
}

func TestManagerRemoveFlowDropsAgents(t *testing.T) {
	m := NewManager(ManagerConfig{})
	id := m.StartFlow()
	require.NoError(t, m.RegisterAgent(id, "a", "", nil))

	require.NoError(t, m.RemoveFlow(id))

	err := m.RegisterAgent(id, "a", "", nil)
	assert.ErrorIs(t, err, ErrFlowNotFound)
	assert.ErrorIs(t, m.RemoveFlow(id), ErrFlowNotFound)
}

func TestManagerFlowsAreIsolated(t *testing.T) {
	m := NewManager(ManagerConfig{})
	first := m.StartFlow()
	second := m.StartFlow()

	require.NoError(t, m.RegisterAgent(first, "a", "", nil))

	// The same agent id registers independently in another flow.
	require.NoError(t, m.RegisterAgent(second, "a", "", nil))
	require.NoError(t, m.RecordAgentError(first, "a", "boom"))

	f, err := m.Flow(second)
	require.NoError(t, err)
	rec, err := f.Agents().Agent("a")
	require.NoError(t, err)
	assert.Equal(t, collab.LifecycleIdle, rec.Lifecycle, "sibling flow state must be untouched")
}
