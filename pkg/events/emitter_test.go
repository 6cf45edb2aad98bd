package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
	"github.com/mykim19/debug-dashboard-core/pkg/storage"
)

func newTestEmitter(t *testing.T) (*Emitter, *agent.Memory, *storage.Store) {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	memory := agent.NewMemory("ws1", 0)
	return NewEmitter("ws1", memory, store), memory, store
}

func TestEmit_MemoryStoreAndClients(t *testing.T) {
	emitter, memory, store := newTestEmitter(t)
	client := emitter.Register()
	defer emitter.Unregister(client)

	ev := agent.NewEvent(agent.EventScanRequested, "user", "ws1", agent.ScanRequestedData{})
	emitter.Emit(ev)

	// Memory received it.
	recent := memory.RecentEvents(10)
	require.Len(t, recent, 1)
	assert.Equal(t, agent.EventScanRequested, recent[0].Type)

	// Exactly one durable row.
	rows, err := store.GetEvents(context.Background(), "ws1", 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "scan_requested", rows[0].EventType)
	assert.Equal(t, "ws1", rows[0].WorkspaceID)

	// At most one copy per client queue.
	frame := <-client.Frames()
	assert.Positive(t, frame.ID)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(frame.Payload, &wire))
	assert.Equal(t, "scan_requested", wire["type"])
	assert.Equal(t, "ws1", wire["workspace_id"])
	select {
	case <-client.Frames():
		t.Fatal("client received a second copy")
	default:
	}
}

func TestEmit_FrameIDsStrictlyMonotonic(t *testing.T) {
	emitter, _, _ := newTestEmitter(t)
	client := emitter.Register()
	defer emitter.Unregister(client)

	for i := 0; i < 5; i++ {
		emitter.Emit(agent.NewEvent(agent.EventFileChanged, "watcher", "ws1", agent.FileChangedData{}))
	}

	var last int64
	for i := 0; i < 5; i++ {
		frame := <-client.Frames()
		assert.Greater(t, frame.ID, last)
		last = frame.ID
	}
}

func TestEmit_DropsSlowClient(t *testing.T) {
	emitter, _, _ := newTestEmitter(t)
	slow := emitter.Register()
	assert.Equal(t, 1, emitter.ClientCount())

	// Overflow the bounded queue without draining it.
	for i := 0; i < clientQueueCapacity+1; i++ {
		emitter.Emit(agent.NewEvent(agent.EventFileChanged, "watcher", "ws1", agent.FileChangedData{}))
	}

	assert.Equal(t, 0, emitter.ClientCount(), "slow client must be dropped")
	// Channel is closed after the buffered frames drain.
	n := 0
	for range slow.Frames() {
		n++
	}
	assert.Equal(t, clientQueueCapacity, n)

	// Unregistering a dropped client is safe.
	emitter.Unregister(slow)
}

func TestRegisterUnregister(t *testing.T) {
	emitter, _, _ := newTestEmitter(t)
	a := emitter.Register()
	b := emitter.Register()
	assert.Equal(t, 2, emitter.ClientCount())

	emitter.Unregister(a)
	assert.Equal(t, 1, emitter.ClientCount())
	emitter.Unregister(b)
	assert.Equal(t, 0, emitter.ClientCount())
}
