package conversation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/putto11262002/arena/core"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseTimeout = 2 * time.Second

func newTestTransport(t *testing.T, url string) *Transport {
	tr, err := NewTransport(url,
		WithTransportLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithReconnectBackoff(func() retry.Backoff {
			return retry.NewConstant(10 * time.Millisecond)
		}),
	)
	require.NoError(t, err)
	return tr
}

func TestTransport_ConnectAndDispatch(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	tr := newTestTransport(t, server.streamURL())
	defer tr.Close()

	var mu sync.Mutex
	var joined []core.Joined
	tr.On(core.EventJoined, func(ev core.ServerEvent) {
		mu.Lock()
		defer mu.Unlock()
		joined = append(joined, ev.(core.Joined))
	})

	// emitted before the connection exists, flushed once connected
	require.NoError(t, tr.Emit(core.RoomJoin{User: core.Participant{UID: "alice"}, RoomID: "r1"}))
	require.NoError(t, tr.Open(context.Background()))
	assert.ErrorIs(t, tr.Open(context.Background()), ErrAlreadyOpen)

	require.Eventually(t, tr.Connected, baseTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joined) == 1
	}, baseTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"alice"}, joined[0].Users)
}

func TestTransport_JoinOnConnectGoesAheadOfQueuedEvents(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	tr := newTestTransport(t, server.streamURL())
	defer tr.Close()

	user := core.Participant{UID: "alice", RoomID: "r1"}
	tr.OnConnect(func() {
		require.NoError(t, tr.Emit(core.RoomJoin{User: user, RoomID: "r1"}))
	})

	// queued while disconnected
	require.NoError(t, tr.Emit(core.MessageSend{Content: "first", User: user, TopicIndex: -1}))
	require.NoError(t, tr.Emit(core.MessageTyping{User: user, TopicIndex: -1}))
	require.NoError(t, tr.Emit(core.MessageSend{Content: "second", User: user, TopicIndex: -1}))
	require.NoError(t, tr.Open(context.Background()))

	require.Eventually(t, func() bool { return len(server.receivedTypes()) == 4 }, baseTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{
		core.EventRoomJoin, core.EventMessageSend, core.EventMessageTyping, core.EventMessageSend,
	}, server.receivedTypes())

	// once drained, events are written directly
	require.NoError(t, tr.Emit(core.MessageSend{Content: "third", User: user, TopicIndex: -1}))
	require.Eventually(t, func() bool { return len(server.receivedTypes()) == 5 }, baseTimeout, 5*time.Millisecond)
}

func TestTransport_Reconnects(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	tr := newTestTransport(t, server.streamURL())
	defer tr.Close()

	var mu sync.Mutex
	connects, disconnects := 0, 0
	tr.OnConnect(func() {
		mu.Lock()
		defer mu.Unlock()
		connects++
	})
	tr.OnDisconnect(func() {
		mu.Lock()
		defer mu.Unlock()
		disconnects++
	})

	require.NoError(t, tr.Open(context.Background()))
	require.Eventually(t, tr.Connected, baseTimeout, 5*time.Millisecond)

	server.dropConnections()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2 && disconnects == 1
	}, baseTimeout, 5*time.Millisecond)
	assert.True(t, tr.Connected())
}

func TestTransport_CloseDetachesListeners(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	tr := newTestTransport(t, server.streamURL())

	var mu sync.Mutex
	calls := 0
	off := tr.On(core.EventGreeting, func(core.ServerEvent) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})
	require.NoError(t, tr.Open(context.Background()))
	require.Eventually(t, tr.Connected, baseTimeout, 5*time.Millisecond)

	require.NoError(t, tr.Emit(core.RoomJoin{User: core.Participant{UID: "alice"}, RoomID: "r1"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, baseTimeout, 5*time.Millisecond)

	off()
	require.NoError(t, tr.Emit(core.RoomJoin{User: core.Participant{UID: "alice"}, RoomID: "r1"}))
	require.Eventually(t, func() bool { return server.receivedOf(core.EventRoomJoin) == 2 }, baseTimeout, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	assert.False(t, tr.Connected())
	assert.ErrorIs(t, tr.Emit(core.RoomJoin{}), ErrTransportClosed)
	assert.ErrorIs(t, tr.Open(context.Background()), ErrTransportClosed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestTransport_CloseWhileDialing(t *testing.T) {
	tr := newTestTransport(t, "ws://127.0.0.1:1/ws")
	require.NoError(t, tr.Open(context.Background()))
	time.Sleep(30 * time.Millisecond)
	waitDone := make(chan struct{})
	go func() {
		tr.Close()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(baseTimeout):
		t.Fatal("timeout waiting for transport to close")
	}
}
