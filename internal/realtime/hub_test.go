package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType, sessionID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, SessionID: sessionID}))
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestPublishReachesRoomMembers(t *testing.T) {
	hub, srv := testHub(t)
	conn := dial(t, srv)

	send(t, conn, MessageJoin, "s1")
	require.Eventually(t, func() bool { return hub.RoomSize("s1") == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Publish("s2", protocol.SinkEvent{SessionID: "s2", Type: "turn.started"})
	hub.Publish("s1", protocol.SinkEvent{
		SessionID: "s1",
		RunID:     "run-1",
		Stage:     protocol.StageTasks,
		Type:      protocol.EventTurnCompleted,
		Raw:       map[string]any{"type": "turn.completed"},
	})

	frame := readFrame(t, conn)
	assert.Equal(t, EventName, frame.Event)
	assert.Equal(t, "session:s1", frame.Room)

	data, err := json.Marshal(frame.Payload)
	require.NoError(t, err)
	var evt protocol.SinkEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, "run-1", evt.RunID)
	assert.Equal(t, protocol.StageTasks, evt.Stage)
	assert.Equal(t, protocol.EventTurnCompleted, evt.Type)
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub, srv := testHub(t)
	conn := dial(t, srv)

	send(t, conn, MessageJoin, "s1")
	require.Eventually(t, func() bool { return hub.RoomSize("s1") == 1 }, 5*time.Second, 10*time.Millisecond)

	send(t, conn, MessageLeave, "s1")
	require.Eventually(t, func() bool { return hub.RoomSize("s1") == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv := testHub(t)
	conn := dial(t, srv)

	send(t, conn, MessageJoin, "s1")
	require.Eventually(t, func() bool { return hub.RoomSize("s1") == 1 }, 5*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 && hub.RoomSize("s1") == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRunClosesClients(t *testing.T) {
	hub, srv := testHub(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestEnqueueNeverBlocks(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := newClient(nil, hub, "c1")

	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, c.enqueue([]byte("x")))
	}
	assert.ErrorIs(t, c.enqueue([]byte("x")), ErrClientSendBufferFull)

	c.Close()
	assert.ErrorIs(t, c.enqueue([]byte("x")), ErrClientClosed)
}

func TestNoopSink(t *testing.T) {
	var sink NoopSink
	sink.Publish("s1", protocol.SinkEvent{Type: "turn.started"})
}
