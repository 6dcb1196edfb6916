package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/remit/internal/tracker"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(&Config{
		Host:   "127.0.0.1",
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

// TestServer_Broadcast tests that every client receives a broadcast
func TestServer_Broadcast(t *testing.T) {
	s := startTestServer(t)

	a := dial(t, s)
	b := dial(t, s)
	waitClients(t, s, 2)

	s.Broadcast(Message{Type: MessageTypeUploaded, Data: json.RawMessage(`{"local_path":"/m/a.txt"}`)})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeUploaded, msg.Type)
		assert.False(t, msg.Timestamp.IsZero())
		assert.JSONEq(t, `{"local_path":"/m/a.txt"}`, string(msg.Data))
	}
}

// TestServer_Health tests the health endpoint
func TestServer_Health(t *testing.T) {
	s := startTestServer(t)
	dial(t, s)
	waitClients(t, s, 1)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Clients)
}

// TestServer_ClientDisconnect tests that closed clients are removed
func TestServer_ClientDisconnect(t *testing.T) {
	s := startTestServer(t)

	conn := dial(t, s)
	waitClients(t, s, 1)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	waitClients(t, s, 0)
}

// TestHandler_Messages tests the messages produced from tracker activity
func TestHandler_Messages(t *testing.T) {
	s := startTestServer(t)
	h := NewHandler(s, log.New(io.Discard, "", 0))

	conn := dial(t, s)
	snapshot := readMessage(t, conn)
	assert.Equal(t, MessageTypeStats, snapshot.Type)
	waitClients(t, s, 1)

	ev := tracker.ChangeEvent{Action: tracker.ActionModified, LocalPath: "/m/a.txt", RemotePath: "/srv/a.txt"}

	h.OnTrackingStarted("/m", "/srv")
	h.OnResult(tracker.DispatchResult{Event: ev, Outcome: tracker.OutcomeDispatched, Duration: 20 * time.Millisecond})
	h.OnResult(tracker.DispatchResult{Event: ev, Outcome: tracker.OutcomeFailed, Err: errors.New("exit status 3")})
	h.OnResult(tracker.DispatchResult{Event: ev, Outcome: tracker.OutcomeSkipped, Reason: "missing"})
	h.OnTrackingStopped("/m", errors.New("watch removed"))

	want := []MessageType{
		MessageTypeTrackingStarted,
		MessageTypeUploaded,
		MessageTypeUploadFailed,
		MessageTypeSkipped,
		MessageTypeTrackingStopped,
	}
	var got []Message
	for range want {
		got = append(got, readMessage(t, conn))
	}
	for i, typ := range want {
		assert.Equal(t, typ, got[i].Type, "message %d", i)
	}

	var failed ResultData
	require.NoError(t, json.Unmarshal(got[2].Data, &failed))
	assert.Equal(t, "modified", failed.Action)
	assert.Equal(t, "exit status 3", failed.Error)

	var stopped TrackingData
	require.NoError(t, json.Unmarshal(got[4].Data, &stopped))
	assert.Equal(t, "watch removed", stopped.Error)

	stats := h.Stats()
	assert.False(t, stats.Tracking)
	assert.Equal(t, "/m", stats.Root)
	assert.Equal(t, 1, stats.Uploaded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Skipped)
}
