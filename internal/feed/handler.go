package feed

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/remit/internal/tracker"
)

// TrackingData describes a tracking session
type TrackingData struct {
	LocalRoot  string `json:"local_root"`
	RemoteRoot string `json:"remote_root,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ResultData describes what happened to one change event
type ResultData struct {
	Action     string `json:"action"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// StatsData holds running counters for the current process
type StatsData struct {
	Tracking bool   `json:"tracking"`
	Root     string `json:"root,omitempty"`
	Uploaded int    `json:"uploaded"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
}

// Handler turns tracker activity into feed messages.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a handler broadcasting through server and registers
// its stats as the server's new-client snapshot.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}

	h := &Handler{server: server, logger: logger}
	server.SetSnapshot(h.statsMessage)
	return h
}

// OnTrackingStarted announces a new tracking session.
func (h *Handler) OnTrackingStarted(localRoot, remoteRoot string) {
	h.mu.Lock()
	h.stats.Tracking = true
	h.stats.Root = localRoot
	h.mu.Unlock()

	h.send(MessageTypeTrackingStarted, TrackingData{LocalRoot: localRoot, RemoteRoot: remoteRoot})
}

// OnTrackingStopped announces the end of a session. err is the streaming
// error that ended it, if any.
func (h *Handler) OnTrackingStopped(localRoot string, err error) {
	h.mu.Lock()
	h.stats.Tracking = false
	h.mu.Unlock()

	data := TrackingData{LocalRoot: localRoot}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypeTrackingStopped, data)
}

// OnResult broadcasts one consumer outcome and updates the counters.
func (h *Handler) OnResult(res tracker.DispatchResult) {
	data := ResultData{
		Action:     res.Event.Action.String(),
		LocalPath:  res.Event.LocalPath,
		RemotePath: res.Event.RemotePath,
		Reason:     res.Reason,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		data.Error = res.Err.Error()
	}

	var typ MessageType
	h.mu.Lock()
	switch res.Outcome {
	case tracker.OutcomeDispatched:
		typ = MessageTypeUploaded
		h.stats.Uploaded++
	case tracker.OutcomeFailed:
		typ = MessageTypeUploadFailed
		h.stats.Failed++
	default:
		typ = MessageTypeSkipped
		h.stats.Skipped++
	}
	h.mu.Unlock()

	h.send(typ, data)
}

// Hook returns OnResult as a tracker.ResultHook.
func (h *Handler) Hook() tracker.ResultHook {
	return h.OnResult
}

// Stats returns a copy of the counters.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsMessage() Message {
	data, _ := json.Marshal(h.Stats())
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

func (h *Handler) send(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: raw})
}
