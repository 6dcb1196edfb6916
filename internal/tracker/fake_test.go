package tracker

import (
	"context"
	"io"
	"io/fs"
	"log"
	"sync"
	"time"

	"github.com/steveyegge/remit/internal/tracker/notify"
)

// fakeBackend hands out fakeHandles and remembers them.
type fakeBackend struct {
	mu      sync.Mutex
	openErr error
	handles []*fakeHandle
	prepare func(h *fakeHandle)
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(path string) (notify.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openErr != nil {
		return nil, b.openErr
	}
	h := &fakeHandle{path: path}
	if b.prepare != nil {
		b.prepare(h)
	}
	b.handles = append(b.handles, h)
	return h, nil
}

func (b *fakeBackend) handle(i int) *fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i >= len(b.handles) {
		return nil
	}
	return b.handles[i]
}

func (b *fakeBackend) opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.handles)
}

// fakeHandle delivers queued record batches through the canonical buffer
// format, one batch per completed request.
type fakeHandle struct {
	path string

	mu          sync.Mutex
	batches     [][]notify.Record
	requestErrs []error
	pollErr     error
	decodeErr   error
	requests    int
	closed      bool
	buf         []byte
}

func (h *fakeHandle) emit(records ...notify.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.batches = append(h.batches, records)
}

func (h *fakeHandle) failPoll(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pollErr = err
}

func (h *fakeHandle) Request(buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requests++
	if len(h.requestErrs) > 0 {
		err := h.requestErrs[0]
		h.requestErrs = h.requestErrs[1:]
		return err
	}
	h.buf = buf
	return nil
}

func (h *fakeHandle) Poll() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pollErr != nil {
		return 0, h.pollErr
	}
	if h.buf == nil {
		return 0, notify.ErrNoRequest
	}
	if len(h.batches) == 0 {
		return 0, notify.ErrPending
	}

	n, _ := notify.EncodeNotifyInformation(h.buf, h.batches[0])
	h.batches = h.batches[1:]
	h.buf = nil
	return n, nil
}

func (h *fakeHandle) Decode(buf []byte) ([]notify.Record, error) {
	records, err := notify.DecodeNotifyInformation(buf)
	if err != nil {
		return records, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return records, h.decodeErr
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.closed
}

func (h *fakeHandle) requestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.requests
}

// recordingDispatcher records every dispatched event and fails for paths
// listed in failOn.
type recordingDispatcher struct {
	mu     sync.Mutex
	calls  []ChangeEvent
	failOn map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev ChangeEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, ev)
	return d.failOn[ev.LocalPath]
}

func (d *recordingDispatcher) Calls() []ChangeEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]ChangeEvent(nil), d.calls...)
}

// fileInfo is a minimal fs.FileInfo for stubbing Stat.
type fileInfo struct {
	name string
	dir  bool
}

func (f fileInfo) Name() string       { return f.name }
func (f fileInfo) Size() int64        { return 0 }
func (f fileInfo) Mode() fs.FileMode  { return 0o644 }
func (f fileInfo) ModTime() time.Time { return time.Time{} }
func (f fileInfo) IsDir() bool        { return f.dir }
func (f fileInfo) Sys() any           { return nil }

// statAllFiles reports every path as an existing regular file.
func statAllFiles(name string) (fs.FileInfo, error) {
	return fileInfo{name: name}, nil
}

// testConsumerConfig returns a fast consumer config that treats every path
// as a regular file.
func testConsumerConfig() *ConsumerConfig {
	cfg := DefaultConsumerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Stat = statAllFiles
	cfg.Logger = discardLogger("consumer")
	return cfg
}

func testWatcherConfig() *WatcherConfig {
	cfg := DefaultWatcherConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Logger = discardLogger("watcher")
	return cfg
}

func discardLogger(prefix string) *log.Logger {
	return log.New(io.Discard, "["+prefix+"] ", log.LstdFlags)
}
