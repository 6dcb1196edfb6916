package tracker

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/steveyegge/remit/internal/tracker/notify"
)

// WatcherConfig holds configuration for a DirectoryWatcher.
type WatcherConfig struct {
	// PollInterval is how long the loop sleeps between completion checks.
	PollInterval time.Duration

	// BufferSize is the size of the notification receive buffer in bytes.
	BufferSize int

	// Ignore lists doublestar patterns, matched against the slash-separated
	// path relative to the tracked root. Matching records are dropped.
	Ignore []string

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultWatcherConfig returns the reference interval and buffer size.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		PollInterval: time.Second,
		BufferSize:   2048,
		Logger:       log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

func withWatcherDefaults(config *WatcherConfig) *WatcherConfig {
	def := DefaultWatcherConfig()
	if config == nil {
		return def
	}

	c := *config
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	return &c
}

// DirectoryWatcher polls a notify.Handle for one directory tree and pushes
// the decoded records into a queue as ChangeEvents.
type DirectoryWatcher struct {
	backend notify.Backend
	queue   *EventQueue
	config  *WatcherConfig
	control *ThreadControl

	mu         sync.Mutex
	root       string
	remoteRoot string
	done       chan struct{} // nil until the first StartTracking

	// errMu is separate from mu: StartTracking holds mu while it waits for
	// a stopping loop, and that loop may still be recording its error.
	errMu sync.Mutex
	err   error
}

// NewDirectoryWatcher creates a watcher feeding queue. It validates the
// ignore patterns up front.
func NewDirectoryWatcher(backend notify.Backend, queue *EventQueue, config *WatcherConfig) (*DirectoryWatcher, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	config = withWatcherDefaults(config)

	for _, pattern := range config.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	return &DirectoryWatcher{
		backend: backend,
		queue:   queue,
		config:  config,
		control: NewThreadControl(StatePause),
	}, nil
}

// StartTracking creates root if needed, opens a watch handle on it and
// spawns the poll loop. Events carry remote paths under remoteRoot.
//
// Failure to create the directory or open the handle is returned as a
// setup error and no loop is started. While a previous loop is running and
// has not been told to stop, ErrAlreadyTracking is returned. If it has been
// told to stop but has not yet exited, StartTracking waits for it.
func (w *DirectoryWatcher) StartTracking(root, remoteRoot string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A killed loop may take up to one poll interval to exit. Wait for it
	// without holding mu so Active, Root and Done stay responsive.
	for w.done != nil {
		done := w.done
		select {
		case <-done:
		default:
			if w.control.Get() != StateKill {
				return ErrAlreadyTracking
			}
			w.mu.Unlock()
			<-done
			w.mu.Lock()
			continue
		}
		break
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%w: failed to resolve %s: %w", ErrSetup, root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %w", ErrSetup, abs, err)
	}

	h, err := w.backend.Open(abs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}

	w.root = abs
	w.remoteRoot = remoteRoot
	w.setErr(nil)
	w.done = make(chan struct{})
	w.control.Set(StateResume)

	w.config.Logger.Printf("Watching %s (%s backend)", abs, w.backend.Name())
	go w.run(h, abs, remoteRoot, w.done)
	return nil
}

// StopTracking tells the loop to exit. It does not wait; the loop notices
// on its next iteration and releases the handle. See Done.
func (w *DirectoryWatcher) StopTracking() {
	w.control.Set(StateKill)
}

// Active reports whether a loop is running and has not been told to stop.
func (w *DirectoryWatcher) Active() bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return w.control.Get() != StateKill
	}
}

// Done is closed when the current loop exits. Before the first
// StartTracking it returns a closed channel.
func (w *DirectoryWatcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.done
}

// Err returns the streaming error that ended the most recent loop, or nil.
func (w *DirectoryWatcher) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()

	return w.err
}

func (w *DirectoryWatcher) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()

	w.err = err
}

// Root returns the tracked directory and its remote counterpart.
func (w *DirectoryWatcher) Root() (local, remote string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.root, w.remoteRoot
}

// Control returns the watcher's ThreadControl.
func (w *DirectoryWatcher) Control() *ThreadControl {
	return w.control
}

// run is the poll loop. It owns h and closes it on exit.
func (w *DirectoryWatcher) run(h notify.Handle, root, remoteRoot string, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := h.Close(); err != nil {
			w.config.Logger.Printf("Error closing watch handle: %v", err)
		}
		w.config.Logger.Printf("Stopped watching %s", root)
	}()

	buf := make([]byte, w.config.BufferSize)
	outstanding := false

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for range ticker.C {
		switch w.control.Get() {
		case StateKill:
			return
		case StatePause:
			continue
		}

		if !outstanding {
			clear(buf)
			if err := h.Request(buf); err != nil {
				w.config.Logger.Printf("Failed to request changes, retrying: %v", err)
				continue
			}
			outstanding = true
		}

		n, err := h.Poll()
		if errors.Is(err, notify.ErrPending) {
			continue
		}
		if err != nil {
			w.fail(err)
			return
		}
		outstanding = false

		records, err := h.Decode(buf[:n])
		w.enqueue(records, root, remoteRoot)
		if err != nil {
			w.fail(err)
			return
		}
	}
}

func (w *DirectoryWatcher) fail(err error) {
	w.config.Logger.Printf("Watch stream failed: %v", err)
	w.setErr(fmt.Errorf("%w: %w", ErrStreaming, err))
}

// enqueue converts records into events, in decode order, and pushes them.
func (w *DirectoryWatcher) enqueue(records []notify.Record, root, remoteRoot string) {
	events := make([]ChangeEvent, 0, len(records))
	for _, rec := range records {
		rel := filepath.ToSlash(rec.Name)
		if w.ignored(rel) {
			continue
		}
		events = append(events, ChangeEvent{
			Action:     rec.Action,
			LocalPath:  filepath.Join(root, rec.Name),
			RemotePath: path.Join(remoteRoot, rel),
		})
	}
	if len(events) > 0 {
		w.queue.Push(events...)
	}
}

func (w *DirectoryWatcher) ignored(rel string) bool {
	for _, pattern := range w.config.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
