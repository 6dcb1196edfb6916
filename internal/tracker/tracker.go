package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/remit/internal/syspath"
	"github.com/steveyegge/remit/internal/tracker/notify"
)

var (
	// ErrAlreadyTracking is returned by StartTracking while a watcher loop
	// is still active.
	ErrAlreadyTracking = errors.New("tracker: already tracking")

	// ErrSetup wraps failures to create the tracked directory or to open
	// its watch handle. No loop is running after a setup error.
	ErrSetup = errors.New("tracker: setup failed")

	// ErrStreaming wraps the failure that ended a running watcher loop.
	ErrStreaming = errors.New("tracker: watch stream failed")

	// ErrClosed is returned by StartTracking after Close.
	ErrClosed = errors.New("tracker: closed")
)

// IsSetupError reports whether err is a setup failure from StartTracking.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrSetup)
}

// IsStreamingError reports whether err ended a watcher loop.
func IsStreamingError(err error) bool {
	return errors.Is(err, ErrStreaming)
}

// Config holds configuration for a DirectoryTracker.
type Config struct {
	// Mapping translates the tracked local directory to its remote root.
	Mapping syspath.Mapping

	// Watcher configures the watcher loop. Nil uses DefaultWatcherConfig.
	Watcher *WatcherConfig

	// Consumer configures the consumer loop. Nil uses DefaultConsumerConfig.
	Consumer *ConsumerConfig

	// Logger for tracker lifecycle messages
	Logger *log.Logger
}

// DefaultConfig returns a config with default loops. With a zero Mapping
// the tracked directory itself maps to the remote root "/".
func DefaultConfig() *Config {
	return &Config{
		Watcher:  DefaultWatcherConfig(),
		Consumer: DefaultConsumerConfig(),
		Logger:   log.New(os.Stderr, "[tracker] ", log.LstdFlags),
	}
}

// DirectoryTracker pairs one DirectoryWatcher with one EventConsumer over a
// shared queue. The consumer goroutine lives as long as the tracker and is
// paused between tracking sessions; each StartTracking spawns a new
// watcher loop.
type DirectoryTracker struct {
	config   *Config
	consumer *EventConsumer
	watcher  *DirectoryWatcher

	mu     sync.Mutex
	closed bool
}

// New creates a tracker whose consumer hands events to dispatcher and
// whose watcher uses backend. The consumer loop starts paused.
func New(dispatcher Dispatcher, backend notify.Backend, config *Config) (*DirectoryTracker, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	consumer := NewEventConsumer(dispatcher, config.Consumer)
	watcher, err := NewDirectoryWatcher(backend, consumer.Queue(), config.Watcher)
	if err != nil {
		consumer.End()
		return nil, err
	}

	return &DirectoryTracker{
		config:   config,
		consumer: consumer,
		watcher:  watcher,
	}, nil
}

// StartTracking begins watching path, which must lie under the mapping's
// local root, and resumes the consumer.
func (t *DirectoryTracker) StartTracking(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: failed to resolve %s: %w", ErrSetup, path, err)
	}

	mapping := t.config.Mapping
	if mapping.LocalRoot == "" {
		mapping.LocalRoot = abs
	}
	remote, err := mapping.ToRemote(abs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}

	if err := t.watcher.StartTracking(abs, remote); err != nil {
		return err
	}
	t.consumer.Start()

	t.config.Logger.Printf("Tracking %s -> %s", abs, remote)
	return nil
}

// StopTracking kills the watcher loop, pauses the consumer and discards
// any events that were queued but not yet dispatched.
func (t *DirectoryTracker) StopTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
}

func (t *DirectoryTracker) stopLocked() {
	t.watcher.StopTracking()
	t.consumer.Pause()
	if n := t.consumer.Clear(); n > 0 {
		t.config.Logger.Printf("Discarded %d pending events", n)
	}
}

// Close stops tracking, ends the consumer loop and waits for both loops to
// exit. The tracker cannot be restarted afterwards.
func (t *DirectoryTracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.stopLocked()
	t.consumer.End()
	t.mu.Unlock()

	<-t.watcher.Done()
	<-t.consumer.Done()
	return nil
}

// Drain waits until every queued event has been dispatched. It returns
// ctx's error if ctx ends first, and nil as soon as the consumer is paused
// or ended, since nothing more would be dispatched.
func (t *DirectoryTracker) Drain(ctx context.Context) error {
	ticker := time.NewTicker(t.consumer.config.PollInterval)
	defer ticker.Stop()

	for {
		if t.consumer.State() != StateResume || t.consumer.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.consumer.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tracking reports whether a watcher loop is active.
func (t *DirectoryTracker) Tracking() bool {
	return t.watcher.Active()
}

// Err returns the streaming error that ended the last watcher loop, if any.
func (t *DirectoryTracker) Err() error {
	return t.watcher.Err()
}

// Consumer returns the tracker's consumer.
func (t *DirectoryTracker) Consumer() *EventConsumer {
	return t.consumer
}

// Watcher returns the tracker's watcher.
func (t *DirectoryTracker) Watcher() *DirectoryWatcher {
	return t.watcher
}
