package tracker

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"
)

// Dispatcher performs the synchronization action for one event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev ChangeEvent) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, ev ChangeEvent) error

// Dispatch calls f(ctx, ev).
func (f DispatchFunc) Dispatch(ctx context.Context, ev ChangeEvent) error {
	return f(ctx, ev)
}

// Outcome classifies what the consumer did with an event.
type Outcome int

const (
	// OutcomeDispatched means the dispatcher ran and succeeded.
	OutcomeDispatched Outcome = iota
	// OutcomeFailed means the dispatcher ran and returned an error.
	OutcomeFailed
	// OutcomeSkipped means the event was filtered before dispatch.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// DispatchResult reports the handling of one drained event.
type DispatchResult struct {
	Event    ChangeEvent
	Outcome  Outcome
	Reason   string // why a skipped event was skipped
	Err      error
	Started  time.Time
	Duration time.Duration
}

// ResultHook receives every DispatchResult. It runs on the consumer
// goroutine and should return quickly.
type ResultHook func(DispatchResult)

// ConsumerConfig holds configuration for an EventConsumer.
type ConsumerConfig struct {
	// BatchSize is the most events dispatched per iteration.
	BatchSize int

	// PollInterval is how long the loop sleeps between iterations.
	PollInterval time.Duration

	// Order is the drain order of the consumer's queue.
	Order Order

	// OnResult, if set, is called for every drained event.
	OnResult ResultHook

	// Stat inspects the local file before dispatch. Defaults to os.Stat.
	Stat func(name string) (fs.FileInfo, error)

	// Logger for consumer activity
	Logger *log.Logger
}

// DefaultConsumerConfig returns the reference batch size and interval.
func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		BatchSize:    5,
		PollInterval: time.Second,
		Order:        OrderLIFO,
		Stat:         os.Stat,
		Logger:       log.New(os.Stderr, "[consumer] ", log.LstdFlags),
	}
}

// EventConsumer drains its queue in bounded batches on a background
// goroutine and hands each event to a Dispatcher. The goroutine starts
// paused when the consumer is created and lives until End.
type EventConsumer struct {
	queue      *EventQueue
	control    *ThreadControl
	dispatcher Dispatcher
	config     *ConsumerConfig

	// batchMu is held while a drained batch is being dispatched.
	batchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventConsumer creates a consumer and spawns its loop in the paused
// state. A nil config uses DefaultConsumerConfig.
func NewEventConsumer(dispatcher Dispatcher, config *ConsumerConfig) *EventConsumer {
	config = withConsumerDefaults(config)

	ctx, cancel := context.WithCancel(context.Background())
	c := &EventConsumer{
		queue:      NewEventQueue(config.Order),
		control:    NewThreadControl(StatePause),
		dispatcher: dispatcher,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go c.run()
	return c
}

func withConsumerDefaults(config *ConsumerConfig) *ConsumerConfig {
	def := DefaultConsumerConfig()
	if config == nil {
		return def
	}

	c := *config
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Stat == nil {
		c.Stat = def.Stat
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	return &c
}

// AddEvent queues an event for dispatch.
func (c *EventConsumer) AddEvent(ev ChangeEvent) {
	c.queue.Push(ev)
}

// Start resumes draining. It has no effect once the consumer has ended.
func (c *EventConsumer) Start() {
	c.control.CompareAndSwap(StatePause, StateResume)
}

// Pause stops draining without discarding queued events.
func (c *EventConsumer) Pause() {
	c.control.CompareAndSwap(StateResume, StatePause)
}

// End tells the loop to exit. A dispatch in flight has its context
// cancelled and the rest of its batch is dropped.
func (c *EventConsumer) End() {
	c.control.Set(StateKill)
	c.cancel()
}

// Clear discards queued events without dispatching them.
func (c *EventConsumer) Clear() int {
	return c.queue.Clear()
}

// Queue returns the consumer's queue, for producers and manual injection.
func (c *EventConsumer) Queue() *EventQueue {
	return c.queue
}

// Control returns the consumer's ThreadControl.
func (c *EventConsumer) Control() *ThreadControl {
	return c.control
}

// State returns the current control state.
func (c *EventConsumer) State() State {
	return c.control.Get()
}

// Idle reports whether the queue is empty and no batch is in flight.
func (c *EventConsumer) Idle() bool {
	if !c.batchMu.TryLock() {
		return false
	}
	defer c.batchMu.Unlock()

	return c.queue.Len() == 0
}

// Done is closed when the loop has exited.
func (c *EventConsumer) Done() <-chan struct{} {
	return c.done
}

// run is the consumer loop.
func (c *EventConsumer) run() {
	defer close(c.done)
	defer c.config.Logger.Println("Consumer stopped")

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		switch c.control.Get() {
		case StateKill:
			return
		case StatePause:
			continue
		}

		c.processBatch()
	}
}

// processBatch drains one batch and dispatches each event. A failed event
// is logged and dropped; the rest of the batch still runs.
func (c *EventConsumer) processBatch() {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	batch := c.queue.DrainBatch(c.config.BatchSize)
	for i, ev := range batch {
		if c.ctx.Err() != nil {
			c.config.Logger.Printf("Consumer ended, dropping %d events", len(batch)-i)
			return
		}
		c.report(c.process(ev))
	}
}

// process applies the dispatch filters and runs the dispatcher. Only plain
// files that were added or modified are dispatched; removals and renames
// are left to the application.
func (c *EventConsumer) process(ev ChangeEvent) DispatchResult {
	res := DispatchResult{Event: ev, Outcome: OutcomeSkipped, Started: time.Now()}

	switch ev.Action {
	case ActionAdded, ActionModified:
	case ActionRemoved, ActionRenamedFrom, ActionRenamedTo:
		c.config.Logger.Printf("Ignoring %s of %s", ev.Action, ev.LocalPath)
		res.Reason = "action " + ev.Action.String()
		return res
	default:
		c.config.Logger.Printf("Ignoring unrecognised event %s for %s", ev.Action, ev.LocalPath)
		res.Reason = "action " + ev.Action.String()
		return res
	}

	info, err := c.config.Stat(ev.LocalPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.config.Logger.Printf("Skipping %s: file no longer exists", ev.LocalPath)
			res.Reason = "missing"
		} else {
			c.config.Logger.Printf("Skipping %s: %v", ev.LocalPath, err)
			res.Reason = "stat failed"
			res.Err = err
		}
		return res
	}
	if info.IsDir() {
		res.Reason = "directory"
		return res
	}

	err = c.dispatcher.Dispatch(c.ctx, ev)
	res.Duration = time.Since(res.Started)
	if err != nil {
		c.config.Logger.Printf("Error dispatching %s: %v", ev.LocalPath, err)
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	c.config.Logger.Printf("Dispatched %s -> %s", ev.LocalPath, ev.RemotePath)
	res.Outcome = OutcomeDispatched
	return res
}

func (c *EventConsumer) report(res DispatchResult) {
	if c.config.OnResult != nil {
		c.config.OnResult(res)
	}
}
