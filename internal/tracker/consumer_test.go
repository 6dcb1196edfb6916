package tracker

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEventConsumer_StartsPaused verifies that a new consumer does not
// drain until Start is called.
func TestEventConsumer_StartsPaused(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewEventConsumer(d, testConsumerConfig())
	defer c.End()

	assert.Equal(t, StatePause, c.State())
	c.AddEvent(ChangeEvent{Action: ActionModified, LocalPath: "/data/a"})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.Calls())

	c.Start()
	require.Eventually(t, func() bool { return len(d.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

// TestEventConsumer_FailureIsolation verifies that a failed dispatch does
// not stop the rest of the batch and that no event is retried.
func TestEventConsumer_FailureIsolation(t *testing.T) {
	evs := events(5)
	d := &recordingDispatcher{failOn: map[string]error{
		evs[2].LocalPath: errors.New("rclone exited with status 1"),
	}}

	var mu sync.Mutex
	var results []DispatchResult
	cfg := testConsumerConfig()
	cfg.OnResult = func(r DispatchResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}

	c := NewEventConsumer(d, cfg)
	defer c.End()
	c.Queue().Push(evs...)
	c.Start()

	require.Eventually(t, func() bool { return len(d.Calls()) == 5 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.ElementsMatch(t, evs, d.Calls(), "each event attempted exactly once")

	mu.Lock()
	defer mu.Unlock()
	failed := 0
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			failed++
			assert.Equal(t, evs[2], r.Event)
		}
	}
	assert.Equal(t, 1, failed)
}

// TestEventConsumer_BatchSize verifies that one iteration dispatches at
// most BatchSize events.
func TestEventConsumer_BatchSize(t *testing.T) {
	d := &recordingDispatcher{}
	cfg := testConsumerConfig()
	cfg.PollInterval = time.Hour

	c := NewEventConsumer(d, cfg)
	defer c.End()
	c.Queue().Push(events(12)...)
	c.control.Set(StateResume)

	c.processBatch()
	assert.Len(t, d.Calls(), 5)
	assert.Equal(t, 7, c.Queue().Len())
}

// TestEventConsumer_Filters verifies which events reach the dispatcher.
func TestEventConsumer_Filters(t *testing.T) {
	tests := []struct {
		name       string
		ev         ChangeEvent
		stat       func(string) (fs.FileInfo, error)
		dispatched bool
		reason     string
	}{
		{
			name:       "modified file",
			ev:         ChangeEvent{Action: ActionModified, LocalPath: "/data/a.txt"},
			stat:       statAllFiles,
			dispatched: true,
		},
		{
			name:       "added file",
			ev:         ChangeEvent{Action: ActionAdded, LocalPath: "/data/b.txt"},
			stat:       statAllFiles,
			dispatched: true,
		},
		{
			name:   "removed",
			ev:     ChangeEvent{Action: ActionRemoved, LocalPath: "/data/old.txt"},
			stat:   statAllFiles,
			reason: "action removed",
		},
		{
			name:   "renamed from",
			ev:     ChangeEvent{Action: ActionRenamedFrom, LocalPath: "/data/x"},
			stat:   statAllFiles,
			reason: "action renamed_from",
		},
		{
			name:   "renamed to",
			ev:     ChangeEvent{Action: ActionRenamedTo, LocalPath: "/data/y"},
			stat:   statAllFiles,
			reason: "action renamed_to",
		},
		{
			name:   "unknown action",
			ev:     ChangeEvent{Action: Action(42), LocalPath: "/data/z"},
			stat:   statAllFiles,
			reason: "action other(42)",
		},
		{
			name: "directory",
			ev:   ChangeEvent{Action: ActionAdded, LocalPath: "/data/sub"},
			stat: func(name string) (fs.FileInfo, error) {
				return fileInfo{name: name, dir: true}, nil
			},
			reason: "directory",
		},
		{
			name: "missing",
			ev:   ChangeEvent{Action: ActionModified, LocalPath: "/data/gone"},
			stat: func(string) (fs.FileInfo, error) {
				return nil, fs.ErrNotExist
			},
			reason: "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			cfg := testConsumerConfig()
			cfg.PollInterval = time.Hour
			cfg.Stat = tt.stat

			c := NewEventConsumer(d, cfg)
			defer c.End()

			res := c.process(tt.ev)
			if tt.dispatched {
				assert.Equal(t, OutcomeDispatched, res.Outcome)
				assert.Equal(t, []ChangeEvent{tt.ev}, d.Calls())
				return
			}
			assert.Equal(t, OutcomeSkipped, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, d.Calls())
		})
	}
}

// TestEventConsumer_PauseKeepsQueue verifies that pausing stops draining
// without discarding events.
func TestEventConsumer_PauseKeepsQueue(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewEventConsumer(d, testConsumerConfig())
	defer c.End()

	c.Start()
	c.Pause()
	c.Queue().Push(events(3)...)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, d.Calls())
	assert.Equal(t, 3, c.Queue().Len())
}

// TestEventConsumer_ClearDropsWithoutDispatch verifies that cleared events
// are never dispatched.
func TestEventConsumer_ClearDropsWithoutDispatch(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewEventConsumer(d, testConsumerConfig())
	defer c.End()

	c.Queue().Push(events(4)...)
	assert.Equal(t, 4, c.Clear())

	c.Start()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.Calls())
}

// TestEventConsumer_StartAfterEnd verifies that Start does not revive an
// ended consumer.
func TestEventConsumer_StartAfterEnd(t *testing.T) {
	c := NewEventConsumer(&recordingDispatcher{}, testConsumerConfig())
	c.End()
	c.Start()

	assert.Equal(t, StateKill, c.State())
	<-c.Done()
}

// TestEventConsumer_DispatchFunc verifies the function adapter.
func TestEventConsumer_DispatchFunc(t *testing.T) {
	got := make(chan ChangeEvent, 1)
	c := NewEventConsumer(DispatchFunc(func(_ context.Context, ev ChangeEvent) error {
		got <- ev
		return nil
	}), testConsumerConfig())
	defer c.End()

	ev := ChangeEvent{Action: ActionAdded, LocalPath: "/data/n.txt", RemotePath: "/srv/data/n.txt"}
	c.AddEvent(ev)
	c.Start()

	select {
	case d := <-got:
		assert.Equal(t, ev, d)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch func was not called")
	}
}
