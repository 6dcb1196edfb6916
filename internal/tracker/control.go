package tracker

import (
	"fmt"
	"sync"
)

// State is the value of a ThreadControl.
type State int32

const (
	// StatePause keeps a loop alive but idle.
	StatePause State = iota
	// StateResume lets a loop do work.
	StateResume
	// StateKill tells a loop to exit. A loop that has observed it is gone;
	// resetting the control does not bring it back.
	StateKill
)

func (s State) String() string {
	switch s {
	case StatePause:
		return "pause"
	case StateResume:
		return "resume"
	case StateKill:
		return "kill"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ThreadControl is the flag a background loop reads each iteration to
// decide whether to work, idle or exit. Every transition is allowed.
type ThreadControl struct {
	mu    sync.Mutex
	state State
}

// NewThreadControl creates a control in the given state.
func NewThreadControl(initial State) *ThreadControl {
	return &ThreadControl{state: initial}
}

// Get returns the current state.
func (c *ThreadControl) Get() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Set stores state.
func (c *ThreadControl) Set(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
}

// CompareAndSwap sets the state to next only if it currently equals old.
func (c *ThreadControl) CompareAndSwap(old, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != old {
		return false
	}
	c.state = next
	return true
}
