package tracker

import (
	"fmt"
	"strings"
	"sync"
)

// Order selects which end of the queue DrainBatch takes events from.
type Order int

const (
	// OrderLIFO drains the most recently pushed events first.
	OrderLIFO Order = iota
	// OrderFIFO drains the oldest events first.
	OrderFIFO
)

func (o Order) String() string {
	switch o {
	case OrderLIFO:
		return "lifo"
	case OrderFIFO:
		return "fifo"
	default:
		return fmt.Sprintf("order(%d)", int(o))
	}
}

// ParseOrder parses "lifo" or "fifo". An empty string selects OrderLIFO.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lifo":
		return OrderLIFO, nil
	case "fifo":
		return OrderFIFO, nil
	default:
		return OrderLIFO, fmt.Errorf("unknown drain order %q (want lifo or fifo)", s)
	}
}

// EventQueue is the mutex-guarded sequence shared by a watcher and a
// consumer. The drain order is fixed when the queue is created.
type EventQueue struct {
	mu     sync.Mutex
	events []ChangeEvent
	order  Order
}

// NewEventQueue creates an empty queue draining in the given order.
func NewEventQueue(order Order) *EventQueue {
	return &EventQueue{order: order}
}

// Order returns the queue's drain order.
func (q *EventQueue) Order() Order {
	return q.order
}

// Push appends events to the tail.
func (q *EventQueue) Push(events ...ChangeEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, events...)
}

// DrainBatch removes and returns at most limit events. With OrderLIFO the
// result starts with the most recently pushed event; with OrderFIFO it
// starts with the oldest. The events left behind keep their push order.
func (q *EventQueue) DrainBatch(limit int) []ChangeEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(limit, len(q.events))
	if n <= 0 {
		return nil
	}

	batch := make([]ChangeEvent, n)
	if q.order == OrderFIFO {
		copy(batch, q.events[:n])
		rest := copy(q.events, q.events[n:])
		clear(q.events[rest:])
		q.events = q.events[:rest]
		return batch
	}

	tail := len(q.events) - n
	for i := range batch {
		batch[i] = q.events[len(q.events)-1-i]
	}
	clear(q.events[tail:])
	q.events = q.events[:tail]
	return batch
}

// Clear discards every pending event and returns how many were dropped.
func (q *EventQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	q.events = nil
	return n
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.events)
}
