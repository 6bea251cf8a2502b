package hub

import (
	"context"
	"fmt"
	"sync"
)

// Lanes of an outbox.
const (
	laneState   = "state"
	laneControl = "control"
)

// outbox is the bounded queue in front of one sink. The state lane keeps
// only the newest entries and drops the oldest when full. The control lane
// never drops: a producer waits for room until its context ends. Control
// entries are always delivered first.
type outbox[T any] struct {
	mu       sync.Mutex
	state    []T
	stateCap int
	control  []T
	closed   bool

	slots chan struct{} // one token per queued control entry
	ready chan struct{}
	done  chan struct{}
}

func newOutbox[T any](stateCap, controlCap int) *outbox[T] {
	if stateCap < 1 {
		stateCap = 1
	}
	if controlCap < 1 {
		controlCap = 1
	}
	return &outbox[T]{
		stateCap: stateCap,
		slots:    make(chan struct{}, controlCap),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// pushState queues v and reports how many older entries were dropped.
func (o *outbox[T]) pushState(v T) (dropped int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrSinkClosed
	}
	for len(o.state) >= o.stateCap {
		var zero T
		o.state[0] = zero
		o.state = o.state[1:]
		dropped++
	}
	o.state = append(o.state, v)
	o.signal()
	return dropped, nil
}

// pushControl queues v, waiting for room until ctx ends.
func (o *outbox[T]) pushControl(ctx context.Context, v T) error {
	select {
	case <-o.done:
		return ErrSinkClosed
	default:
	}

	select {
	case o.slots <- struct{}{}:
	case <-o.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		<-o.slots
		return ErrSinkClosed
	}
	o.control = append(o.control, v)
	o.signal()
	return nil
}

// tryControl queues v only if there is room right now.
func (o *outbox[T]) tryControl(v T) error {
	select {
	case <-o.done:
		return ErrSinkClosed
	case o.slots <- struct{}{}:
	default:
		return ErrQueueFull
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		<-o.slots
		return ErrSinkClosed
	}
	o.control = append(o.control, v)
	o.signal()
	return nil
}

// pop returns the next entry, control lane first.
func (o *outbox[T]) pop() (v T, lane string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.control) > 0 {
		v = o.control[0]
		var zero T
		o.control[0] = zero
		o.control = o.control[1:]
		<-o.slots
		return v, laneControl, true
	}
	if len(o.state) > 0 {
		v = o.state[0]
		var zero T
		o.state[0] = zero
		o.state = o.state[1:]
		return v, laneState, true
	}
	return v, "", false
}

// close discards everything queued and wakes blocked producers.
func (o *outbox[T]) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.state = nil
	for range o.control {
		<-o.slots
	}
	o.control = nil
	close(o.done)
}

func (o *outbox[T]) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
