package channel

import (
	"context"
	"errors"
	"sync"
)

const DefaultCapacity = 10000

var (
	// ErrFull is returned by Send when the queue has reached capacity.
	ErrFull = errors.New("channel queue is full")
	// ErrClosed is returned when sending to or receiving from a closed channel.
	ErrClosed = errors.New("channel is closed")
)

// Channel is a typed message queue shared by every internal pipeline of the
// daemon. Senders never block: an overflowing queue surfaces ErrFull to the
// caller instead of applying silent backpressure.
type Channel[T any] struct {
	ch   chan T
	once sync.Once
	done chan struct{}
}

// New returns a Channel with the given capacity. A capacity lower than 1
// falls back to DefaultCapacity.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Channel[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues msg without blocking.
func (c *Channel[T]) Send(msg T) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Receive dequeues the next message, suspending the caller until one is
// available, the channel is closed, or ctx expires.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case msg := <-c.ch:
		return msg, nil
	case <-c.done:
		// Drain whatever was enqueued before close.
		select {
		case msg := <-c.ch:
			return msg, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Chan exposes the receive side for range-style consumers. Exactly one
// long-running task should consume it.
func (c *Channel[T]) Chan() <-chan T {
	return c.ch
}

// Close marks the channel closed for senders. Pending messages remain
// receivable.
func (c *Channel[T]) Close() {
	c.once.Do(func() { close(c.done) })
}

// Len returns the number of queued messages.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}
