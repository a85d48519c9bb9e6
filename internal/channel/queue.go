package channel

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO with a single consumer. Producers never block.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool

	// ready holds at most one wake-up token for the consumer.
	ready chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{ready: make(chan struct{}, 1)}
}

// push appends v. It reports false when the queue has been closed.
func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// pushAndClose appends v and closes the queue in one step, so nothing can be
// queued behind v.
func (q *queue[T]) pushAndClose(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.closed = true
	q.mu.Unlock()
	q.wake()
	return true
}

// pop blocks until an item is available. Items queued before close are still
// delivered; after that pop returns ErrClosed.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			v := q.items[q.head]
			q.items[q.head] = zero
			q.head++
			if q.head == len(q.items) {
				q.items = q.items[:0]
				q.head = 0
			}
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// close stops further pushes. It reports false if the queue was already closed.
func (q *queue[T]) close() bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.closed = true
	q.mu.Unlock()
	q.wake()
	return true
}

// discard drops everything still queued and closes the queue.
func (q *queue[T]) discard() {
	q.mu.Lock()
	q.items = nil
	q.head = 0
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *queue[T]) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
