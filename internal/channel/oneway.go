package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned when the other side of a channel has gone away.
	ErrClosed = errors.New("channel closed")
	// ErrPeerDead is returned by a master whose slave stopped before replying.
	ErrPeerDead = errors.New("channel peer dead")
)

// SimpleSender is the sending half of a one-way channel. Senders can be
// cloned; the receiver sees ErrClosed once every clone has been closed.
type SimpleSender[T any] struct {
	q      *queue[T]
	refs   *atomic.Int64
	once   sync.Once
	closed atomic.Bool
}

// SimpleReceiver is the receiving half of a one-way channel.
type SimpleReceiver[T any] struct {
	q *queue[T]
}

// OneWay creates an unbounded one-way channel.
func OneWay[T any]() (*SimpleSender[T], *SimpleReceiver[T]) {
	q := newQueue[T]()
	refs := &atomic.Int64{}
	refs.Store(1)
	return &SimpleSender[T]{q: q, refs: refs}, &SimpleReceiver[T]{q: q}
}

// Send enqueues v without blocking. It fails with ErrClosed when the receiver
// is gone or this sender was closed.
func (s *SimpleSender[T]) Send(v T) error {
	if s.closed.Load() || !s.q.push(v) {
		return ErrClosed
	}
	return nil
}

// Clone returns another sender feeding the same receiver.
func (s *SimpleSender[T]) Clone() *SimpleSender[T] {
	s.refs.Add(1)
	return &SimpleSender[T]{q: s.q, refs: s.refs}
}

// Close releases this sender. Closing twice is a no-op.
func (s *SimpleSender[T]) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		if s.refs.Add(-1) == 0 {
			s.q.close()
		}
	})
}

// Recv blocks until a value arrives. Values sent before the last sender
// closed are still delivered; after that Recv returns ErrClosed.
func (r *SimpleReceiver[T]) Recv(ctx context.Context) (T, error) {
	return r.q.pop(ctx)
}

// Close drops the receiver; queued values are discarded and later sends fail.
func (r *SimpleReceiver[T]) Close() { r.q.discard() }
