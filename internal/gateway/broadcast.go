package gateway

import (
	"context"
	"sync"
)

// broadcast is a multi-consumer fan-out channel with bounded per-subscriber buffers. A slow subscriber loses the
// oldest buffered elements rather than stalling publishers; the drop count is reported on the next Recv so the
// consumer can log the lag.
type broadcast[T any] struct {
	mu       sync.Mutex
	subs     map[*subscription[T]]struct{}
	capacity int
	closed   bool
}

func newBroadcast[T any](capacity int) *broadcast[T] {
	return &broadcast[T]{
		subs:     make(map[*subscription[T]]struct{}),
		capacity: capacity,
	}
}

// Publish delivers v to every live subscriber. Publishing to a closed broadcast is a no-op.
func (b *broadcast[T]) Publish(v T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscription[T], 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(v)
	}
}

// Subscribe registers a new consumer. Subscribing to a closed broadcast returns an already-closed subscription.
func (b *broadcast[T]) Subscribe() *subscription[T] {
	s := &subscription[T]{
		parent: b,
		cap:    b.capacity,
		notify: make(chan struct{}, 1),
	}

	b.mu.Lock()
	if b.closed {
		s.closed = true
	} else {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()
	return s
}

// Close terminates the broadcast. Subscribers drain their buffers and then observe ErrSubClosed.
func (b *broadcast[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription[T], 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

func (b *broadcast[T]) remove(s *subscription[T]) {
	b.mu.Lock()
	if b.subs != nil {
		delete(b.subs, s)
	}
	b.mu.Unlock()
}

// subscription is one consumer's view of a broadcast.
type subscription[T any] struct {
	parent *broadcast[T]

	mu     sync.Mutex
	buf    []T
	lagged int
	closed bool
	notify chan struct{}
	cap    int
}

func (s *subscription[T]) push(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= s.cap {
		// Drop the oldest element; the consumer learns the count on its next Recv.
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		s.lagged++
	}
	s.buf = append(s.buf, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recv returns the next element and the number of elements dropped since the previous Recv. It returns ErrSubClosed
// once the subscription is closed and drained, or the context error if ctx ends first.
func (s *subscription[T]) Recv(ctx context.Context) (T, int, error) {
	var zero T
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			v := s.buf[0]
			s.buf[0] = zero
			s.buf = s.buf[1:]
			lag := s.lagged
			s.lagged = 0
			s.mu.Unlock()
			return v, lag, nil
		}
		if s.closed {
			s.mu.Unlock()
			return zero, 0, ErrSubClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, 0, ctx.Err()
		case <-s.notify:
		}
	}
}

// Unsubscribe detaches the consumer from the broadcast.
func (s *subscription[T]) Unsubscribe() {
	if s.parent != nil {
		s.parent.remove(s)
	}
	s.close()
}

func (s *subscription[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
