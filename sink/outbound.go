package sink

import (
	"chat-relay/errors"
	"context"
	"fmt"
	"sync"
)

// Outbound is the bounded FIFO queue between the router and one connection writer.
// Push blocks while the queue is full, until the caller's context expires.
// Close never closes the data channel, so a racing Push cannot panic.
type Outbound[T any] struct {
	items  chan T
	closed chan struct{}
	once   sync.Once
}

func NewOutbound[T any](size int) *Outbound[T] {
	if size <= 0 {
		size = 1
	}
	return &Outbound[T]{
		items:  make(chan T, size),
		closed: make(chan struct{}),
	}
}

func (o *Outbound[T]) Push(ctx context.Context, item T) error {
	select {
	case <-o.closed:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case o.items <- item:
		return nil
	case <-o.closed:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: queue full (%d)", errors.ErrSlowConsumer, cap(o.items))
	}
}

// Items is read by the single writer goroutine.
func (o *Outbound[T]) Items() <-chan T { return o.items }

func (o *Outbound[T]) Done() <-chan struct{} { return o.closed }

func (o *Outbound[T]) Len() int { return len(o.items) }

func (o *Outbound[T]) Close() {
	o.once.Do(func() { close(o.closed) })
}
