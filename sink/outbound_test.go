package sink_test

import (
	"chat-relay/errors"
	"chat-relay/sink"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOutbound_Push(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	t.Run("Items come out in push order", func(t *testing.T) {
		q := sink.NewOutbound[int](3)
		for i := 1; i <= 3; i++ {
			req.NoError(q.Push(ctx, i))
		}
		req.Equal(3, q.Len())
		for i := 1; i <= 3; i++ {
			req.Equal(i, <-q.Items())
		}
	})

	t.Run("Full queue fails once the context expires", func(t *testing.T) {
		q := sink.NewOutbound[int](1)
		req.NoError(q.Push(ctx, 1))

		timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := q.Push(timeout, 2)

		req.ErrorIs(err, errors.ErrSlowConsumer)
	})

	t.Run("Full queue accepts again once drained", func(t *testing.T) {
		q := sink.NewOutbound[int](1)
		req.NoError(q.Push(ctx, 1))
		go func() {
			time.Sleep(10 * time.Millisecond)
			<-q.Items()
		}()

		timeout, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		req.NoError(q.Push(timeout, 2))
	})

	t.Run("Closed queue rejects pushes and unblocks waiters", func(t *testing.T) {
		q := sink.NewOutbound[int](1)
		req.NoError(q.Push(ctx, 1))

		errCh := make(chan error, 1)
		go func() { errCh <- q.Push(ctx, 2) }()
		time.Sleep(10 * time.Millisecond)
		q.Close()
		q.Close()

		req.ErrorIs(<-errCh, errors.ErrConnectionClosed)
		req.ErrorIs(q.Push(ctx, 3), errors.ErrConnectionClosed)
		<-q.Done()
	})
}
