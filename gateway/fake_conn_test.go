package gateway

import (
	"chat-relay/errors"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn. The test plays the client on the other side.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	pings  atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Ping(context.Context) error {
	c.pings.Add(1)
	return nil
}

func (c *fakeConn) Close(error) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// send plays a client frame.
func (c *fakeConn) send(raw string) {
	c.in <- []byte(raw)
}

// next waits for the next server frame.
func (c *fakeConn) next(t *testing.T) ServerFrame {
	t.Helper()
	select {
	case data := <-c.out:
		var frame ServerFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no frame received")
		return ServerFrame{}
	}
}

// silent asserts that nothing is written for a short while.
func (c *fakeConn) silent(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.out:
		require.FailNow(t, "unexpected frame", string(data))
	case <-time.After(100 * time.Millisecond):
	}
}
