package ws

import (
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	maxCloseReason      = 123
)

type Config struct {
	WriteTimeout   time.Duration
	PongWait       time.Duration
	MaxFrameSize   int64
	AllowedOrigins []string
}

// Conn adapts a gorilla connection to gateway.Conn.
// Every read extends the deadline by PongWait, pongs do too.
type Conn struct {
	conn      *websocket.Conn
	config    Config
	closeOnce sync.Once
}

func NewConn(conn *websocket.Conn, config Config) *Conn {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.PongWait <= 0 {
		config.PongWait = defaultPongWait
	}
	if config.MaxFrameSize > 0 {
		conn.SetReadLimit(config.MaxFrameSize)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.PongWait))
	})
	return &Conn{conn: conn, config: config}
}

func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline(ctx, c.config.PongWait)); err != nil {
		return nil, err
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *Conn) WriteMessage(ctx context.Context, data []byte) error {
	if err := c.conn.SetWriteDeadline(deadline(ctx, c.config.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline(ctx, c.config.WriteTimeout))
}

// Close sends a close frame matching reason, then drops the TCP connection.
func (c *Conn) Close(reason error) error {
	var err error
	c.closeOnce.Do(func() {
		code, text := closeCode(reason)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text), time.Now().Add(c.config.WriteTimeout))
		err = c.conn.Close()
	})
	return err
}

func closeCode(reason error) (int, string) {
	text := ""
	if reason != nil {
		text = reason.Error()
		if len(text) > maxCloseReason {
			text = text[:maxCloseReason]
		}
	}
	switch {
	case reason == nil:
		return websocket.CloseNormalClosure, ""
	case stderrors.Is(reason, errors.ErrUnauthorized):
		return websocket.ClosePolicyViolation, text
	case stderrors.Is(reason, errors.ErrSlowConsumer):
		return websocket.CloseTryAgainLater, text
	case stderrors.Is(reason, errors.ErrConnectionClosed):
		return websocket.CloseGoingAway, text
	default:
		return websocket.CloseNormalClosure, ""
	}
}

// deadline is now+d, or the context deadline when it comes first.
func deadline(ctx context.Context, d time.Duration) time.Time {
	t := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(t) {
		return ctxDeadline
	}
	return t
}
