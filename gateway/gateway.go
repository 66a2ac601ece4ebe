// Package gateway terminates client connections: it authenticates them, parses their
// frames and turns them into orchestrator calls. Transport details live behind Conn.
package gateway

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	AuthTimeout          time.Duration
	ConnectionBufferSize int
	SinkTimeout          time.Duration
	PingInterval         time.Duration
}

type Gateway struct {
	log          *slog.Logger
	orchestrator contract.IOrchestrator
	verifier     contract.Verifier
	limiter      contract.RateLimiter
	config       Config
	sessions     sync.Map // domain.ConnectionID -> *Session
	mu           sync.Mutex
	wg           sync.WaitGroup
	closing      atomic.Bool
}

func New(log *slog.Logger, orchestrator contract.IOrchestrator, verifier contract.Verifier,
	limiter contract.RateLimiter, config Config) *Gateway {
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = 10 * time.Second
	}
	if config.SinkTimeout <= 0 {
		config.SinkTimeout = time.Second
	}
	return &Gateway{
		log:          log,
		orchestrator: orchestrator,
		verifier:     verifier,
		limiter:      limiter,
		config:       config,
	}
}

// Serve drives one connection from handshake to close and returns the close reason.
// token is the credential presented during the handshake, empty when there was none:
// the client then has AuthTimeout to send a CONNECT frame.
func (g *Gateway) Serve(ctx context.Context, conn Conn, token string) error {
	g.mu.Lock()
	if g.closing.Load() {
		g.mu.Unlock()
		_ = conn.Close(errors.ErrConnectionClosed)
		return errors.ErrConnectionClosed
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	s := newSession(domain.ConnectionID(uuid.NewString()), conn, g.log, g.config.ConnectionBufferSize, g.teardown)
	stop := context.AfterFunc(ctx, func() { s.close(ctx.Err()) })
	defer stop()
	s.transition(domain.StateAuthenticating)

	userID, err := g.authenticate(ctx, s, token)
	if err != nil {
		if stderrors.Is(err, errors.ErrUnauthorized) {
			writeCtx, cancel := context.WithTimeout(ctx, g.config.SinkTimeout)
			_ = s.writeDirect(writeCtx, errorFrame(err, ""))
			cancel()
		}
		s.close(err)
		return err
	}

	s.userID.Store(userID)
	if !s.transition(domain.StateOpen) {
		s.close(errors.ErrConnectionClosed)
		return errors.ErrConnectionClosed
	}
	g.sessions.Store(s.id, s)
	// A shutdown that started during authentication did not see this session.
	if g.closing.Load() {
		s.close(errors.ErrConnectionClosed)
	}
	s.startWriter(g.config.PingInterval)
	g.reply(ctx, s, connectedFrame(userID))
	s.log.Info("Connection open", "user_id", userID)

	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			s.close(err)
			break
		}
		if s.State() != domain.StateOpen {
			break
		}
		g.handle(ctx, s, data)
	}

	s.wait()
	return s.closeReason()
}

func (g *Gateway) authenticate(ctx context.Context, s *Session, token string) (domain.UserID, error) {
	if token == "" {
		authCtx, cancel := context.WithTimeout(ctx, g.config.AuthTimeout)
		defer cancel()
		data, err := s.conn.ReadMessage(authCtx)
		if err != nil {
			return "", fmt.Errorf("%w: no CONNECT frame: %w", errors.ErrUnauthorized, err)
		}
		frame, err := ParseClientFrame(data)
		if err != nil || frame.Type != FrameConnect {
			return "", fmt.Errorf("%w: first frame must be CONNECT", errors.ErrUnauthorized)
		}
		token = frame.Token
	}
	userID, err := g.verifier.Verify(ctx, token)
	if err != nil {
		s.log.Info("Authentication failed", "error", err)
		return "", fmt.Errorf("%w: %w", errors.ErrUnauthorized, err)
	}
	return userID, nil
}

// teardown is the session's onClose hook, called exactly once per connection.
func (g *Gateway) teardown(s *Session) {
	g.orchestrator.Disconnect(s)
	g.sessions.CompareAndDelete(s.id, s)
}

func (g *Gateway) handle(ctx context.Context, s *Session, data []byte) {
	frame, err := ParseClientFrame(data)
	if err != nil {
		g.reply(ctx, s, errorFrame(err, receiptOf(data)))
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		err = g.subscribe(ctx, s, frame.Topic)
	case FrameUnsubscribe:
		err = g.unsubscribe(s, frame.Topic)
	case FramePublish:
		err = g.publish(ctx, s, frame)
	case FrameConnect:
		err = fmt.Errorf("%w: already connected", errors.ErrMalformedFrame)
	}

	if err != nil {
		s.log.Debug("Frame rejected", "type", frame.Type, "user_id", s.UserID(), "error", err)
		g.reply(ctx, s, errorFrame(err, frame.Receipt))
		return
	}
	if frame.Receipt != "" {
		g.reply(ctx, s, receiptFrame(frame.Receipt))
	}
}

func (g *Gateway) subscribe(ctx context.Context, s *Session, topic string) error {
	chatID, err := domain.ParseTopic(topic)
	if err != nil {
		return err
	}
	return g.orchestrator.Subscribe(ctx, s, chatID)
}

func (g *Gateway) unsubscribe(s *Session, topic string) error {
	chatID, err := domain.ParseTopic(topic)
	if err != nil {
		return err
	}
	g.orchestrator.Unsubscribe(s, chatID)
	return nil
}

func (g *Gateway) publish(ctx context.Context, s *Session, frame ClientFrame) error {
	if frame.Destination != domain.SendMessageDestination {
		return fmt.Errorf("%w: unknown destination %q", errors.ErrMalformedFrame, frame.Destination)
	}
	body := frame.Body
	if body.SenderID != "" && domain.UserID(body.SenderID) != s.UserID() {
		return fmt.Errorf("%w: senderId does not match the connection user", errors.ErrMalformedFrame)
	}
	if err := g.allow(ctx, s.UserID()); err != nil {
		return err
	}
	_, err := g.orchestrator.PostMessage(ctx, domain.PostMessageCommand{
		ChatID:    domain.ChatID(body.ChatID),
		SenderID:  s.UserID(),
		Content:   body.Content,
		FileURL:   body.FileURL,
		Encrypted: body.Encrypted,
	})
	return err
}

// allow fails open: a limiter outage must not stop the chat.
func (g *Gateway) allow(ctx context.Context, userID domain.UserID) error {
	if g.limiter == nil {
		return nil
	}
	ok, err := g.limiter.Allow(ctx, string(userID))
	if err != nil {
		g.log.Warn("Rate limiter unavailable", "user_id", userID, "error", err)
		return nil
	}
	if !ok {
		return errors.ErrRateLimited
	}
	return nil
}

// reply queues a frame for the connection itself. A connection that cannot take
// its own replies within SinkTimeout is closed.
func (g *Gateway) reply(ctx context.Context, s *Session, frame ServerFrame) {
	replyCtx, cancel := context.WithTimeout(ctx, g.config.SinkTimeout)
	defer cancel()
	if err := s.send(replyCtx, frame); err != nil && !stderrors.Is(err, errors.ErrConnectionClosed) {
		s.close(err)
	}
}

// Sessions returns the number of open connections.
func (g *Gateway) Sessions() int {
	n := 0
	g.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown refuses new connections, closes every open one and waits for their
// Serve calls to return, or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing.Store(true)
	g.mu.Unlock()
	g.sessions.Range(func(_, v any) bool {
		v.(*Session).Terminate(fmt.Errorf("%w: server shutting down", errors.ErrConnectionClosed))
		return true
	})

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.log.Info("All connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
