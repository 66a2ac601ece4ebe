package gateway

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/sink"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is one client transport carrying text frames.
// ReadMessage is called by one goroutine, WriteMessage and Ping by another.
// Close unblocks both and may be called from anywhere, more than once.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason error) error
}

// Session is the gateway side of one connection. It implements contract.Subscriber.
type Session struct {
	id       domain.ConnectionID
	conn     Conn
	log      *slog.Logger
	state    atomic.Int32
	userID   atomic.Value // domain.UserID
	outbound *sink.Outbound[[]byte]
	closeMu  sync.Mutex
	reason   error
	onClose  func(*Session)
	once     sync.Once
	writerWg sync.WaitGroup
}

func newSession(id domain.ConnectionID, conn Conn, log *slog.Logger, bufferSize int, onClose func(*Session)) *Session {
	s := &Session{
		id:       id,
		conn:     conn,
		log:      log.With("connection_id", id),
		outbound: sink.NewOutbound[[]byte](bufferSize),
		onClose:  onClose,
	}
	s.state.Store(int32(domain.StateConnecting))
	s.userID.Store(domain.UserID(""))
	return s
}

func (s *Session) ConnectionID() domain.ConnectionID { return s.id }

func (s *Session) UserID() domain.UserID { return s.userID.Load().(domain.UserID) }

func (s *Session) State() domain.ConnState { return domain.ConnState(s.state.Load()) }

// transition moves the state machine forward; it fails when the move is not allowed.
func (s *Session) transition(to domain.ConnState) bool {
	for {
		from := s.State()
		if !from.CanTransition(to) {
			return false
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			s.log.Debug("Connection state changed", "from", from, "to", to)
			return true
		}
	}
}

// Consume enqueues a MESSAGE frame. It blocks at most until ctx expires.
func (s *Session) Consume(ctx context.Context, msg domain.Message) error {
	if s.State() != domain.StateOpen {
		return errors.ErrConnectionClosed
	}
	return s.send(ctx, messageFrame(msg))
}

func (s *Session) Active() bool { return s.State() == domain.StateOpen }

// Terminate closes the session from outside, e.g. after a failed delivery or at shutdown.
func (s *Session) Terminate(reason error) {
	s.close(reason)
}

func (s *Session) send(ctx context.Context, frame ServerFrame) error {
	data, err := encode(frame)
	if err != nil {
		return err
	}
	return s.outbound.Push(ctx, data)
}

// writeDirect bypasses the queue. Only used before the writer goroutine starts.
func (s *Session) writeDirect(ctx context.Context, frame ServerFrame) error {
	data, err := encode(frame)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(ctx, data)
}

// startWriter drains the outbound queue in order and pings every pingInterval.
func (s *Session) startWriter(pingInterval time.Duration) {
	s.writerWg.Add(1)
	go func() {
		defer s.writerWg.Done()
		var ping <-chan time.Time
		if pingInterval > 0 {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			ping = ticker.C
		}
		for {
			select {
			case data := <-s.outbound.Items():
				if err := s.conn.WriteMessage(context.Background(), data); err != nil {
					s.close(err)
					return
				}
			case <-ping:
				if err := s.conn.Ping(context.Background()); err != nil {
					s.close(err)
					return
				}
			case <-s.outbound.Done():
				return
			}
		}
	}()
}

// close runs the teardown exactly once: Closed state, registry cleanup, transport close.
func (s *Session) close(reason error) {
	s.once.Do(func() {
		s.closeMu.Lock()
		s.reason = reason
		s.closeMu.Unlock()
		s.transition(domain.StateClosed)
		if s.onClose != nil {
			s.onClose(s)
		}
		s.outbound.Close()
		_ = s.conn.Close(reason)
		s.log.Info("Connection closed", "user_id", s.UserID(), "reason", reason)
	})
}

func (s *Session) closeReason() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.reason
}

// wait blocks until the writer goroutine has exited.
func (s *Session) wait() {
	s.writerWg.Wait()
}
