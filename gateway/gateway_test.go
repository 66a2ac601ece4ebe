package gateway

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// tokenVerifier accepts "token-{user}".
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (domain.UserID, error) {
	user, ok := strings.CutPrefix(token, "token-")
	if !ok || user == "" {
		return "", errors.ErrUnauthorized
	}
	return domain.UserID(user), nil
}

type harness struct {
	gateway      *Gateway
	orchestrator *runtime.Orchestrator
	store        *services.MessageService
	chat         domain.Chat
}

// newHarness wires a gateway on a real store with one direct chat between A and B.
func newHarness(t *testing.T, limiter contract.RateLimiter, config Config) harness {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := services.NewDirectoryService(log, repositories.NewChatRepository(db, log))
	store := services.NewMessageService(log, repositories.NewMessageRepository(db, log), directory, directory, 1000, services.HistoryLimits{})
	orchestrator := runtime.NewOrchestrator(log, workers.NewSupervisor(log, 0), runtime.NewRegistry(), directory, store, time.Second)
	chat, err := directory.CreateChat(context.Background(), "A", []domain.UserID{"B"}, "")
	require.NoError(t, err)

	if config.ConnectionBufferSize == 0 {
		config.ConnectionBufferSize = 16
	}
	return harness{
		gateway:      New(log, orchestrator, tokenVerifier{}, limiter, config),
		orchestrator: orchestrator,
		store:        store,
		chat:         chat,
	}
}

// connect opens an authenticated connection for user and consumes CONNECTED.
func (h harness) connect(t *testing.T, user domain.UserID) (*fakeConn, <-chan error) {
	t.Helper()
	conn := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- h.gateway.Serve(context.Background(), conn, "token-"+string(user)) }()
	frame := conn.next(t)
	require.Equal(t, FrameConnected, frame.Type)
	require.Equal(t, user, frame.UserID)
	return conn, done
}

func (h harness) topic() string {
	return domain.TopicFor(h.chat.ID)
}

func (h harness) publish(content, receipt string) string {
	return fmt.Sprintf(`{"type":"PUBLISH","destination":"/app/chat.sendMessage","body":{"chatId":%q,"content":%q,"encrypted":false},"receipt":%q}`,
		h.chat.ID, content, receipt)
}

func waitClosed(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Serve did not return")
		return nil
	}
}

func TestGateway_Handshake_Token(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn, _ := h.connect(t, "A")
	require.False(t, conn.isClosed())
}

func TestGateway_Invalid_Token_Is_Rejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	conn := newFakeConn()

	err := h.gateway.Serve(context.Background(), conn, "garbage")

	req.ErrorIs(err, errors.ErrUnauthorized)
	frame := conn.next(t)
	req.Equal(FrameError, frame.Type)
	req.Equal(errors.CodeUnauthorized, frame.Code)
	req.True(conn.isClosed())
}

func TestGateway_Connect_Frame_Authentication(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	conn := newFakeConn()
	go func() { _ = h.gateway.Serve(context.Background(), conn, "") }()

	conn.send(`{"type":"CONNECT","token":"token-B"}`)

	frame := conn.next(t)
	req.Equal(FrameConnected, frame.Type)
	req.Equal(domain.UserID("B"), frame.UserID)
}

func TestGateway_Auth_Timeout(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{AuthTimeout: 50 * time.Millisecond})
	conn := newFakeConn()

	err := h.gateway.Serve(context.Background(), conn, "")

	req.ErrorIs(err, errors.ErrUnauthorized)
	req.Equal(errors.CodeUnauthorized, conn.next(t).Code)
	req.True(conn.isClosed())
}

func TestGateway_First_Frame_Must_Be_Connect(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	conn := newFakeConn()
	conn.send(fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q}`, h.topic()))

	err := h.gateway.Serve(context.Background(), conn, "")

	req.ErrorIs(err, errors.ErrUnauthorized)
	req.Equal(errors.CodeUnauthorized, conn.next(t).Code)
}

func TestGateway_Two_Participants_Exchange_Messages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	a, _ := h.connect(t, "A")
	b, _ := h.connect(t, "B")

	// Given A and B subscribed to the chat
	for _, conn := range []*fakeConn{a, b} {
		conn.send(fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q,"receipt":"sub-1"}`, h.topic()))
		receipt := conn.next(t)
		req.Equal(FrameReceipt, receipt.Type)
		req.Equal("sub-1", receipt.Receipt)
	}

	// When A publishes
	a.send(h.publish("hello", "pub-1"))

	// Then both receive MESSAGE id 1, A gets the message before its receipt
	first := a.next(t)
	req.Equal(FrameMessage, first.Type)
	req.Equal(h.topic(), first.Topic)
	req.Equal(domain.MessageID(1), first.Body.ID)
	req.Equal(domain.UserID("A"), first.Body.SenderID)
	req.Equal("hello", first.Body.Content)
	req.Equal("pub-1", a.next(t).Receipt)

	atB := b.next(t)
	req.Equal(*first.Body, *atB.Body)

	// And B answers with id 2 and a later timestamp
	b.send(h.publish("hi", ""))
	second := b.next(t)
	req.Equal(domain.MessageID(2), second.Body.ID)
	req.Greater(second.Body.Timestamp, first.Body.Timestamp)
	req.Equal(*second.Body, *a.next(t).Body)
}

func TestGateway_Non_Participant(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	a, _ := h.connect(t, "A")
	a.send(fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q}`, h.topic()))
	c, _ := h.connect(t, "C")

	c.send(fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q,"receipt":"r1"}`, h.topic()))
	frame := c.next(t)
	req.Equal(errors.CodeNotAParticipant, frame.Code)
	req.Equal("r1", frame.Receipt)

	c.send(h.publish("intrusion", "r2"))
	frame = c.next(t)
	req.Equal(errors.CodeNotAParticipant, frame.Code)

	// Nothing reached A, nothing was stored, C is still connected
	a.silent(t)
	history, err := h.store.History(context.Background(), h.chat.ID, 0, 0)
	req.NoError(err)
	req.Empty(history)
	req.False(c.isClosed())
}

func TestGateway_Rejected_Frames_Keep_The_Connection(t *testing.T) {
	h := newHarness(t, nil, Config{})
	a, _ := h.connect(t, "A")

	tests := []struct {
		description string
		raw         string
		wantCode    string
	}{
		{"Should reject invalid json", `{"type":`, errors.CodeMalformedFrame},
		{"Should reject an unknown type", `{"type":"SEND","receipt":"x"}`, errors.CodeMalformedFrame},
		{"Should reject an unknown field", `{"type":"SUBSCRIBE","topic":"/topic/chat/x","extra":1,"receipt":"x"}`, errors.CodeMalformedFrame},
		{"Should reject a missing topic", `{"type":"SUBSCRIBE","receipt":"x"}`, errors.CodeMalformedFrame},
		{"Should reject a foreign topic", `{"type":"SUBSCRIBE","topic":"/queue/x","receipt":"x"}`, errors.CodeMalformedFrame},
		{"Should reject an unknown destination", fmt.Sprintf(`{"type":"PUBLISH","destination":"/app/other","body":{"chatId":%q,"content":"x"},"receipt":"x"}`, h.chat.ID), errors.CodeMalformedFrame},
		{"Should reject a body without chat", `{"type":"PUBLISH","destination":"/app/chat.sendMessage","body":{"content":"x"},"receipt":"x"}`, errors.CodeMalformedFrame},
		{"Should reject a spoofed sender", fmt.Sprintf(`{"type":"PUBLISH","destination":"/app/chat.sendMessage","body":{"chatId":%q,"content":"x","senderId":"B"},"receipt":"x"}`, h.chat.ID), errors.CodeMalformedFrame},
		{"Should reject a body on SUBSCRIBE", fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q,"body":{"chatId":"x","content":"x"},"receipt":"x"}`, h.topic()), errors.CodeMalformedFrame},
		{"Should reject a topic on PUBLISH", fmt.Sprintf(`{"type":"PUBLISH","topic":%q,"destination":"/app/chat.sendMessage","body":{"chatId":%q,"content":"x"},"receipt":"x"}`, h.topic(), h.chat.ID), errors.CodeMalformedFrame},
		{"Should reject a token on UNSUBSCRIBE", fmt.Sprintf(`{"type":"UNSUBSCRIBE","topic":%q,"token":"token-A","receipt":"x"}`, h.topic()), errors.CodeMalformedFrame},
		{"Should reject a destination on SUBSCRIBE", fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q,"destination":"/app/chat.sendMessage","receipt":"x"}`, h.topic()), errors.CodeMalformedFrame},
		{"Should reject a second CONNECT", `{"type":"CONNECT","token":"token-A","receipt":"x"}`, errors.CodeMalformedFrame},
		{"Should reject an empty message", h.publish("   ", "x"), errors.CodeEmptyMessage},
		{"Should reject an unknown chat", `{"type":"PUBLISH","destination":"/app/chat.sendMessage","body":{"chatId":"nope","content":"x"},"receipt":"x"}`, errors.CodeChatNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			a.send(tt.raw)
			frame := a.next(t)
			require.Equal(t, FrameError, frame.Type)
			require.Equal(t, tt.wantCode, frame.Code)
			if strings.Contains(tt.raw, `"receipt":"x"`) {
				require.Equal(t, "x", frame.Receipt)
			}
		})
	}

	// Still usable
	a.send(fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q,"receipt":"ok"}`, h.topic()))
	require.Equal(t, "ok", a.next(t).Receipt)
	require.False(t, a.isClosed())
}

func TestGateway_Matching_Sender_And_Timestamp_Hint_Are_Accepted(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	a, _ := h.connect(t, "A")

	a.send(fmt.Sprintf(`{"type":"PUBLISH","destination":"/app/chat.sendMessage","body":{"chatId":%q,"content":"File: a.png","fileUrl":"/files/a.png","encrypted":true,"senderId":"A","timestamp":"2020-01-01T00:00:00Z"},"receipt":"r"}`, h.chat.ID))

	req.Equal("r", a.next(t).Receipt)
	history, err := h.store.History(context.Background(), h.chat.ID, 0, 0)
	req.NoError(err)
	req.Len(history, 1)
	req.True(history[0].Encrypted)
	req.Equal("/files/a.png", history[0].FileURL)
	req.Greater(history[0].Timestamp, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
}

func TestGateway_Rate_Limited(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	limiter := mocks.NewMockRateLimiter(ctrl)
	h := newHarness(t, limiter, Config{})
	a, _ := h.connect(t, "A")

	gomock.InOrder(
		limiter.EXPECT().Allow(gomock.Any(), "A").Return(true, nil),
		limiter.EXPECT().Allow(gomock.Any(), "A").Return(false, nil),
		limiter.EXPECT().Allow(gomock.Any(), "A").Return(false, fmt.Errorf("redis down")),
	)

	a.send(h.publish("one", "r1"))
	req.Equal("r1", a.next(t).Receipt)

	a.send(h.publish("two", "r2"))
	frame := a.next(t)
	req.Equal(errors.CodeRateLimited, frame.Code)

	// A limiter failure lets the message through
	a.send(h.publish("three", "r3"))
	req.Equal("r3", a.next(t).Receipt)
}

func TestGateway_Disconnect_Cleans_Registry(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	a, done := h.connect(t, "A")
	b, _ := h.connect(t, "B")
	a.send(fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q,"receipt":"s"}`, h.topic()))
	req.Equal("s", a.next(t).Receipt)
	req.Equal(1, h.orchestrator.Stats().Subscriptions)

	// When A's transport drops
	_ = a.Close(nil)
	waitClosed(t, done)

	// Then its subscription is gone and B's publish reaches nobody
	req.Equal(0, h.orchestrator.Stats().Subscriptions)
	b.send(h.publish("gone?", "r"))
	req.Equal("r", b.next(t).Receipt)
	req.Equal(1, h.gateway.Sessions())
}

func TestGateway_Unsubscribe(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	a, _ := h.connect(t, "A")
	a.send(fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q}`, h.topic()))
	a.send(fmt.Sprintf(`{"type":"UNSUBSCRIBE","topic":%q,"receipt":"u"}`, h.topic()))
	req.Equal("u", a.next(t).Receipt)

	a.send(h.publish("echo?", "p"))

	// Only the receipt, no MESSAGE
	req.Equal(FrameReceipt, a.next(t).Type)
	a.silent(t)
}

func TestGateway_Shutdown_Closes_Every_Session(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	a, doneA := h.connect(t, "A")
	b, doneB := h.connect(t, "B")
	a.send(fmt.Sprintf(`{"type":"SUBSCRIBE","topic":%q,"receipt":"s"}`, h.topic()))
	req.Equal("s", a.next(t).Receipt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(h.gateway.Shutdown(ctx))

	req.ErrorIs(waitClosed(t, doneA), errors.ErrConnectionClosed)
	req.ErrorIs(waitClosed(t, doneB), errors.ErrConnectionClosed)
	req.True(a.isClosed())
	req.True(b.isClosed())
	req.Zero(h.gateway.Sessions())
	req.Equal(domain.RegistryStats{}, h.orchestrator.Stats())

	// New connections are refused
	late := newFakeConn()
	req.ErrorIs(h.gateway.Serve(context.Background(), late, "token-A"), errors.ErrConnectionClosed)
	req.True(late.isClosed())
}

func TestGateway_Context_Cancel_Closes_The_Session(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil, Config{})
	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.gateway.Serve(ctx, conn, "token-A") }()
	req.Equal(FrameConnected, conn.next(t).Type)

	cancel()

	req.ErrorIs(waitClosed(t, done), context.Canceled)
	req.True(conn.isClosed())
}

func TestGateway_Writer_Sends_Pings(t *testing.T) {
	h := newHarness(t, nil, Config{PingInterval: 10 * time.Millisecond})
	a, _ := h.connect(t, "A")

	require.Eventually(t, func() bool { return a.pings.Load() >= 2 }, time.Second, 5*time.Millisecond)
}
