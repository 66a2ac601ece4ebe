package ws

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/gateway"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const secret = "ws-test-secret"

type server struct {
	url  string
	chat domain.Chat
	gw   *gateway.Gateway
}

func newServer(t *testing.T, config Config) server {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := services.NewDirectoryService(log, repositories.NewChatRepository(db, log))
	store := services.NewMessageService(log, repositories.NewMessageRepository(db, log), directory, directory, 0, services.HistoryLimits{})
	orchestrator := runtime.NewOrchestrator(log, workers.NewSupervisor(log, 0), runtime.NewRegistry(), directory, store, time.Second)
	gw := gateway.New(log, orchestrator, auth.NewJWTVerifier(secret, ""), nil, gateway.Config{ConnectionBufferSize: 8})
	chat, err := directory.CreateChat(context.Background(), "alice", []domain.UserID{"bob"}, "")
	require.NoError(t, err)

	ts := httptest.NewServer(NewHandler(log, gw, config))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		ts.Close()
		_ = db.Close()
	})
	return server{url: "ws" + strings.TrimPrefix(ts.URL, "http"), chat: chat, gw: gw}
}

func token(t *testing.T, user domain.UserID) string {
	t.Helper()
	tok, err := auth.GenerateToken(secret, "", user, nil, time.Hour)
	require.NoError(t, err)
	return tok
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) gateway.ServerFrame {
	t.Helper()
	var frame gateway.ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHandler_Round_Trip(t *testing.T) {
	req := require.New(t)
	s := newServer(t, Config{})

	// alice authenticates with a header, bob with the query parameter
	alice := dial(t, s.url, http.Header{"Authorization": {"Bearer " + token(t, "alice")}})
	bob := dial(t, s.url+"?access_token="+token(t, "bob"), nil)
	req.Equal(domain.UserID("alice"), readFrame(t, alice).UserID)
	req.Equal(domain.UserID("bob"), readFrame(t, bob).UserID)

	topic := domain.TopicFor(s.chat.ID)
	for _, conn := range []*websocket.Conn{alice, bob} {
		req.NoError(conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "topic": topic, "receipt": "s"}))
		req.Equal("s", readFrame(t, conn).Receipt)
	}

	req.NoError(alice.WriteJSON(map[string]any{
		"type":        "PUBLISH",
		"destination": domain.SendMessageDestination,
		"body":        map[string]any{"chatId": s.chat.ID, "content": "hello", "encrypted": false},
	}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		req.Equal(gateway.FrameMessage, frame.Type)
		req.Equal(topic, frame.Topic)
		req.Equal("hello", frame.Body.Content)
		req.Equal(domain.MessageID(1), frame.Body.ID)
	}
}

func TestHandler_Connect_Frame(t *testing.T) {
	req := require.New(t)
	s := newServer(t, Config{})
	conn := dial(t, s.url, nil)

	req.NoError(conn.WriteJSON(map[string]any{"type": "CONNECT", "token": token(t, "bob")}))

	frame := readFrame(t, conn)
	req.Equal(gateway.FrameConnected, frame.Type)
	req.Equal(domain.UserID("bob"), frame.UserID)
}

func TestHandler_Bad_Token_Closes_With_Policy_Violation(t *testing.T) {
	req := require.New(t)
	s := newServer(t, Config{})
	conn := dial(t, s.url, http.Header{"Authorization": {"Bearer nope"}})

	frame := readFrame(t, conn)
	req.Equal(gateway.FrameError, frame.Type)
	req.Equal("UNAUTHORIZED", frame.Code)

	_, _, err := conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestHandler_Rejects_Unknown_Origin(t *testing.T) {
	req := require.New(t)
	s := newServer(t, Config{AllowedOrigins: []string{"https://chat.example.com"}})

	_, resp, err := websocket.DefaultDialer.Dial(s.url, http.Header{"Origin": {"https://evil.example.com"}})
	req.Error(err)
	req.Equal(http.StatusForbidden, resp.StatusCode)

	conn := dial(t, s.url+"?access_token="+token(t, "alice"), http.Header{"Origin": {"https://chat.example.com"}})
	req.Equal(gateway.FrameConnected, readFrame(t, conn).Type)
}

func TestHandler_Oversized_Frame_Closes_Connection(t *testing.T) {
	req := require.New(t)
	s := newServer(t, Config{MaxFrameSize: 64})
	conn := dial(t, s.url+"?access_token="+token(t, "alice"), nil)
	req.Equal(gateway.FrameConnected, readFrame(t, conn).Type)

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SUBSCRIBE","topic":"`+strings.Repeat("x", 200)+`"}`)))

	_, _, err := conn.ReadMessage()
	req.Error(err)
	req.Eventually(func() bool { return s.gw.Sessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCloseCode(t *testing.T) {
	tests := []struct {
		name   string
		reason error
		code   int
	}{
		{"Clean close", nil, websocket.CloseNormalClosure},
		{"Unauthorized", fmt.Errorf("%w: expired", errors.ErrUnauthorized), websocket.ClosePolicyViolation},
		{"Slow consumer", errors.ErrSlowConsumer, websocket.CloseTryAgainLater},
		{"Shutdown", errors.ErrConnectionClosed, websocket.CloseGoingAway},
		{"Read error", stderrors.New("unexpected EOF"), websocket.CloseNormalClosure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, text := closeCode(tt.reason)
			require.Equal(t, tt.code, code)
			require.LessOrEqual(t, len(text), maxCloseReason)
		})
	}

	_, text := closeCode(fmt.Errorf("%w: %s", errors.ErrUnauthorized, strings.Repeat("x", 300)))
	require.Len(t, text, maxCloseReason)
}
