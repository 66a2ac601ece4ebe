package e2e

import (
	"bytes"
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/gateway"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

const frameTimeout = 5 * time.Second

type BaseWsSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration, skipping when no relay is configured.
func (s *BaseWsSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayAddr == "" || s.Config.JWTSecret == "" {
		s.T().Skip("RELAY_ADDR and JWT_SECRET are required for e2e tests")
	}
}

func (s *BaseWsSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

func (s *BaseWsSuite) Token(user domain.UserID) string {
	token, err := auth.GenerateToken(s.Config.JWTSecret, s.Config.JWTIssuer, user, nil, time.Hour)
	s.Require().NoError(err)
	return token
}

// Client is one websocket connection of a test user.
type Client struct {
	s    *BaseWsSuite
	user domain.UserID
	conn *websocket.Conn
}

// Connect opens /ws as user and waits for CONNECTED.
func (s *BaseWsSuite) Connect(user domain.UserID) *Client {
	u := url.URL{Scheme: "ws", Host: s.Config.RelayAddr, Path: "/ws"}
	header := http.Header{"Authorization": {"Bearer " + s.Token(user)}}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	s.Require().NoError(err, "Failed to connect to relay at "+u.String())
	c := &Client{s: s, user: user, conn: conn}
	s.T().Cleanup(func() { _ = conn.Close() })

	frame := c.Next()
	s.Require().Equal(gateway.FrameConnected, frame.Type)
	s.Require().Equal(user, frame.UserID)
	return c
}

func (c *Client) Send(frame map[string]any) {
	c.log("SEND", frame)
	c.s.Require().NoError(c.conn.WriteJSON(frame))
}

func (c *Client) Next() gateway.ServerFrame {
	_ = c.conn.SetReadDeadline(time.Now().Add(frameTimeout))
	var frame gateway.ServerFrame
	c.s.Require().NoError(c.conn.ReadJSON(&frame), "no frame for %s", c.user)
	c.log("RECV", frame)
	return frame
}

// Silent asserts nothing arrives within d.
func (c *Client) Silent(d time.Duration) {
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	_, data, err := c.conn.ReadMessage()
	c.s.Require().Error(err, "unexpected frame for %s: %s", c.user, data)
}

func (c *Client) Subscribe(chatID domain.ChatID) {
	receipt := "sub-" + string(chatID)
	c.Send(map[string]any{"type": "SUBSCRIBE", "topic": domain.TopicFor(chatID), "receipt": receipt})
	frame := c.Next()
	c.s.Require().Equal(gateway.FrameReceipt, frame.Type, frame.Message)
	c.s.Require().Equal(receipt, frame.Receipt)
}

func (c *Client) Publish(chatID domain.ChatID, content string) {
	c.Send(map[string]any{
		"type":        "PUBLISH",
		"destination": domain.SendMessageDestination,
		"body":        map[string]any{"chatId": chatID, "content": content, "encrypted": false},
	})
}

func (c *Client) log(direction string, v any) {
	if !c.s.Config.DebugJSON {
		return
	}
	data, _ := json.MarshalIndent(v, "", "  ")
	c.s.T().Logf("%s %s %s", c.user, direction, data)
}

// API calls the REST surface as user and decodes the JSON answer into out.
func (s *BaseWsSuite) API(user domain.UserID, method, path string, body any, out any) int {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://"+s.Config.RelayAddr+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+s.Token(user))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < http.StatusBadRequest {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
