// Package rest exposes the query surface of the relay over gin: chat listing and
// creation, paged history and a health probe. The websocket endpoint is mounted
// on the same engine.
package rest

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type StatsProvider interface {
	Stats() domain.RegistryStats
}

type Deps struct {
	Directory contract.Directory
	Store     contract.MessageStore
	Verifier  contract.Verifier
	Board     *domain.HealthBoard
	Stats     StatsProvider
	WebSocket http.Handler
}

func NewRouter(log *slog.Logger, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	health := NewHealthHandler(deps.Board, deps.Stats, time.Now())
	router.GET("/health", health.Check)
	if deps.WebSocket != nil {
		router.GET("/ws", gin.WrapH(deps.WebSocket))
	}

	chats := NewChatHandler(log, deps.Directory, deps.Store)
	api := router.Group("/api", RequireAuth(deps.Verifier))
	{
		api.GET("/chats", chats.ListChats)
		api.POST("/chats", chats.CreateChat)
		api.GET("/chats/:chatId/messages", chats.GetMessages)
	}
	return router
}

type HealthHandler struct {
	board   *domain.HealthBoard
	stats   StatsProvider
	started time.Time
}

func NewHealthHandler(board *domain.HealthBoard, stats StatsProvider, started time.Time) *HealthHandler {
	return &HealthHandler{board: board, stats: stats, started: started}
}

type HealthResponse struct {
	Status   string               `json:"status"`
	Uptime   string               `json:"uptime"`
	Registry domain.RegistryStats `json:"registry"`
	Node     *domain.NodeHealth   `json:"node,omitempty"`
}

// Check always answers 200 while the process serves requests. Node is the last
// sample of the monitoring worker, absent until the first one.
func (h *HealthHandler) Check(c *gin.Context) {
	response := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Truncate(time.Second).String(),
	}
	if h.stats != nil {
		response.Registry = h.stats.Stats()
	}
	if h.board != nil {
		if node := h.board.Snapshot(); !node.LastSeen.IsZero() {
			response.Node = &node
		}
	}
	c.JSON(http.StatusOK, response)
}
