package rest

import (
	"bytes"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type ChatHandler struct {
	log       *slog.Logger
	directory contract.Directory
	store     contract.MessageStore
	validate  *validator.Validate
}

func NewChatHandler(log *slog.Logger, directory contract.Directory, store contract.MessageStore) *ChatHandler {
	return &ChatHandler{
		log:       log,
		directory: directory,
		store:     store,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateChatRequest is the object form of POST /api/chats.
// A bare JSON array of participant ids is accepted too.
type CreateChatRequest struct {
	ParticipantIDs []domain.UserID `json:"participantIds" validate:"required,min=1,max=256,dive,required,max=128"`
	Name           string          `json:"name" validate:"max=100"`
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.directory.ListChatsFor(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	request, err := h.parseCreateChat(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	chat, err := h.directory.CreateChat(c.Request.Context(), currentUser(c), request.ParticipantIDs, request.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	chatID := domain.ChatID(c.Param("chatId"))
	before, err := queryInt(c, "before")
	if err != nil {
		h.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.fail(c, err)
		return
	}

	ok, err := h.directory.IsParticipant(c.Request.Context(), chatID, currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		h.fail(c, errors.ErrNotAParticipant)
		return
	}
	messages, err := h.store.History(c.Request.Context(), chatID, domain.MessageID(before), int(limit))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *ChatHandler) parseCreateChat(c *gin.Context) (CreateChatRequest, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return CreateChatRequest{}, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	var request CreateChatRequest
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &request.ParticipantIDs)
	} else {
		err = json.Unmarshal(raw, &request)
	}
	if err != nil {
		return CreateChatRequest{}, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	if err := h.validate.Struct(request); err != nil {
		return CreateChatRequest{}, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	return request, nil
}

func (h *ChatHandler) fail(c *gin.Context, err error) {
	if status := errors.HTTPStatus(err); status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	abort(c, err)
}

// queryInt reads an optional non-negative integer query parameter, 0 when absent.
func queryInt(c *gin.Context, name string) (int64, error) {
	value := c.Query(name)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errors.ErrInvalidRequest, name)
	}
	return n, nil
}
