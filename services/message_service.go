package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/repositories"
	"context"
	"log/slog"
	"sync"
	"time"
)

type HistoryLimits struct {
	Default int
	Max     int
}

// MessageService is the only authority for message ids and timestamps.
// Appends to one chat are serialized, appends to different chats are independent.
type MessageService struct {
	log              *slog.Logger
	repository       repositories.IMessageRepository
	directory        contract.Directory
	activity         contract.ActivityRecorder
	maxContentLength int
	limits           HistoryLimits
	cursors          sync.Map // domain.ChatID -> *chatCursor
	now              func() time.Time
}

// chatCursor is the writer lock of a chat plus the last assigned id and timestamp.
type chatCursor struct {
	mu     sync.Mutex
	loaded bool
	lastID domain.MessageID
	lastTs int64
}

func NewMessageService(
	log *slog.Logger,
	repository repositories.IMessageRepository,
	directory contract.Directory,
	activity contract.ActivityRecorder,
	maxContentLength int,
	limits HistoryLimits,
) *MessageService {
	if limits.Default <= 0 {
		limits.Default = 50
	}
	if limits.Max <= 0 {
		limits.Max = 100
	}
	return &MessageService{
		log:              log,
		repository:       repository,
		directory:        directory,
		activity:         activity,
		maxContentLength: maxContentLength,
		limits:           limits,
		now:              time.Now,
	}
}

// Append assigns the next id and a strictly increasing timestamp, then persists the message.
// It returns only once the message is durable.
func (s *MessageService) Append(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error) {
	if err := cmd.Validate(s.maxContentLength); err != nil {
		return domain.Message{}, err
	}
	if _, err := s.directory.GetChat(ctx, cmd.ChatID); err != nil {
		return domain.Message{}, err
	}

	cursor := s.cursorOf(cmd.ChatID)
	cursor.mu.Lock()
	if err := s.load(cursor, cmd.ChatID); err != nil {
		cursor.mu.Unlock()
		return domain.Message{}, err
	}

	timestamp := s.now().UnixMilli()
	if timestamp <= cursor.lastTs {
		timestamp = cursor.lastTs + 1
	}
	message := domain.Message{
		ID:        cursor.lastID + 1,
		ChatID:    cmd.ChatID,
		SenderID:  cmd.SenderID,
		Content:   cmd.Content,
		FileURL:   cmd.FileURL,
		Encrypted: cmd.Encrypted,
		Timestamp: timestamp,
	}
	if err := s.repository.StoreMessage(message); err != nil {
		cursor.mu.Unlock()
		s.log.Error("Message not stored", "chat_id", cmd.ChatID, "user_id", cmd.SenderID, "error", err)
		return domain.Message{}, err
	}
	cursor.lastID, cursor.lastTs = message.ID, message.Timestamp
	cursor.mu.Unlock()

	if err := s.activity.RecordActivity(ctx, message.ChatID, message.Timestamp); err != nil {
		s.log.Warn("Last activity not updated", "chat_id", message.ChatID, "error", err)
	}
	return message, nil
}

// History returns up to limit messages with id below before, newest first.
func (s *MessageService) History(ctx context.Context, chatID domain.ChatID, before domain.MessageID, limit int) ([]domain.Message, error) {
	if _, err := s.directory.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.limits.Default
	}
	limit = min(limit, s.limits.Max)
	if before < 0 {
		before = 0
	}
	messages, err := s.repository.GetMessages(chatID, before, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

func (s *MessageService) cursorOf(chatID domain.ChatID) *chatCursor {
	if c, ok := s.cursors.Load(chatID); ok {
		return c.(*chatCursor)
	}
	c, _ := s.cursors.LoadOrStore(chatID, &chatCursor{})
	return c.(*chatCursor)
}

// load reads the newest stored message once per chat, so a restart keeps counting from there.
func (s *MessageService) load(cursor *chatCursor, chatID domain.ChatID) error {
	if cursor.loaded {
		return nil
	}
	last, found, err := s.repository.LastMessage(chatID)
	if err != nil {
		return err
	}
	if found {
		cursor.lastID, cursor.lastTs = last.ID, last.Timestamp
	}
	cursor.loaded = true
	return nil
}
