package services

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DirectoryService owns chats and participant lists.
// It answers membership questions for the router and the query surface.
type DirectoryService struct {
	log        *slog.Logger
	repository repositories.IChatRepository
	now        func() time.Time
}

func NewDirectoryService(log *slog.Logger, repository repositories.IChatRepository) *DirectoryService {
	return &DirectoryService{
		log:        log,
		repository: repository,
		now:        time.Now,
	}
}

// CreateChat builds a direct chat for exactly two distinct participants, a group chat otherwise.
// Creating a direct chat for a pair that already has one returns the existing chat.
func (s *DirectoryService) CreateChat(_ context.Context, requester domain.UserID, participants []domain.UserID, name string) (domain.Chat, error) {
	ids := domain.NormalizeParticipants(requester, participants)
	if len(ids) < 2 {
		return domain.Chat{}, errors.ErrInvalidParticipants
	}

	now := s.now().UnixMilli()
	chat := domain.Chat{
		ID:           domain.ChatID(uuid.NewString()),
		Participants: ids,
		CreatedAt:    now,
		LastActivity: now,
	}

	if len(ids) == 2 {
		stored, created, err := s.repository.CreateDirectChat(chat)
		if err != nil {
			return domain.Chat{}, err
		}
		if created {
			s.log.Info("Direct chat created", "chat_id", stored.ID, "user_id", requester)
		} else {
			s.log.Debug("Direct chat already exists", "chat_id", stored.ID, "user_id", requester)
		}
		return stored, nil
	}

	chat.IsGroup = true
	chat.Name = strings.TrimSpace(name)
	if chat.Name == "" {
		chat.Name = domain.DefaultGroupName
	}
	if err := s.repository.CreateChat(chat); err != nil {
		return domain.Chat{}, err
	}
	s.log.Info("Group chat created", "chat_id", chat.ID, "user_id", requester, "participants", len(ids))
	return chat, nil
}

func (s *DirectoryService) GetChat(_ context.Context, chatID domain.ChatID) (domain.Chat, error) {
	return s.repository.GetChat(chatID)
}

func (s *DirectoryService) IsParticipant(ctx context.Context, chatID domain.ChatID, userID domain.UserID) (bool, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	return chat.HasParticipant(userID), nil
}

// ListChatsFor returns the chats of a user, most recently active first.
func (s *DirectoryService) ListChatsFor(_ context.Context, userID domain.UserID) ([]domain.Chat, error) {
	chats, err := s.repository.ListChatsByMember(userID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(chats, func(a, b domain.Chat) int {
		return cmp.Or(
			cmp.Compare(b.LastActivity, a.LastActivity),
			cmp.Compare(b.CreatedAt, a.CreatedAt),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return chats, nil
}

// RecordActivity is called by the message store after every successful append.
func (s *DirectoryService) RecordActivity(_ context.Context, chatID domain.ChatID, at int64) error {
	return s.repository.TouchChat(chatID, at)
}
