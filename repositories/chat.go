//go:generate go run go.uber.org/mock/mockgen -source=chat.go -destination=../mocks/mock_chat_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

type IChatRepository interface {
	CreateChat(chat domain.Chat) error
	CreateDirectChat(chat domain.Chat) (domain.Chat, bool, error)
	GetChat(chatID domain.ChatID) (domain.Chat, error)
	ListChatsByMember(userID domain.UserID) ([]domain.Chat, error)
	TouchChat(chatID domain.ChatID, at int64) error
}

type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChatRepository(db *badger.DB, log *slog.Logger) ChatRepository {
	return ChatRepository{db: db, log: log}
}

// maxConflictRetries bounds optimistic transaction retries on badger.ErrConflict.
const maxConflictRetries = 10

func chatKey(chatID domain.ChatID) []byte {
	return []byte(fmt.Sprintf("chat:%s", chatID))
}

func memberPrefix(userID domain.UserID) []byte {
	return []byte(fmt.Sprintf("member:%d:%s:", len(userID), userID))
}

func memberKey(userID domain.UserID, chatID domain.ChatID) []byte {
	return append(memberPrefix(userID), []byte(chatID)...)
}

// pairKey is length prefixed so ("a:b","c") and ("a","b:c") never collide.
func pairKey(a, b domain.UserID) []byte {
	first, second := domain.PairKey(a, b)
	return []byte(fmt.Sprintf("pair:%d:%s:%s", len(first), first, second))
}

// CreateChat writes a chat and one membership entry per participant in a single transaction.
func (r ChatRepository) CreateChat(chat domain.Chat) error {
	return r.update(func(txn *badger.Txn) error {
		return putChat(txn, chat, true)
	})
}

// CreateDirectChat stores a two-person chat unless the pair already has one.
// It returns the stored chat and whether it was created by this call.
func (r ChatRepository) CreateDirectChat(chat domain.Chat) (domain.Chat, bool, error) {
	if len(chat.Participants) != 2 {
		return domain.Chat{}, false, errors.ErrInvalidParticipants
	}
	key := pairKey(chat.Participants[0], chat.Participants[1])

	var result domain.Chat
	var created bool
	err := r.update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			existingID, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result, err = getChat(txn, domain.ChatID(existingID))
			created = false
			return err
		case stderrors.Is(err, badger.ErrKeyNotFound):
			if err := putChat(txn, chat, true); err != nil {
				return err
			}
			result, created = chat, true
			return txn.Set(key, []byte(chat.ID))
		default:
			return err
		}
	})
	if err != nil {
		return domain.Chat{}, false, err
	}
	return result, created, nil
}

func (r ChatRepository) GetChat(chatID domain.ChatID) (domain.Chat, error) {
	var chat domain.Chat
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		chat, err = getChat(txn, chatID)
		return err
	})
	if err != nil {
		return domain.Chat{}, storageErr(err)
	}
	return chat, nil
}

// ListChatsByMember walks the membership index of a user. Order is key order, callers sort.
func (r ChatRepository) ListChatsByMember(userID domain.UserID) ([]domain.Chat, error) {
	var chats []domain.Chat
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := memberPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			chatID := domain.ChatID(strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
			chat, err := getChat(txn, chatID)
			if stderrors.Is(err, errors.ErrChatNotFound) {
				r.log.Warn("Dangling membership entry", "user_id", userID, "chat_id", chatID)
				continue
			}
			if err != nil {
				return err
			}
			chats = append(chats, chat)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return chats, nil
}

// TouchChat moves lastActivity forward to at. Older timestamps are ignored.
func (r ChatRepository) TouchChat(chatID domain.ChatID, at int64) error {
	return r.update(func(txn *badger.Txn) error {
		chat, err := getChat(txn, chatID)
		if err != nil {
			return err
		}
		if at <= chat.LastActivity {
			return nil
		}
		chat.LastActivity = at
		return putChat(txn, chat, false)
	})
}

// update runs fn in a read-write transaction and retries it while badger reports a conflict.
func (r ChatRepository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return storageErr(err)
		}
		r.log.Debug("Transaction conflict, retrying", "attempt", attempt+1)
	}
	return storageErr(err)
}

func getChat(txn *badger.Txn, chatID domain.ChatID) (domain.Chat, error) {
	item, err := txn.Get(chatKey(chatID))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Chat{}, errors.ErrChatNotFound
	}
	if err != nil {
		return domain.Chat{}, err
	}
	var chat domain.Chat
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &chat)
	})
	return chat, err
}

func putChat(txn *badger.Txn, chat domain.Chat, withMembers bool) error {
	bytes, err := json.Marshal(chat)
	if err != nil {
		return err
	}
	if err := txn.Set(chatKey(chat.ID), bytes); err != nil {
		return err
	}
	if !withMembers {
		return nil
	}
	for _, userID := range chat.Participants {
		if err := txn.Set(memberKey(userID, chat.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

// storageErr tags unexpected badger failures with ErrStorage.
// Domain errors raised inside a transaction pass through untouched.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, errors.ErrChatNotFound),
		stderrors.Is(err, errors.ErrInvalidParticipants):
		return err
	default:
		return fmt.Errorf("%w: %w", errors.ErrStorage, err)
	}
}
