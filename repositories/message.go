//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetMessages(chatID domain.ChatID, before domain.MessageID, limit int) ([]domain.Message, error)
	LastMessage(chatID domain.ChatID) (domain.Message, bool, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// maxSeq is the upper bound of the zero-padded id part, used to seek the newest key.
const maxSeq = "99999999999999999999"

func messagePrefix(chatID domain.ChatID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", chatID))
}

// messageKey is "msg:{chat_id}:{id padded to 20 digits}" so lexicographical order
// matches id order inside a chat.
func messageKey(chatID domain.ChatID, id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d", chatID, id))
}

// StoreMessage persists a message. It returns once the transaction is committed.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return storageErr(m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message.ChatID, message.ID), bytes)
	}))
}

// GetMessages returns up to limit messages of a chat with id strictly below before,
// newest first. before == 0 means "from the most recent one".
func (m MessageRepository) GetMessages(chatID domain.ChatID, before domain.MessageID, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(chatID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), []byte(maxSeq)...)
		if before > 0 {
			seekKey = messageKey(chatID, before)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				break
			}
			var message domain.Message
			if err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &message)
			}); err != nil {
				return err
			}
			if before > 0 && message.ID >= before {
				continue
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	m.log.Debug("Messages fetched", "chat_id", chatID, "before", before, "count", len(messages))
	return messages, nil
}

// LastMessage returns the newest message of a chat, false when the chat has none.
func (m MessageRepository) LastMessage(chatID domain.ChatID) (domain.Message, bool, error) {
	messages, err := m.GetMessages(chatID, 0, 1)
	if err != nil || len(messages) == 0 {
		return domain.Message{}, false, err
	}
	return messages[0], true, nil
}
