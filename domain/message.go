// Package domain contains core concepts of the chat relay.
// This file defines Message values and the rules a publish must satisfy.
// Messages are immutable once the store has assigned their id and timestamp.
package domain

import (
	"chat-relay/errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

type MessageID int64

// Message is an appended chat message. ID and Timestamp are assigned by the
// message store, never by the client.
type Message struct {
	ID        MessageID `json:"id"`
	ChatID    ChatID    `json:"chatId"`
	SenderID  UserID    `json:"senderId"`
	Content   string    `json:"content"`
	FileURL   string    `json:"fileUrl,omitempty"`
	Encrypted bool      `json:"encrypted"`
	Timestamp int64     `json:"timestamp"` // unix millis
}

// PostMessageCommand is a publish intent coming from an authenticated connection.
type PostMessageCommand struct {
	ChatID    ChatID
	SenderID  UserID
	Content   string
	FileURL   string
	Encrypted bool
}

// Validate checks the content rules independent of storage.
// maxContentLength <= 0 disables the length check.
func (c PostMessageCommand) Validate(maxContentLength int) error {
	if strings.TrimSpace(c.Content) == "" && strings.TrimSpace(c.FileURL) == "" {
		return errors.ErrEmptyMessage
	}
	if maxContentLength > 0 && utf8.RuneCountInString(c.Content) > maxContentLength {
		return fmt.Errorf("%w: %d characters max", errors.ErrContentTooLong, maxContentLength)
	}
	return nil
}
