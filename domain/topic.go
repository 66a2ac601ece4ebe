package domain

import (
	"chat-relay/errors"
	"fmt"
	"strings"
)

const (
	TopicPrefix            = "/topic/chat/"
	SendMessageDestination = "/app/chat.sendMessage"
)

func TopicFor(chatID ChatID) string {
	return TopicPrefix + string(chatID)
}

// ParseTopic extracts the chat id from "/topic/chat/{id}".
func ParseTopic(topic string) (ChatID, error) {
	id, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: unknown topic %q", errors.ErrMalformedFrame, topic)
	}
	return ChatID(id), nil
}
