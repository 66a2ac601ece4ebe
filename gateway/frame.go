package gateway

import (
	"bytes"
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type FrameType string

const (
	FrameConnect     FrameType = "CONNECT"
	FrameSubscribe   FrameType = "SUBSCRIBE"
	FrameUnsubscribe FrameType = "UNSUBSCRIBE"
	FramePublish     FrameType = "PUBLISH"

	FrameConnected FrameType = "CONNECTED"
	FrameMessage   FrameType = "MESSAGE"
	FrameReceipt   FrameType = "RECEIPT"
	FrameError     FrameType = "ERROR"
)

// ClientFrame is every frame a client may send. Fields not used by a type must be absent.
type ClientFrame struct {
	Type        FrameType    `json:"type" validate:"required,oneof=CONNECT SUBSCRIBE UNSUBSCRIBE PUBLISH"`
	Token       string       `json:"token,omitempty" validate:"required_if=Type CONNECT,excluded_unless=Type CONNECT"`
	Topic       string       `json:"topic,omitempty" validate:"required_if=Type SUBSCRIBE,required_if=Type UNSUBSCRIBE,excluded_if=Type CONNECT,excluded_if=Type PUBLISH"`
	Destination string       `json:"destination,omitempty" validate:"required_if=Type PUBLISH,excluded_unless=Type PUBLISH"`
	Body        *PublishBody `json:"body,omitempty" validate:"required_if=Type PUBLISH,excluded_unless=Type PUBLISH"`
	Receipt     string       `json:"receipt,omitempty" validate:"max=64"`
}

// PublishBody mirrors the payload of the browser client.
// SenderID and Timestamp are accepted and never trusted.
type PublishBody struct {
	ChatID    string          `json:"chatId" validate:"required"`
	Content   string          `json:"content"`
	FileURL   string          `json:"fileUrl,omitempty"`
	Encrypted bool            `json:"encrypted"`
	SenderID  string          `json:"senderId,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type ServerFrame struct {
	Type    FrameType       `json:"type"`
	UserID  domain.UserID   `json:"userId,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Body    *domain.Message `json:"body,omitempty"`
	Receipt string          `json:"receipt,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseClientFrame decodes one text frame strictly: unknown fields, trailing data,
// unknown types and missing fields are all ErrMalformedFrame.
func ParseClientFrame(data []byte) (ClientFrame, error) {
	var frame ClientFrame
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&frame); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	if decoder.More() {
		return ClientFrame{}, fmt.Errorf("%w: trailing data", errors.ErrMalformedFrame)
	}
	if err := validate.Struct(frame); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	return frame, nil
}

// receiptOf digs the receipt out of a frame that failed to parse, so the ERROR can carry it.
func receiptOf(data []byte) string {
	var partial struct {
		Receipt string `json:"receipt"`
	}
	if err := json.Unmarshal(data, &partial); err != nil || len(partial.Receipt) > 64 {
		return ""
	}
	return partial.Receipt
}

func connectedFrame(userID domain.UserID) ServerFrame {
	return ServerFrame{Type: FrameConnected, UserID: userID}
}

func messageFrame(msg domain.Message) ServerFrame {
	return ServerFrame{Type: FrameMessage, Topic: domain.TopicFor(msg.ChatID), Body: &msg}
}

func receiptFrame(receipt string) ServerFrame {
	return ServerFrame{Type: FrameReceipt, Receipt: receipt}
}

// errorFrame never leaks storage or internal details to the client.
func errorFrame(err error, receipt string) ServerFrame {
	code := errors.Code(err)
	message := err.Error()
	switch code {
	case errors.CodeStorage:
		message = "message could not be stored"
	case errors.CodeInternal:
		message = "internal error"
	}
	return ServerFrame{Type: FrameError, Code: code, Message: message, Receipt: receipt}
}

func encode(frame ServerFrame) ([]byte, error) {
	return json.Marshal(frame)
}
