package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized        = fmt.Errorf("unauthorized")
	ErrChatNotFound        = fmt.Errorf("chat not found")
	ErrNotAParticipant     = fmt.Errorf("not a participant")
	ErrInvalidParticipants = fmt.Errorf("invalid participants")
	ErrEmptyMessage        = fmt.Errorf("empty message")
	ErrMalformedFrame      = fmt.Errorf("malformed frame")
	ErrRateLimited         = fmt.Errorf("rate limit exceeded")
	ErrContentTooLong      = fmt.Errorf("content too long")
	ErrSlowConsumer        = fmt.Errorf("slow consumer")
	ErrConnectionClosed    = fmt.Errorf("connection closed")
	ErrStorage             = fmt.Errorf("storage failure")
	ErrWorkerPanic         = fmt.Errorf("worker panic")
	ErrInvalidRequest      = fmt.Errorf("invalid request")
)

// Codes sent to clients in ERROR frames and REST error bodies.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeChatNotFound        = "CHAT_NOT_FOUND"
	CodeNotAParticipant     = "NOT_A_PARTICIPANT"
	CodeInvalidParticipants = "INVALID_PARTICIPANTS"
	CodeEmptyMessage        = "EMPTY_MESSAGE"
	CodeMalformedFrame      = "MALFORMED_FRAME"
	CodeRateLimited         = "RATE_LIMITED"
	CodeContentTooLong      = "CONTENT_TOO_LONG"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeStorage             = "STORAGE_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
)

var codes = []struct {
	err    error
	code   string
	status int
}{
	{ErrUnauthorized, CodeUnauthorized, http.StatusUnauthorized},
	{ErrChatNotFound, CodeChatNotFound, http.StatusNotFound},
	{ErrNotAParticipant, CodeNotAParticipant, http.StatusForbidden},
	{ErrInvalidParticipants, CodeInvalidParticipants, http.StatusBadRequest},
	{ErrEmptyMessage, CodeEmptyMessage, http.StatusBadRequest},
	{ErrMalformedFrame, CodeMalformedFrame, http.StatusBadRequest},
	{ErrContentTooLong, CodeContentTooLong, http.StatusRequestEntityTooLarge},
	{ErrRateLimited, CodeRateLimited, http.StatusTooManyRequests},
	{ErrInvalidRequest, CodeInvalidRequest, http.StatusBadRequest},
	{ErrStorage, CodeStorage, http.StatusServiceUnavailable},
}

// Code returns the client-facing code for err, CodeInternal when unknown.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps err to the status used by the REST surface.
func HTTPStatus(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}
