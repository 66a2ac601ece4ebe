package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode_Wrapped_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"not a participant", fmt.Errorf("publish to c1: %w", ErrNotAParticipant), CodeNotAParticipant, http.StatusForbidden},
		{"chat not found", fmt.Errorf("history: %w", ErrChatNotFound), CodeChatNotFound, http.StatusNotFound},
		{"storage", fmt.Errorf("%w: disk full", ErrStorage), CodeStorage, http.StatusServiceUnavailable},
		{"bad query", fmt.Errorf("%w: limit", ErrInvalidRequest), CodeInvalidRequest, http.StatusBadRequest},
		{"unknown", fmt.Errorf("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			req.Equal(tt.code, Code(tt.err))
			req.Equal(tt.status, HTTPStatus(tt.err))
		})
	}
}
