package rest

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

const userKey = "user_id"

// RequireAuth verifies the bearer token and stores the user in the gin context.
func RequireAuth(verifier contract.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			abort(c, errors.ErrUnauthorized)
			return
		}
		userID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(userKey, userID)
		c.Request = c.Request.WithContext(auth.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// RequestLogger writes one line per request once the handler is done.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

func currentUser(c *gin.Context) domain.UserID {
	return c.MustGet(userKey).(domain.UserID)
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatus(err), errorBody(err))
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// errorBody hides storage and internal details like the websocket ERROR frame does.
func errorBody(err error) errorResponse {
	code := errors.Code(err)
	message := err.Error()
	switch code {
	case errors.CodeStorage:
		message = "storage unavailable"
	case errors.CodeInternal:
		message = "internal error"
	}
	return errorResponse{Code: code, Error: message}
}
