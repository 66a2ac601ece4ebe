package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const secret = "my_strong_and_long_secret_key_2026"

func TestJWTVerifier_Verify(t *testing.T) {
	ctx := context.Background()
	verifier := NewJWTVerifier(secret, "chat-relay")

	valid, err := GenerateToken(secret, "chat-relay", "alice", []string{"user"}, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(secret, "chat-relay", "alice", nil, -time.Minute)
	require.NoError(t, err)
	otherSecret, err := GenerateToken("another_secret", "chat-relay", "alice", nil, time.Hour)
	require.NoError(t, err)
	otherIssuer, err := GenerateToken(secret, "someone-else", "alice", nil, time.Hour)
	require.NoError(t, err)
	subOnly, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "bob",
		Issuer:    "chat-relay",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "chat-relay",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantUser domain.UserID
		wantErr  bool
	}{
		{"Valid token", valid, "alice", false},
		{"Subject claim", subOnly, "bob", false},
		{"Expired", expired, "", true},
		{"Wrong secret", otherSecret, "", true},
		{"Wrong issuer", otherIssuer, "", true},
		{"No user", noUser, "", true},
		{"Empty", "", "", true},
		{"Garbage", "not.a.token", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := verifier.Verify(ctx, tt.token)
			if tt.wantErr {
				require.ErrorIs(t, err, errors.ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantUser, user)
		})
	}
}

func TestJWTVerifier_Without_Issuer_Accepts_Any_Issuer(t *testing.T) {
	req := require.New(t)
	token, err := GenerateToken(secret, "whoever", "alice", nil, time.Hour)
	req.NoError(err)

	user, err := NewJWTVerifier(secret, "").Verify(context.Background(), token)

	req.NoError(err)
	req.Equal(domain.UserID("alice"), user)
}

func TestTokenFromRequest(t *testing.T) {
	req := require.New(t)

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc")
	req.Equal("abc", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws?access_token=xyz", nil)
	req.Equal("xyz", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws?access_token=xyz", nil)
	r.Header.Set("Authorization", "bearer abc")
	req.Equal("abc", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	req.Empty(TokenFromRequest(r))
}

func TestUserIDFromContext(t *testing.T) {
	req := require.New(t)

	_, ok := UserIDFromContext(context.Background())
	req.False(ok)

	user, ok := UserIDFromContext(WithUserID(context.Background(), "alice"))
	req.True(ok)
	req.Equal(domain.UserID("alice"), user)
}
