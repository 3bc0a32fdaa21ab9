package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func Test_extractUserIdFromToken(t *testing.T) {
	app := &App{signingKey: testSigningKey}

	valid, err := IssueToken(testSigningKey, 7, time.Hour)
	assert.NoError(t, err)
	expired, err := IssueToken(testSigningKey, 7, -time.Hour)
	assert.NoError(t, err)
	foreign, err := IssueToken([]byte("other-key"), 7, time.Hour)
	assert.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		expClaim: time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSigningKey)
	assert.NoError(t, err)

	tcases := []struct {
		name    string
		token   string
		userId  int
		wantErr bool
	}{
		{name: "valid", token: valid, userId: 7},
		{name: "expired", token: expired, wantErr: true},
		{name: "wrong key", token: foreign, wantErr: true},
		{name: "missing claim", token: noUser, wantErr: true},
		{name: "garbage", token: "not-a-token", wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, err := app.extractUserIdFromToken(tc.token)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.userId, userId)
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"})
		req.Header.Set("Authorization", "Bearer from-header")

		token, ok := tokenFromRequest(req)
		assert.True(t, ok)
		assert.Equal(t, "from-cookie", token, "expected cookie to win over header")
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer from-header")

		token, ok := tokenFromRequest(req)
		assert.True(t, ok)
		assert.Equal(t, "from-header", token)
	})

	t.Run("none", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")

		_, ok := tokenFromRequest(req)
		assert.False(t, ok)
	})
}
