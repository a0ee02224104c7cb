package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTokenHandler(t *testing.T) {
	const secret = "test-secret"
	h := tokenHandler(secret, time.Hour, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/token?subject=alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	token, err := jwt.Parse(resp.Token, func(*jwt.Token) (interface{}, error) { return []byte(secret), nil })
	require.NoError(t, err)
	sub, err := token.Claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/token", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
