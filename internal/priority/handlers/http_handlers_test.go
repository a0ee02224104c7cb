package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gartstein/priority/internal/priority/auth"
	"github.com/gartstein/priority/internal/priority/controller"
	"github.com/gartstein/priority/internal/priority/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newHTTPHandler(t *testing.T, stub *stubController) http.Handler {
	t.Helper()
	s := NewServer(0, 0, zaptest.NewLogger(t))
	require.NoError(t, s.RegisterHTTPHandlers(NewRankingHandler(stub, zaptest.NewLogger(t)), testSecret))
	return s.httpServer.Handler
}

func doRequest(t *testing.T, h http.Handler, method, target, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHTTP_Rankings(t *testing.T) {
	stub := newStub()
	h := newHTTPHandler(t, stub)

	code, body := doRequest(t, h, http.MethodGet, "/v1/rankings?group=blast&top_k=2&heuristic=true", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, controller.RankQuery{GroupFilter: "blast", TopK: 2, ForceHeuristic: true}, stub.lastQuery)
	assert.Equal(t, "heuristic", body["source"])
	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, "Alpha Steel GmbH", entries[0].(map[string]any)["company"])

	tests := []struct {
		name   string
		target string
	}{
		{"non numeric top_k", "/v1/rankings?top_k=ten"},
		{"negative top_k", "/v1/rankings?top_k=-3"},
		{"bad heuristic flag", "/v1/rankings?heuristic=maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := doRequest(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestHTTP_Score(t *testing.T) {
	h := newHTTPHandler(t, newStub())

	code, body := doRequest(t, h, http.MethodGet, "/v1/scores/Gamma%20Corp?group=blast", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Gamma Corp", body["company"])
	assert.Equal(t, 36.0, body["priority_score"])
	assert.Equal(t, "heuristic", body["source"])
}

func TestHTTP_ModelIntrospection(t *testing.T) {
	stub := newStub()
	h := newHTTPHandler(t, stub)

	code, body := doRequest(t, h, http.MethodGet, "/v1/model", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "heuristic_only", body["state"])

	code, _ = doRequest(t, h, http.MethodGet, "/v1/model/importances", "")
	assert.Equal(t, http.StatusNotFound, code)

	stub.importances = []models.FeatureImportance{{Feature: "equipment_age", Importance: 1}}
	code, body = doRequest(t, h, http.MethodGet, "/v1/model/importances", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["importances"], 1)

	code, body = doRequest(t, h, http.MethodGet, "/v1/groups", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"Blast Furnace", "Rolling Mill"}, body["groups"])
}

func TestHTTP_ProtectedRoutes(t *testing.T) {
	stub := newStub()
	h := newHTTPHandler(t, stub)

	code, _ := doRequest(t, h, http.MethodPost, "/v1/cache/clear", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = doRequest(t, h, http.MethodPost, "/v1/model/reload", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, int32(0), stub.cleared.Load())
	assert.Equal(t, int32(0), stub.reloaded.Load())

	token, err := auth.GenerateToken("operator", testSecret, time.Hour)
	require.NoError(t, err)

	code, body := doRequest(t, h, http.MethodPost, "/v1/cache/clear", token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["cleared"])
	assert.Equal(t, int32(1), stub.cleared.Load())

	code, body = doRequest(t, h, http.MethodPost, "/v1/model/reload", token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, "model_loaded", body["state"])
}
