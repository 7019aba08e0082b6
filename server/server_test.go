package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mirrord/internal/profile"
	teststore "github.com/hrygo/mirrord/store/test"
)

func newTestProfile() *profile.Profile {
	return &profile.Profile{
		Mode:           "dev",
		LLMModel:       "gpt-4o-mini",
		LLMBaseURL:     "http://127.0.0.1:0/v1",
		ExtractorSlots: 1,
		Timezone:       "UTC",
	}
}

func TestNewServer_Routes(t *testing.T) {
	ctx := context.Background()
	s, err := NewServer(ctx, newTestProfile(), teststore.NewTestingStore(ctx, t))
	require.NoError(t, err)
	t.Cleanup(s.metrics.Close)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/chat", http.StatusOK},
		{http.MethodOptions, "/api/chat", http.StatusOK},
		{http.MethodPut, "/api/chat", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/system/metrics/overview", http.StatusOK},
		{http.MethodPost, "/api/subscription", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.echoServer.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, "%s %s", tt.method, tt.path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"), "%s %s", tt.method, tt.path)
	}
}

func TestNewServer_InvalidTimezone(t *testing.T) {
	ctx := context.Background()
	p := newTestProfile()
	p.Timezone = "Nowhere/Special"

	_, err := NewServer(ctx, p, teststore.NewTestingStore(ctx, t))
	assert.Error(t, err)
}

func TestServer_ChatWithoutAPIKeyFailsSoftly(t *testing.T) {
	ctx := context.Background()
	s, err := NewServer(ctx, newTestProfile(), teststore.NewTestingStore(ctx, t))
	require.NoError(t, err)
	t.Cleanup(s.metrics.Close)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"history":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong. Want to try that again?")
}
