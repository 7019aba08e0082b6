package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mirrord/internal/profile"
	"github.com/hrygo/mirrord/plugin/ai"
	"github.com/hrygo/mirrord/plugin/ai/metrics"
	"github.com/hrygo/mirrord/server/service/chat"
	"github.com/hrygo/mirrord/server/service/pricing"
	"github.com/hrygo/mirrord/store"
	teststore "github.com/hrygo/mirrord/store/test"
)

type stubLLM struct {
	reply string
	err   error
	calls int
}

func (s *stubLLM) Chat(_ context.Context, _ []ai.Message, _ ...ai.ChatOption) (string, error) {
	s.calls++
	return s.reply, s.err
}

type testServer struct {
	echo    *echo.Echo
	service *APIV1Service
	store   *store.Store
	llm     *stubLLM
	metrics *metrics.MockMetricsService
}

func newTestServer(t *testing.T, billingSecret string) *testServer {
	t.Helper()
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	llm := &stubLLM{reply: "Glad you stopped by."}
	mm := metrics.NewMockMetricsService()
	catalog, err := pricing.Load()
	require.NoError(t, err)

	svc := NewAPIV1Service(
		&profile.Profile{Mode: "dev", BillingSecret: billingSecret},
		ts,
		chat.NewService(ts, llm, chat.WithMetrics(mm)),
		catalog,
		mm,
	)
	e := echo.New()
	svc.RegisterRoutes(e)
	return &testServer{echo: e, service: svc, store: ts, llm: llm, metrics: mm}
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestChatEndpoint_Health(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(http.MethodGet, ChatPath, "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "MIRRORD Backend Running", body["message"])
	assert.Equal(t, "smart-memory", body["version"])

	plans, ok := body["pricing"].(map[string]any)
	require.True(t, ok)
	for _, tier := range []string{"basic", "pro", "premium"} {
		plan, ok := plans[tier].(map[string]any)
		require.True(t, ok, tier)
		assert.NotEmpty(t, plan["price"])
		assert.NotEmpty(t, plan["features"])
	}
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestChatEndpoint_Preflight(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(http.MethodOptions, ChatPath, "", map[string]string{
		echo.HeaderOrigin:                     "https://app.example.com",
		echo.HeaderAccessControlRequestMethod: http.MethodPost,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	h := rec.Header()
	assert.Equal(t, "*", h.Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", h.Get(echo.HeaderAccessControlAllowCredentials))
	assert.Equal(t, "GET,OPTIONS,PATCH,DELETE,POST,PUT", h.Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, "X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, Content-MD5, Content-Type, Date, X-Api-Version",
		h.Get(echo.HeaderAccessControlAllowHeaders))
}

func TestChatEndpoint_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(http.MethodDelete, ChatPath, "", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, rec.Body.String())
}

func TestChatEndpoint_Post(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(http.MethodPost, ChatPath,
		`{"history":[{"role":"user","content":"hello"}],"username":"sam","mood":6,"goal":"sleep"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Glad you stopped by.", body["reply"])
	assert.Equal(t, true, body["success"])
	sub, ok := body["subscription"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "trial", sub["tier"])
	assert.Nil(t, sub["dailyLimit"])
	assert.EqualValues(t, 1, sub["messagesUsedToday"])

	record, err := ts.store.GetOrCreateUserRecord(context.Background(), "sam")
	require.NoError(t, err)
	assert.Len(t, record.DailyMessageCounts, 1)
}

func TestChatEndpoint_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "history absent", body: `{"username":"sam"}`},
		{name: "history not a list", body: `{"history":"hello"}`},
		{name: "not json", body: `history=hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, "")
			rec := ts.do(http.MethodPost, ChatPath, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"reply":"`+chat.RetryReply+`"}`, rec.Body.String())
			assert.Zero(t, ts.llm.calls)
		})
	}
}

func TestChatEndpoint_ProviderFailureHidesDetails(t *testing.T) {
	ts := newTestServer(t, "")
	ts.llm.err = errors.New("401 invalid api key sk-live-123")

	rec := ts.do(http.MethodPost, ChatPath, `{"history":[{"role":"user","content":"hi"}],"email":"e@example.com"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, chat.RetryReply, body["reply"])
	assert.Equal(t, "Model provider unavailable", body["error"])
	assert.NotContains(t, rec.Body.String(), "sk-live")
}

func TestChatEndpoint_RateLimited(t *testing.T) {
	ts := newTestServer(t, "")
	for i := 0; i < 40; i++ {
		rec := ts.do(http.MethodGet, ChatPath, "", nil)
		if rec.Code == http.StatusTooManyRequests {
			body := decode(t, rec)
			assert.Equal(t, chat.RetryReply, body["reply"])
			assert.Equal(t, "Too many requests", body["error"])
			assert.Equal(t, 1, ts.metrics.Outcome(metrics.OutcomeRateLimited))
			return
		}
	}
	t.Fatal("expected a 429 within the burst window")
}

func TestUpdateSubscription(t *testing.T) {
	t.Run("disabled without secret", func(t *testing.T) {
		ts := newTestServer(t, "")
		rec := ts.do(http.MethodPost, "/api/subscription", `{"identity":"a@example.com","tier":"pro"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
	})

	t.Run("wrong secret", func(t *testing.T) {
		ts := newTestServer(t, "s3cret")
		rec := ts.do(http.MethodPost, "/api/subscription", `{"identity":"a@example.com","tier":"pro"}`,
			map[string]string{HeaderBillingSecret: "guess"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	})

	t.Run("invalid tier", func(t *testing.T) {
		ts := newTestServer(t, "s3cret")
		rec := ts.do(http.MethodPost, "/api/subscription", `{"identity":"a@example.com","tier":"trial"}`,
			map[string]string{HeaderBillingSecret: "s3cret"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"identity and a valid tier are required"}`, rec.Body.String())
	})

	t.Run("updates tier", func(t *testing.T) {
		ts := newTestServer(t, "s3cret")
		rec := ts.do(http.MethodPost, "/api/subscription", `{"identity":"a@example.com","tier":"premium"}`,
			map[string]string{HeaderBillingSecret: "s3cret"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"identity":"a@example.com","subscriptionTier":"premium","price":"$19.99/month"}`, rec.Body.String())

		record, err := ts.store.GetOrCreateUserRecord(context.Background(), "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, store.TierPremium, record.SubscriptionTier)
	})
}

func TestGetMetricsOverview(t *testing.T) {
	ts := newTestServer(t, "")
	ts.metrics.RecordRequest(context.Background(), metrics.KindChat, 120*time.Millisecond, true)
	ts.metrics.RecordRequest(context.Background(), metrics.KindChat, 300*time.Millisecond, false)

	rec := ts.do(http.MethodGet, "/api/v1/system/metrics/overview?range=1h", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MetricsOverviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp.TotalRequests)
	assert.EqualValues(t, 1, resp.ErrorCount)
	assert.InDelta(t, 0.5, resp.SuccessRate, 0.001)
	assert.Equal(t, "1h", resp.TimeRange)

	rec = ts.do(http.MethodGet, "/api/v1/system/metrics/overview?range=1y", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1h", time.Hour},
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		start, err := parseTimeRange(tt.in, now)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, now.Sub(start), tt.in)
	}
	_, err := parseTimeRange("yesterday", now)
	assert.Error(t, err)
}
