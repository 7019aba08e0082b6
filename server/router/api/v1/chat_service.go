package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mirrord/internal/version"
	"github.com/hrygo/mirrord/plugin/ai/metrics"
	aierrors "github.com/hrygo/mirrord/server/internal/errors"
	"github.com/hrygo/mirrord/server/internal/observability"
	"github.com/hrygo/mirrord/server/service/chat"
)

// ChatPath serves chat (POST), health (GET) and preflight (OPTIONS).
const ChatPath = "/api/chat"

// maxChatBodyBytes caps the chat request body.
const maxChatBodyBytes = 1 << 20

// HealthResponse is the GET payload of the chat endpoint.
type HealthResponse struct {
	Status  string                  `json:"status"`
	Message string                  `json:"message"`
	Version string                  `json:"version"`
	Pricing map[string]pricingEntry `json:"pricing"`
}

type pricingEntry struct {
	Price    string   `json:"price"`
	Features []string `json:"features"`
}

// ErrorResponse carries the conversational reply and a short diagnostic.
type ErrorResponse struct {
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

// HandleChat dispatches on method the way the single chat endpoint always has.
func (s *APIV1Service) HandleChat(c echo.Context) error {
	setCORSHeaders(c)
	switch c.Request().Method {
	case http.MethodOptions:
		return c.NoContent(http.StatusOK)
	case http.MethodGet:
		return s.GetHealth(c)
	case http.MethodPost:
		return s.PostChat(c)
	default:
		return writeError(c, aierrors.MethodNotAllowed(c.Request().Method), "")
	}
}

// GetHealth reports that the service is up along with the plan catalog.
func (s *APIV1Service) GetHealth(c echo.Context) error {
	plans := map[string]pricingEntry{}
	if s.Pricing != nil {
		for tier, plan := range s.Pricing.ByTier() {
			plans[tier] = pricingEntry{Price: plan.Price, Features: plan.Features}
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Message: "MIRRORD Backend Running",
		Version: version.Flavor,
		Pricing: plans,
	})
}

// PostChat answers one chat turn.
func (s *APIV1Service) PostChat(c echo.Context) error {
	ctx := c.Request().Context()
	reqCtx := observability.NewRequestContextWithID(slog.Default(), c.Response().Header().Get(echo.HeaderXRequestID), "")

	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxChatBodyBytes)
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		reqCtx.Warn("failed to decode chat request", slog.String("error", err.Error()))
		return writeError(c, aierrors.InvalidArgument("malformed chat request"), chat.RetryReply)
	}
	reqCtx.Identity = req.Identity()

	resp, err := s.ChatService.Chat(observability.WithRequestContext(ctx, reqCtx), &req)
	if err != nil {
		code := aierrors.GetCodeFromError(err, aierrors.ErrCodeInternal)
		reqCtx.WithFields(slog.String(observability.LogFieldErrorCode, string(code))).
			Warn("chat request failed", "status", aierrors.HTTPStatus(code))
		return writeError(c, err, chat.RetryReply)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) rateLimited(c echo.Context) error {
	if s.MetricsService != nil {
		s.MetricsService.RecordOutcome(c.Request().Context(), metrics.OutcomeRateLimited, 1)
	}
	slog.Warn("rate limit exceeded", "ip", c.RealIP(), "path", c.Path())
	setCORSHeaders(c)
	return writeError(c, aierrors.RateLimitExceeded("rate limit exceeded for "+c.RealIP()), chat.RetryReply)
}

// writeError maps err to its status and a client-safe body. A chat 400 carries
// only the reply; other invalid arguments echo their message.
func writeError(c echo.Context, err error, reply string) error {
	code := aierrors.GetCodeFromError(err, aierrors.ErrCodeInternal)
	body := ErrorResponse{Reply: reply}
	switch {
	case code == aierrors.ErrCodeInvalidArgument && reply != "":
	case code == aierrors.ErrCodeInvalidArgument:
		var aiErr *aierrors.AIError
		if errors.As(err, &aiErr) {
			body.Error = aiErr.Message
		}
	default:
		body.Error = shortDiagnostic(code)
	}
	return c.JSON(aierrors.HTTPStatus(code), body)
}

// shortDiagnostic is the only error text a client sees.
func shortDiagnostic(code aierrors.ErrorCode) string {
	switch code {
	case aierrors.ErrCodeLLMUnavailable:
		return "Model provider unavailable"
	case aierrors.ErrCodeTimeout:
		return "Model provider timed out"
	case aierrors.ErrCodeRateLimitExceeded:
		return "Too many requests"
	case aierrors.ErrCodeUnauthorized:
		return "Unauthorized"
	case aierrors.ErrCodeNotFound:
		return "Not found"
	case aierrors.ErrCodeMethodNotAllowed:
		return "Method not allowed"
	default:
		return "Internal server error"
	}
}
