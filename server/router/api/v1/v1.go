package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/mirrord/internal/profile"
	"github.com/hrygo/mirrord/plugin/ai/metrics"
	mirrordmiddleware "github.com/hrygo/mirrord/server/middleware"
	"github.com/hrygo/mirrord/server/service/chat"
	"github.com/hrygo/mirrord/server/service/pricing"
	"github.com/hrygo/mirrord/store"
)

type APIV1Service struct {
	Profile        *profile.Profile
	Store          *store.Store
	ChatService    *chat.Service
	Pricing        *pricing.Catalog
	MetricsService metrics.MetricsService

	// rateLimiter throttles chat requests per client IP.
	rateLimiter *mirrordmiddleware.RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, chatService *chat.Service, catalog *pricing.Catalog, metricsService metrics.MetricsService) *APIV1Service {
	return &APIV1Service{
		Profile:        profile,
		Store:          store,
		ChatService:    chatService,
		Pricing:        catalog,
		MetricsService: metricsService,
		rateLimiter:    mirrordmiddleware.NewRateLimiter(),
	}
}

// RateLimiter returns the limiter guarding the chat endpoint.
func (s *APIV1Service) RateLimiter() *mirrordmiddleware.RateLimiter {
	return s.rateLimiter
}

// RegisterRoutes registers the HTTP API with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	// Preflight for the chat endpoint is answered by its handler with 200.
	corsMiddleware := middleware.CORSWithConfig(middleware.CORSConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().Method == http.MethodOptions && c.Path() == ChatPath
		},
		AllowOrigins:     []string{"*"},
		AllowMethods:     corsAllowMethods,
		AllowHeaders:     corsAllowHeaders,
		AllowCredentials: true,
	})

	apiGroup := echoServer.Group("/api", corsMiddleware)
	apiGroup.Any("/chat", s.HandleChat, s.rateLimiter.Middleware(s.rateLimited))
	apiGroup.POST("/subscription", s.UpdateSubscription)
	apiGroup.GET("/v1/system/metrics/overview", s.GetMetricsOverview)
}
