package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/mirrord/internal/profile"
	"github.com/hrygo/mirrord/plugin/ai"
	"github.com/hrygo/mirrord/plugin/ai/memory"
	"github.com/hrygo/mirrord/plugin/ai/metrics"
	"github.com/hrygo/mirrord/plugin/ai/timeout"
	apiv1 "github.com/hrygo/mirrord/server/router/api/v1"
	"github.com/hrygo/mirrord/server/service/chat"
	"github.com/hrygo/mirrord/server/service/pricing"
	"github.com/hrygo/mirrord/server/timezone"
	"github.com/hrygo/mirrord/store"
)

// rateLimiterIdle is how long a client IP may stay silent before its limiter is dropped.
const rateLimiterIdle = 10 * time.Minute

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer  *echo.Echo
	apiV1       *apiv1.APIV1Service
	ChatService *chat.Service
	extractor   *memory.Extractor
	metrics     *metrics.Service

	runnerCancelFuncs []context.CancelFunc
}

// NewServer wires the services behind the HTTP API.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Store:   store,
		Profile: profile,
	}

	loc, err := timezone.ParseTimezone(profile.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "invalid default timezone")
	}

	catalog, err := pricing.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pricing catalog")
	}

	llmService, err := ai.NewLLMService(ai.NewConfigFromProfile(profile))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create llm service")
	}
	if !profile.IsLLMConfigured() {
		slog.Warn("no LLM API key configured; chat requests will fail until one is set")
	}

	s.metrics = metrics.NewService(metrics.DefaultConfig())
	s.extractor = memory.NewExtractor(store, llmService, s.metrics, memory.Config{
		Slots:   profile.ExtractorSlots,
		Timeout: timeout.ExtractionTimeout,
	})
	s.ChatService = chat.NewService(store, llmService,
		chat.WithExtractor(s.extractor),
		chat.WithMetrics(s.metrics),
		chat.WithDefaultLocation(loc),
	)

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"request_id", v.RequestID,
				"duration_ms", v.Latency.Milliseconds())
			return nil
		},
	}))
	s.echoServer = echoServer

	// Healthz endpoint.
	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	s.apiV1 = apiv1.NewAPIV1Service(profile, store, s.ChatService, catalog, s.metrics)
	s.apiV1.RegisterRoutes(echoServer)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	s.startRunners(ctx)

	go func() {
		s.echoServer.Listener = listener
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, timeout.ShutdownTimeout)
	defer cancel()

	slog.Info("server shutting down")

	// Cancel all background runners
	for _, cancelFunc := range s.runnerCancelFuncs {
		if cancelFunc != nil {
			cancelFunc()
		}
	}

	// Shutdown echo server.
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	// Let in-flight extraction passes save their memories.
	if err := s.extractor.Close(ctx); err != nil {
		slog.Warn("memory extraction did not drain", "error", err)
	}
	s.metrics.Close()

	// Close database connection.
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("server stopped properly")
}

func (s *Server) startRunners(ctx context.Context) {
	runnerCtx, cancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, cancel)

	limiter := s.apiV1.RateLimiter()
	go func() {
		ticker := time.NewTicker(rateLimiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-runnerCtx.Done():
				return
			case <-ticker.C:
				if n := limiter.Prune(rateLimiterIdle); n > 0 {
					slog.Debug("pruned idle rate limiters", "count", n)
				}
			}
		}
	}()
}
