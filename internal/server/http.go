package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notemind/config"
	"notemind/internal/core"
	"notemind/internal/ratelimit"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey      string   // Optional: master key for authentication
	AllowedOrigins []string // CORS allowlist
	BodySizeLimit  int64    // Max request body size in bytes (default: 10MB)
	MetricsEnabled bool     // Whether to expose the Prometheus metrics endpoint
}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(deps)

	// Paths that skip authentication
	authSkipPaths := []string{"/", "/health", "/metrics"}

	// Global middleware stack (order matters)
	e.Use(requestIDMiddleware())
	e.Use(requestLoggerMiddleware())
	e.Use(middleware.Recover())

	origins := []string{"http://localhost:3000"}
	if cfg != nil && len(cfg.AllowedOrigins) > 0 {
		origins = cfg.AllowedOrigins
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowCredentials: true,
	}))

	bodySizeLimit := config.DefaultBodySizeLimit
	if cfg != nil && cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg != nil && cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	// Public routes
	e.GET("/", handler.Root)
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	// Generation routes carry the per-caller rate limit.
	limited := rateLimitMiddleware(deps.Limiter)
	e.POST("/chat", handler.Chat, limited)
	e.GET("/chat-stream", handler.ChatStream, limited)

	// Auxiliary routes
	e.POST("/upload", handler.Upload)
	e.POST("/search", handler.SearchKnowledge)
	e.POST("/calculate", handler.Calculate)
	e.GET("/jobs", handler.Jobs)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// requestIDMiddleware assigns each request a uuid, exposed both as the
// X-Request-Id response header and through the request context for log and
// usage-record correlation.
func requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			req := c.Request()
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
			return next(c)
		}
	}
}

func requestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.Round(time.Millisecond),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
				slog.Warn("request", attrs...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	})
}

// rateLimitMiddleware rejects callers over their per-minute budget. Keyed by
// client IP: the public surface has no per-user identity of its own.
func rateLimitMiddleware(limiter ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter != nil && !limiter.Allow(c.RealIP()) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "too many requests, slow down",
				})
			}
			return next(c)
		}
	}
}
