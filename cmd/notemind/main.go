// Package main is the entry point for the NoteMind backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notemind/config"
	"notemind/internal/cache"
	"notemind/internal/core"
	"notemind/internal/credential"
	"notemind/internal/jobsearch"
	"notemind/internal/knowledge"
	"notemind/internal/logging"
	"notemind/internal/ratelimit"
	"notemind/internal/resolve"
	"notemind/internal/server"
	"notemind/internal/transport/gemini"
	"notemind/internal/transport/mockai"
	"notemind/internal/transport/openrouter"
	"notemind/internal/usage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Server.LogLevel)
	slog.Info("starting notemind backend", "port", cfg.Server.Port)

	pool := buildPool(cfg)
	if n := pool.Len(core.BackendGemini); n > 0 {
		slog.Info("gemini credentials loaded", "count", n, "keys", pool.Masked(core.BackendGemini))
	} else if cfg.OpenRouter.APIKey == "" && !cfg.MockAI {
		slog.Warn("no AI provider configured, chat endpoints will answer 503")
	}

	if cfg.Server.MasterKey == "" {
		slog.Warn("MASTER_KEY not set, endpoints are reachable without authentication")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	// Transports. Mock mode substitutes deterministic canned responses for
	// every provider call.
	var geminiTransport, openRouterTransport core.Transport
	if cfg.MockAI {
		slog.Warn("MOCK_AI enabled, all provider calls return canned responses")
		mock := mockai.New()
		geminiTransport, openRouterTransport = mock, mock
		if pool.Len(core.BackendGemini) == 0 {
			pool.Add(core.BackendGemini, "mock-key-0000000000")
		}
	} else {
		geminiTransport = gemini.New(cfg.Gemini.BaseURL)
		if cfg.OpenRouter.APIKey != "" {
			openRouterTransport = openrouter.New(cfg.OpenRouter.BaseURL)
			slog.Info("openrouter enabled", "model", cfg.OpenRouter.Model)
		}
	}

	warmCache := buildWarmupCache(cfg)
	defer func() {
		_ = warmCache.Close() //nolint:errcheck
	}()

	usageLogger, usageClose := buildUsageLogger(cfg)
	defer usageClose()

	engine := resolve.New(resolve.Options{
		Pool:            pool,
		Gemini:          geminiTransport,
		GeminiModels:    resolve.ModelCandidates(core.BackendGemini, cfg.Gemini.ModelOverride),
		OpenRouter:      openRouterTransport,
		OpenRouterKey:   cfg.OpenRouter.APIKey,
		OpenRouterModel: cfg.OpenRouter.Model,
		AttemptTimeout:  cfg.Gemini.AttemptTimeout,
		WarmupCache:     warmCache,
		Attempts:        usageLogger,
	})

	if cfg.Gemini.WarmupEnabled && !cfg.MockAI {
		warmupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		engine.Warmup(warmupCtx)
		cancel()
	}

	kb, err := knowledge.Load(cfg.Knowledge.File)
	if err != nil {
		slog.Error("failed to load knowledge base", "error", err)
		os.Exit(1)
	}
	slog.Info("knowledge base loaded", "documents", kb.Len())

	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if cfg.RateLimit.Enabled {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.PerMinute)
		defer memLimiter.Close()
		limiter = memLimiter
		slog.Info("rate limiting enabled", "per_minute", cfg.RateLimit.PerMinute)
	}

	srv := server.New(server.Deps{
		Engine:    engine,
		Knowledge: kb,
		Jobs:      jobsearch.New(cfg.Jobs.APIKey, cfg.Jobs.BaseURL),
		Limiter:   limiter,
	}, &server.Config{
		MasterKey:      cfg.Server.MasterKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		BodySizeLimit:  cfg.Server.BodySizeLimit,
		MetricsEnabled: cfg.Server.MetricsEnabled,
	})

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}

// buildPool collects the Gemini credentials from every configured slot:
// primary, indexed alternates, then the delimited list.
func buildPool(cfg *config.Config) *credential.Pool {
	pool := credential.NewPool()
	pool.Add(core.BackendGemini, cfg.Gemini.APIKey)
	pool.Add(core.BackendGemini, cfg.Gemini.IndexedKeys...)
	pool.AddList(core.BackendGemini, cfg.Gemini.KeyList, ",")
	return pool
}

// buildWarmupCache picks Redis when configured, otherwise the local file.
func buildWarmupCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedisCache(cache.RedisConfig{URL: cfg.Cache.RedisURL})
		if err == nil {
			slog.Info("warmup cache backend", "type", "redis")
			return rc
		}
		slog.Warn("failed to set up redis cache, falling back to local file", "error", err)
	}
	slog.Info("warmup cache backend", "type", "local", "file", cfg.Cache.File)
	return cache.NewLocalCache(cfg.Cache.File)
}

// buildUsageLogger wires the per-attempt log, or returns a nil sink when
// disabled. The returned func flushes and closes on shutdown.
func buildUsageLogger(cfg *config.Config) (usage.Sink, func()) {
	if !cfg.Usage.Enabled {
		return nil, func() {}
	}

	store, err := usage.NewSQLiteStore(cfg.Usage.SQLitePath, cfg.Usage.RetentionDays)
	if err != nil {
		slog.Warn("failed to open usage store, attempt logging disabled", "error", err)
		return nil, func() {}
	}

	logger := usage.NewLogger(store, usage.Config{
		BufferSize:    cfg.Usage.BufferSize,
		FlushInterval: cfg.Usage.FlushInterval,
	})
	slog.Info("usage logging enabled", "db", cfg.Usage.SQLitePath, "retention_days", cfg.Usage.RetentionDays)

	// Logger.Close flushes remaining records and closes the store.
	return logger, func() {
		if err := logger.Close(); err != nil {
			slog.Error("failed to close usage logger", "error", err)
		}
	}
}
