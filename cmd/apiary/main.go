package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/apiary/api"
	"github.com/use-agent/apiary/config"
	"github.com/use-agent/apiary/dispatch"
	"github.com/use-agent/apiary/respond"
	"github.com/use-agent/apiary/scraper"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("apiary starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
	)

	// ── 3. Response correlator ──────────────────────────────────────
	correlator := respond.NewCorrelator()

	// ── 4. Worker pool registry ─────────────────────────────────────
	// Each distinct execution configuration gets its own engine (browser
	// plus HTTP fetcher) wrapped in a pool; the factory runs at most once
	// per configuration.
	registry := dispatch.NewRegistry(func(execCfg dispatch.ExecConfig) (*dispatch.Pool, error) {
		eng, err := scraper.NewEngine(cfg.Browser, cfg.Scrape, resolveProxy(execCfg, cfg.Proxy), correlator)
		if err != nil {
			return nil, err
		}
		return dispatch.NewPool(dispatch.PoolConfig{
			Workers:    cfg.Pool.Workers,
			QueueSize:  cfg.Pool.QueueSize,
			MaxRetries: cfg.Pool.MaxRetries,
			Pace:       execCfg.PaceInterval,
		}, eng.Run, eng.Fail, eng.Close), nil
	})

	// Warm the common pools so the first request does not pay browser
	// launch latency.
	registry.Prewarm(
		dispatch.ExecConfig{PaceInterval: cfg.Pool.Pace},
		dispatch.ExecConfig{ProxyGroup: dispatch.ProxyGroupResidential, PaceInterval: cfg.Pool.Pace},
	)

	// ── 5. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(registry, correlator, cfg, startTime)

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Resolve every pending request with a timeout error so blocked
	// callers unblock, then drain the HTTP server and the pools.
	correlator.TimeoutAll(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	registry.Close()
	slog.Info("apiary stopped")
}

// resolveProxy picks the proxy endpoint for an execution configuration.
// An explicit caller-supplied proxy wins over the configured groups.
func resolveProxy(execCfg dispatch.ExecConfig, proxies config.ProxyConfig) string {
	if len(execCfg.ProxyURLs) > 0 {
		return execCfg.ProxyURLs[0]
	}
	switch execCfg.ProxyGroup {
	case dispatch.ProxyGroupResidential:
		return proxies.ResidentialURL
	case dispatch.ProxyGroupGoogleSERP:
		return proxies.GoogleURL
	default:
		return proxies.DefaultURL
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
