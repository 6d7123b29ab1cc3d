// PropNest media server
//
// Features:
// - Profile, property and social media uploads behind one storage gateway
// - Local filesystem or S3-compatible blob storage, chosen at startup
// - JWT bearer auth and per-user upload rate limiting
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/propnest/backend/internal/api"
	"github.com/propnest/backend/internal/auth"
	"github.com/propnest/backend/internal/config"
	"github.com/propnest/backend/internal/logging"
	"github.com/propnest/backend/internal/metrics"
	"github.com/propnest/backend/internal/quota"
	"github.com/propnest/backend/internal/storage"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	if cfg.JWTSecret == "" {
		logging.Fatal("JWT_SECRET is required")
	}

	logging.Info("PropNest media server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("deploy_target", cfg.DeployTarget))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage backend is fixed for the life of the process
	backend, err := storage.NewBackend(ctx, cfg)
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	gateway := storage.NewGateway(backend)
	defer gateway.Close()
	logging.Info("storage backend ready", zap.String("type", backend.Type()))

	authHandler := auth.New(cfg.JWTSecret)
	rateLimiter := quota.NewRateLimiter(cfg.UploadRatePerMinute)
	if rateLimiter.Enabled() {
		logging.Info("upload rate limiting enabled", zap.Int("per_minute", cfg.UploadRatePerMinute))
	}

	srv := api.NewServer(gateway, authHandler, rateLimiter, cfg.MaxUploadSize)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("http shutdown", zap.Error(err))
		}
		metricsServer.Close()
	}()

	// Start periodic rate limiter cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rateLimiter.Cleanup(24 * time.Hour); n > 0 {
					logging.Debug("rate limiter buckets cleaned", zap.Int("count", n))
				}
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	<-stopped
}
