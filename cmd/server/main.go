// filedepot server
//
// Features:
// - Content-addressed file storage (MD5, sharded paths, no overwrites)
// - Multi-backend storage (local, S3, GCS, SFTP)
// - Per-request PostgreSQL sessions with transient-failure retry
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/api"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/registry"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("FILEDEPOT_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.L().Info("filedepot server starting...",
		zap.String("environment", cfg.AppEnvironment),
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("metrics", cfg.Server.MetricsAddr))

	reg, err := registry.New(cfg)
	if err != nil {
		logging.L().Fatal("registry init failed", zap.Error(err))
	}

	srv := api.New(cfg, reg)

	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.L().Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.L().Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.L().Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.L().Error("server shutdown error", zap.Error(err))
		}
		metricsServer.Close()
		if err := reg.Close(shutdownCtx); err != nil {
			logging.L().Error("registry shutdown error", zap.Error(err))
		}
	}()

	logging.L().Info("server listening", zap.String("addr", cfg.Server.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.L().Fatal("server error", zap.Error(err))
	}
}
