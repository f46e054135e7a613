package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amartya2002/uptime-monitor/checks"
	"github.com/amartya2002/uptime-monitor/config"
	"github.com/amartya2002/uptime-monitor/internal/api"
	"github.com/amartya2002/uptime-monitor/logstore"
	"github.com/amartya2002/uptime-monitor/notify"
	"github.com/amartya2002/uptime-monitor/store"
	"github.com/amartya2002/uptime-monitor/store/filestore"
	"github.com/amartya2002/uptime-monitor/store/sqlite"
	"github.com/amartya2002/uptime-monitor/uptime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "uptimed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Canceled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	records, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	logs, err := logstore.New(filepath.Join(cfg.DataDir, "logs"))
	if err != nil {
		return fmt.Errorf("open log store: %w", err)
	}
	repo := checks.NewRepository(records, checks.Schema{OwnerIDLength: cfg.OwnerIDLength}, logs)

	opts := []uptime.Option{
		uptime.WithLogLevel(cfg.LogLevel),
		uptime.WithCheckInterval(cfg.CheckInterval),
		uptime.WithRotationInterval(cfg.RotationInterval),
		uptime.WithMaxConcurrentCycles(cfg.MaxConcurrentCycles),
		uptime.WithAlertPrefix(cfg.AlertPrefix),
	}
	if cfg.LogFile != "" {
		opts = append(opts, uptime.LogFile(cfg.LogFile))
	}
	if gw := gateway(cfg); gw != nil {
		opts = append(opts, uptime.WithGateway(gw))
	}
	monitor := uptime.New(repo, logs, opts...)
	logger := monitor.Logger().With(zap.String("env", cfg.Env))

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.NewHandler(repo, monitor, logs, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	monitor.Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Admin API listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		logger.Error("Admin API failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	shutdownErr := server.Shutdown(shutdownCtx)

	// Stop after the API so no trigger arrives while cycles are drained.
	monitor.Stop()

	if shutdownErr != nil {
		return fmt.Errorf("http server shutdown: %w", shutdownErr)
	}
	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		s, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		s, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return s, nil
	}
}

// gateway picks the alert channel: SMS when Twilio is configured, then a
// webhook. nil leaves the monitor logging alerts only.
func gateway(cfg *config.Config) notify.Gateway {
	switch {
	case cfg.Twilio.Enabled():
		return notify.NewTwilio(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromPhone)
	case cfg.WebhookURL != "":
		return notify.NewWebhook(cfg.WebhookURL)
	default:
		return nil
	}
}
