package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-dispatch/internal/app"
	"github.com/example/ride-dispatch/internal/config"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()

	// With Kafka configured the consumer runs the triggers.
	if !cfg.KafkaEnabled() {
		a.RegisterTriggers(a.Bus)
	}

	if cfg.ScheduleEnabled {
		runs := schedule.ForSlots(cfg.ScheduleSlots(), cfg.Location(), func(ctx context.Context, label string) error {
			_, _, err := a.Importer.RunScheduled(ctx, label)
			return err
		}, logger)
		for _, d := range runs {
			go func(d *schedule.Daily) { _ = d.Run(ctx) }(d)
		}
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(a.Importer, a.WS, cfg.AdminToken, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}()

	logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "kafka", cfg.KafkaEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server stopped", "error", err)
	}
}
