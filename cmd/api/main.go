package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"habitat-backend/internal/bootstrap"
	"habitat-backend/internal/shared/config"
	"habitat-backend/internal/shared/server"
	"habitat-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleAPI)
	if err != nil {
		telemetry.Error("api.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		telemetry.Info("api.listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return app.Reaper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		telemetry.Info("api.shutting_down", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		if err := app.Pool.Shutdown(shutdownCtx); err != nil {
			telemetry.Warn("api.drain_incomplete", map[string]any{"error": err.Error()})
		}
		return httpErr
	})

	if err := g.Wait(); err != nil {
		telemetry.Error("api.stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	telemetry.Info("api.stopped", nil)
}
