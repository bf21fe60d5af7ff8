package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/clothstock/internal/app"
)

// idempotencyRetention bounds how long processed create keys are remembered.
const idempotencyRetention = 7 * 24 * time.Hour

func runServe(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.stock.ListenForInvalidation(ctx); err != nil {
		logger.Warn("stock cache listener", slog.Any("error", err))
	}
	go pruneIdempotencyKeys(ctx, rt, logger)

	checks := map[string]app.Check{
		"postgres": rt.pool.Ping,
	}
	if rt.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() }
	}

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: rt.metrics,
		Checks:  checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func pruneIdempotencyKeys(ctx context.Context, rt *runtime, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.idempotency.Cleanup(ctx, idempotencyRetention)
			if err != nil {
				logger.Warn("prune idempotency keys", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Info("pruned idempotency keys", slog.Int64("count", n))
			}
		}
	}
}
