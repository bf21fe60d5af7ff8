package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	"github.com/odyssey-erp/clothstock/internal/app"
	"github.com/odyssey-erp/clothstock/internal/platform/cache"
	"github.com/odyssey-erp/clothstock/internal/platform/db"
)

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: 2, ConnectTimeout: 10 * time.Second})
	if err != nil {
		return err
	}
	defer pool.Close()

	var locker *redislock.Client
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, migrating without cross-instance lock", slog.Any("error", err))
	} else {
		defer redisClient.Close()
		locker = redislock.New(redisClient)
	}

	return db.NewMigrator(pool, locker, cfg.MigrateLockTTL, logger).Apply(ctx)
}
