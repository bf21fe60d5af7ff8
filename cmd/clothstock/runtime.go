package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/clothstock/internal/app"
	"github.com/odyssey-erp/clothstock/internal/masterdata"
	"github.com/odyssey-erp/clothstock/internal/observability"
	"github.com/odyssey-erp/clothstock/internal/platform/cache"
	"github.com/odyssey-erp/clothstock/internal/platform/db"
	"github.com/odyssey-erp/clothstock/internal/receipt"
	"github.com/odyssey-erp/clothstock/internal/report"
	"github.com/odyssey-erp/clothstock/internal/sale"
	"github.com/odyssey-erp/clothstock/internal/shared"
	"github.com/odyssey-erp/clothstock/internal/stock"
)

const stockCacheNamespace = "clothstock:stock"

// runtime holds the connections and services every command shares.
type runtime struct {
	logger  *slog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	metrics *observability.Metrics

	idempotency *shared.IdempotencyStore
	masterdata  *masterdata.Service
	stock       *stock.Service
	receipts    *receipt.Service
	sales       *sale.Service
	reports     *report.Service
}

// newRuntime connects to Postgres and, when reachable, Redis. Without Redis the stock cache is
// disabled and every listing reads Postgres.
func newRuntime(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*runtime, error) {
	pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, ConnectTimeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stock cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	rt := &runtime{logger: logger, pool: pool, redis: redisClient, metrics: observability.NewMetrics()}
	docMetrics := rt.metrics.Documents()

	audit := shared.NewAuditLogger(pool)
	idem := shared.NewIdempotencyStore(pool)
	rt.idempotency = idem

	rt.masterdata = masterdata.NewService(masterdata.NewRepository(pool), audit, logger)
	rt.stock = stock.NewService(stock.NewStore(pool), cache.NewVersioned(redisClient, stockCacheNamespace, cfg.StockCacheTTL), docMetrics, logger)
	rt.receipts = receipt.NewService(receipt.NewRepository(pool), rt.masterdata, rt.stock, audit, idem, docMetrics,
		receipt.Config{PerPage: cfg.ListPageSize}, logger)
	rt.sales = sale.NewService(sale.NewRepository(pool), rt.masterdata, rt.stock, audit, idem, docMetrics,
		sale.Config{NonCountableVariantID: cfg.NonCountableVariantID, PerPage: cfg.ListPageSize}, logger)
	rt.reports = report.NewService(rt.sales, rt.masterdata, rt.stock,
		report.Config{NonCountableVariantID: cfg.NonCountableVariantID, PerPage: cfg.ListPageSize})
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	rt.pool.Close()
}
