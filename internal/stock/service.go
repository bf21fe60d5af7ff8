package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/clothstock/internal/observability"
	"github.com/odyssey-erp/clothstock/internal/platform/cache"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Reader is the read side used by Service.
type Reader interface {
	CurrentStock(ctx context.Context, filter Filter) ([]Balance, error)
	AvailableFor(ctx context.Context, pair shared.Pair, excludingSaleID int64) (decimal.Decimal, error)
}

// Service answers stock queries. Listings are cached under a versioned key that document
// writers bump after commit; availability checks always hit the database.
type Service struct {
	reader  Reader
	cache   *cache.Versioned
	metrics *observability.DocumentMetrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewService builds Service. cache and metrics may be nil.
func NewService(reader Reader, c *cache.Versioned, metrics *observability.DocumentMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{reader: reader, cache: c, metrics: metrics, logger: logger}
}

// CurrentStock returns positive balances ordered by material then variant name.
func (s *Service) CurrentStock(ctx context.Context, filter Filter) ([]Balance, error) {
	key, err := s.cache.BuildKey(ctx, "current", idToken(filter.MaterialID), idToken(filter.VariantID))
	if err != nil {
		s.logger.Warn("stock cache key", slog.Any("error", err))
		return s.reader.CurrentStock(ctx, filter)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var balances []Balance
		hit, err := s.cache.FetchJSON(ctx, key, &balances, func(ctx context.Context) (any, error) {
			return s.reader.CurrentStock(ctx, filter)
		})
		if errors.Is(err, cache.ErrStore) {
			s.logger.Warn("stock cache store", slog.String("key", key), slog.Any("error", err))
			err = nil
		}
		if err != nil {
			return nil, err
		}
		if s.cache.Enabled() {
			s.metrics.StockCache(hit)
		}
		return balances, nil
	})
	if err != nil {
		return nil, fmt.Errorf("stock: current: %w", err)
	}
	return v.([]Balance), nil
}

// AvailableFor returns the committed available weight for a pair, adding back the lines of
// excludingSaleID when it is non-zero.
func (s *Service) AvailableFor(ctx context.Context, materialID, variantID, excludingSaleID int64) (decimal.Decimal, error) {
	return s.reader.AvailableFor(ctx, shared.Pair{MaterialID: materialID, VariantID: variantID}, excludingSaleID)
}

// Invalidate drops every cached listing. Failures are logged; the next bump or the TTL
// recovers.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("stock cache bump", slog.Any("error", err))
	}
}

// ListenForInvalidation logs bumps published by other instances. Keys embed the shared
// version, so no local state needs refreshing.
func (s *Service) ListenForInvalidation(ctx context.Context) error {
	return s.cache.Listen(ctx, func(version int64) {
		s.logger.Debug("stock cache version bumped", slog.Int64("version", version))
	})
}

func idToken(id *int64) string {
	if id == nil {
		return "all"
	}
	return strconv.FormatInt(*id, 10)
}
