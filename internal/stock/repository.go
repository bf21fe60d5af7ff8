package stock

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/platform/db"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Store reads the stock_balances view. Construct it over a pgx.Tx to read and lock inside a
// document transaction, or over the pool for listings.
type Store struct {
	db db.DBTX
}

// NewStore constructs Store.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// CurrentStock lists every pair with positive weight, ordered by material then variant name.
func (s *Store) CurrentStock(ctx context.Context, filter Filter) ([]Balance, error) {
	conditions := []string{"sb.weight > 0"}
	var args []any
	if filter.MaterialID != nil {
		args = append(args, *filter.MaterialID)
		conditions = append(conditions, "sb.material_id = $"+strconv.Itoa(len(args)))
	}
	if filter.VariantID != nil {
		args = append(args, *filter.VariantID)
		conditions = append(conditions, "sb.variant_id = $"+strconv.Itoa(len(args)))
	}
	query := `
		SELECT sb.material_id, m.name, sb.variant_id, v.name, sb.weight
		FROM stock_balances sb
		JOIN materials m ON m.id = sb.material_id
		JOIN variants v ON v.id = sb.variant_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY m.name ASC, v.name ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stock: current: %w", err)
	}
	defer rows.Close()

	balances := []Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.MaterialID, &b.MaterialName, &b.VariantID, &b.VariantName, &b.Weight); err != nil {
			return nil, fmt.Errorf("stock: scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// AvailableFor returns received minus sold weight for pair. Lines of excludingSaleID are left
// out so a sale being edited gets its own prior consumption back. Pass 0 to exclude nothing.
// The result is not clamped and may be negative.
func (s *Store) AvailableFor(ctx context.Context, pair shared.Pair, excludingSaleID int64) (decimal.Decimal, error) {
	const query = `
		SELECT
			COALESCE((SELECT SUM(weight) FROM receipt_lines WHERE material_id = $1 AND variant_id = $2), 0)
			- COALESCE((SELECT SUM(actual_weight) FROM sale_lines WHERE material_id = $1 AND variant_id = $2 AND sale_id <> $3), 0)`
	var available decimal.Decimal
	if err := s.db.QueryRow(ctx, query, pair.MaterialID, pair.VariantID, excludingSaleID).Scan(&available); err != nil {
		return decimal.Zero, fmt.Errorf("stock: available for %s: %w", pair, err)
	}
	return available, nil
}

// LockPairs takes a transaction-scoped advisory lock per distinct pair. Locks are taken in
// ascending pair order so two writers touching overlapping pairs cannot deadlock.
func (s *Store) LockPairs(ctx context.Context, pairs []shared.Pair) error {
	for _, p := range SortedPairs(pairs) {
		if _, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(p)); err != nil {
			return fmt.Errorf("stock: lock %s: %w", p, err)
		}
	}
	return nil
}

func lockKey(p shared.Pair) string {
	return "stock:" + strconv.FormatInt(p.MaterialID, 10) + ":" + strconv.FormatInt(p.VariantID, 10)
}
