package sale

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/document"
	"github.com/odyssey-erp/clothstock/internal/platform/db"
	"github.com/odyssey-erp/clothstock/internal/sequence"
	"github.com/odyssey-erp/clothstock/internal/shared"
	"github.com/odyssey-erp/clothstock/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Sale, error)
	List(ctx context.Context, filter document.ListFilter, excludeVariantID int64) ([]document.Summary, int, error)
}

// TxRepository exposes the statements a sale write runs inside one transaction.
type TxRepository interface {
	LoadReferences(ctx context.Context, refs document.RefQuery) (document.RefSnapshot, error)
	LockPairs(ctx context.Context, pairs []shared.Pair) error
	AvailableFor(ctx context.Context, pair shared.Pair, excludingSaleID int64) (decimal.Decimal, error)
	NextNumber(ctx context.Context) (int64, error)
	LockSale(ctx context.Context, id int64) error
	InsertSale(ctx context.Context, number int64, h document.Header) (document.Created, error)
	UpdateHeader(ctx context.Context, id int64, h document.Header) error
	ReplaceLines(ctx context.Context, id int64, lines []Line) error
	ReplaceBreakup(ctx context.Context, id int64, breakup []Breakup) error
	DeleteSale(ctx context.Context, id int64) error
}

var table = document.Table{
	Header:       "sales",
	NumberColumn: "sale_no",
	Lines:        "sale_lines",
	LineFK:       "sale_id",
	WeightColumn: "actual_weight",
}

// Repository provides Postgres backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn at read committed; stock rows are serialised by pair locks.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, stock: stock.NewStore(tx)})
	}, db.DocumentTxOptions)
}

// Get loads a sale with its lines and breakup.
func (r *Repository) Get(ctx context.Context, id int64) (Sale, error) {
	return load(ctx, r.pool, id)
}

// List returns one page of sale summaries.
func (r *Repository) List(ctx context.Context, filter document.ListFilter, excludeVariantID int64) ([]document.Summary, int, error) {
	return table.List(ctx, r.pool, filter, excludeVariantID)
}

func load(ctx context.Context, q db.DBTX, id int64) (Sale, error) {
	stored, err := table.Get(ctx, q, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Sale{}, ErrNotFound
	}
	if err != nil {
		return Sale{}, err
	}
	s := Sale{
		ID:          stored.ID,
		SaleNo:      stored.Number,
		Header:      stored.Header,
		PartyName:   stored.PartyName,
		CreatorName: stored.CreatorName,
		CreatedAt:   stored.CreatedAt,
		UpdatedAt:   stored.UpdatedAt,
	}

	rows, err := q.Query(ctx, `
		SELECT l.line_no, l.material_id, m.name, l.variant_id, v.name, l.weight, l.actual_weight, l.rate, l.amount
		FROM sale_lines l
		JOIN materials m ON m.id = l.material_id
		JOIN variants v ON v.id = l.variant_id
		WHERE l.sale_id = $1
		ORDER BY l.line_no`, id)
	if err != nil {
		return Sale{}, fmt.Errorf("sale: load lines: %w", err)
	}
	s.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.LineNo, &l.MaterialID, &l.MaterialName, &l.VariantID, &l.VariantName, &l.Weight, &l.ActualWeight, &l.Rate, &l.Amount)
		return l, err
	})
	if err != nil {
		return Sale{}, fmt.Errorf("sale: scan lines: %w", err)
	}

	rows, err = q.Query(ctx, `SELECT line_no, ledger, value FROM sale_breakups WHERE sale_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return Sale{}, fmt.Errorf("sale: load breakup: %w", err)
	}
	s.Breakup, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Breakup, error) {
		var b Breakup
		err := row.Scan(&b.LineNo, &b.Ledger, &b.Value)
		return b, err
	})
	if err != nil {
		return Sale{}, fmt.Errorf("sale: scan breakup: %w", err)
	}
	return s, nil
}

type txRepo struct {
	tx    pgx.Tx
	stock *stock.Store
}

func (r *txRepo) LoadReferences(ctx context.Context, refs document.RefQuery) (document.RefSnapshot, error) {
	return document.LoadReferences(ctx, r.tx, refs)
}

func (r *txRepo) LockPairs(ctx context.Context, pairs []shared.Pair) error {
	return r.stock.LockPairs(ctx, pairs)
}

func (r *txRepo) AvailableFor(ctx context.Context, pair shared.Pair, excludingSaleID int64) (decimal.Decimal, error) {
	return r.stock.AvailableFor(ctx, pair, excludingSaleID)
}

func (r *txRepo) NextNumber(ctx context.Context) (int64, error) {
	return sequence.Next(ctx, r.tx, sequence.Sale)
}

func (r *txRepo) LockSale(ctx context.Context, id int64) error {
	err := table.Lock(ctx, r.tx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *txRepo) InsertSale(ctx context.Context, number int64, h document.Header) (document.Created, error) {
	return table.Insert(ctx, r.tx, number, h)
}

func (r *txRepo) UpdateHeader(ctx context.Context, id int64, h document.Header) error {
	err := table.UpdateHeader(ctx, r.tx, id, h)
	if errors.Is(err, shared.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *txRepo) ReplaceLines(ctx context.Context, id int64, lines []Line) error {
	if err := table.DeleteLines(ctx, r.tx, id); err != nil {
		return fmt.Errorf("sale: delete lines: %w", err)
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`
			INSERT INTO sale_lines (sale_id, line_no, material_id, variant_id, weight, actual_weight, rate, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, l.LineNo, l.MaterialID, l.VariantID, l.Weight, l.ActualWeight, l.Rate, l.Amount)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return document.MapWriteError(err)
	}
	return nil
}

func (r *txRepo) ReplaceBreakup(ctx context.Context, id int64, breakup []Breakup) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM sale_breakups WHERE sale_id = $1`, id); err != nil {
		return fmt.Errorf("sale: delete breakup: %w", err)
	}
	if len(breakup) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range breakup {
		batch.Queue(`INSERT INTO sale_breakups (sale_id, line_no, ledger, value) VALUES ($1, $2, $3, $4)`,
			id, b.LineNo, b.Ledger, b.Value)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return document.MapWriteError(err)
	}
	return nil
}

func (r *txRepo) DeleteSale(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM sale_breakups WHERE sale_id = $1`, id); err != nil {
		return fmt.Errorf("sale: delete breakup: %w", err)
	}
	if err := table.DeleteLines(ctx, r.tx, id); err != nil {
		return fmt.Errorf("sale: delete lines: %w", err)
	}
	err := table.Delete(ctx, r.tx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
