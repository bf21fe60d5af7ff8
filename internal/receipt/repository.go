package receipt

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
	Get(ctx context.Context, id int64) (Receipt, error)
	List(ctx context.Context, filter document.ListFilter) ([]document.Summary, int, error)
}

// TxRepository exposes the statements a receipt write runs inside one transaction.
type TxRepository interface {
	LoadReferences(ctx context.Context, refs document.RefQuery) (document.RefSnapshot, error)
	LockPairs(ctx context.Context, pairs []shared.Pair) error
	Available(ctx context.Context, pair shared.Pair) (decimal.Decimal, error)
	NextNumber(ctx context.Context) (int64, error)
	LockReceipt(ctx context.Context, id int64) ([]Line, error)
	InsertReceipt(ctx context.Context, number int64, h document.Header) (document.Created, error)
	UpdateHeader(ctx context.Context, id int64, h document.Header) error
	ReplaceLines(ctx context.Context, id int64, lines []Line) error
	DeleteReceipt(ctx context.Context, id int64) error
}

var table = document.Table{
	Header:       "receipts",
	NumberColumn: "receipt_no",
	Lines:        "receipt_lines",
	LineFK:       "receipt_id",
	WeightColumn: "weight",
}

// Repository provides Postgres backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a document transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, stock: stock.NewStore(tx)})
	}, db.DocumentTxOptions)
}

// Get loads a receipt and its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Receipt, error) {
	stored, err := table.Get(ctx, r.pool, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Receipt{}, ErrNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	lines, err := loadLines(ctx, r.pool, id)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		ID:          stored.ID,
		ReceiptNo:   stored.Number,
		Header:      stored.Header,
		PartyName:   stored.PartyName,
		CreatorName: stored.CreatorName,
		CreatedAt:   stored.CreatedAt,
		UpdatedAt:   stored.UpdatedAt,
		Lines:       lines,
	}, nil
}

// List returns one page of receipt summaries.
func (r *Repository) List(ctx context.Context, filter document.ListFilter) ([]document.Summary, int, error) {
	return table.List(ctx, r.pool, filter, 0)
}

func loadLines(ctx context.Context, q db.DBTX, id int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT l.line_no, l.material_id, m.name, l.variant_id, v.name, l.weight
		FROM receipt_lines l
		JOIN materials m ON m.id = l.material_id
		JOIN variants v ON v.id = l.variant_id
		WHERE l.receipt_id = $1
		ORDER BY l.line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("receipt: load lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.LineNo, &l.MaterialID, &l.MaterialName, &l.VariantID, &l.VariantName, &l.Weight)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("receipt: scan lines: %w", err)
	}
	return lines, nil
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

func (r *txRepo) Available(ctx context.Context, pair shared.Pair) (decimal.Decimal, error) {
	return r.stock.AvailableFor(ctx, pair, 0)
}

func (r *txRepo) NextNumber(ctx context.Context) (int64, error) {
	return sequence.Next(ctx, r.tx, sequence.Receipt)
}

// LockReceipt row-locks the header and returns the lines currently stored.
func (r *txRepo) LockReceipt(ctx context.Context, id int64) ([]Line, error) {
	if err := table.Lock(ctx, r.tx, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return loadLines(ctx, r.tx, id)
}

func (r *txRepo) InsertReceipt(ctx context.Context, number int64, h document.Header) (document.Created, error) {
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
		return fmt.Errorf("receipt: delete lines: %w", err)
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`
			INSERT INTO receipt_lines (receipt_id, line_no, material_id, variant_id, weight)
			VALUES ($1, $2, $3, $4, $5)`,
			id, l.LineNo, l.MaterialID, l.VariantID, l.Weight)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return document.MapWriteError(err)
	}
	return nil
}

func (r *txRepo) DeleteReceipt(ctx context.Context, id int64) error {
	if err := table.DeleteLines(ctx, r.tx, id); err != nil {
		return fmt.Errorf("receipt: delete lines: %w", err)
	}
	err := table.Delete(ctx, r.tx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
