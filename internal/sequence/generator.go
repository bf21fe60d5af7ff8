// Package sequence hands out human-facing document numbers.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DocumentType selects the numbering series.
type DocumentType string

const (
	// Receipt numbers receipts.receipt_no.
	Receipt DocumentType = "receipt"
	// Sale numbers sales.sale_no.
	Sale DocumentType = "sale"
)

// ErrUnknownDocumentType is returned for a type without a numbering series.
var ErrUnknownDocumentType = errors.New("sequence: unknown document type")

type source struct {
	table  string
	column string
}

// sources maps each type to the header column its numbers are stored in. It is used to seed
// the counter so numbering continues above rows written before the counter existed.
var sources = map[DocumentType]source{
	Receipt: {table: "receipts", column: "receipt_no"},
	Sale:    {table: "sales", column: "sale_no"},
}

// Querier is the subset of pgx.Tx used by Next.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Next returns the next number for docType. It must run in the transaction that inserts the
// header: the counter row stays locked until that transaction ends, so concurrent creators
// are serialised and a rollback gives the number back.
func Next(ctx context.Context, q Querier, docType DocumentType) (int64, error) {
	src, ok := sources[docType]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDocumentType, docType)
	}
	query := fmt.Sprintf(`
		INSERT INTO document_sequences (doc_type, last_no)
		VALUES ($1, (SELECT COALESCE(MAX(%[2]s), 0) FROM %[1]s) + 1)
		ON CONFLICT (doc_type) DO UPDATE SET last_no = document_sequences.last_no + 1
		RETURNING last_no`, src.table, src.column)

	var next int64
	if err := q.QueryRow(ctx, query, string(docType)).Scan(&next); err != nil {
		return 0, fmt.Errorf("sequence: next %s: %w", docType, err)
	}
	return next, nil
}
