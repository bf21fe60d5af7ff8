package sale

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/document"
	"github.com/odyssey-erp/clothstock/internal/reconcile"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

// ErrNotFound is returned when a sale does not exist.
var ErrNotFound = fmt.Errorf("sale: %w", shared.ErrNotFound)

// Sale is a persisted sale with its lines and breakup.
type Sale struct {
	ID          int64           `json:"id"`
	SaleNo      int64           `json:"sale_no"`
	Header      document.Header `json:"header"`
	PartyName   string          `json:"party_name"`
	CreatorName string          `json:"creator_name"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Lines       []Line          `json:"lines"`
	Breakup     []Breakup       `json:"breakup"`
}

// Line is one settled line. Amount is always Rate × ActualWeight.
type Line struct {
	LineNo       int             `json:"line_no"`
	MaterialID   int64           `json:"material_id"`
	MaterialName string          `json:"material_name,omitempty"`
	VariantID    int64           `json:"variant_id"`
	VariantName  string          `json:"variant_name,omitempty"`
	Weight       decimal.Decimal `json:"weight"`
	ActualWeight decimal.Decimal `json:"actual_weight"`
	Rate         decimal.Decimal `json:"rate"`
	Amount       decimal.Decimal `json:"amount"`
}

// Pair returns the line's stock bucket.
func (l Line) Pair() shared.Pair {
	return shared.Pair{MaterialID: l.MaterialID, VariantID: l.VariantID}
}

// Breakup is one ledger allocation of the sale amount.
type Breakup struct {
	LineNo int             `json:"line_no"`
	Ledger string          `json:"ledger"`
	Value  decimal.Decimal `json:"value"`
}

// LineInput is a requested sale line. Either VariantID or VariantName is required; a name that
// does not exist yet creates the variant.
type LineInput struct {
	MaterialID   int64           `validate:"required,gt=0"`
	VariantID    int64           `validate:"required_without=VariantName,omitempty,gt=0"`
	VariantName  string          `validate:"required_without=VariantID,omitempty,max=120"`
	Weight       decimal.Decimal `validate:"gte=0"`
	ActualWeight decimal.Decimal `validate:"gte=0"`
	Rate         decimal.Decimal `validate:"gte=0"`
}

// BreakupInput is a requested breakup line.
type BreakupInput struct {
	Ledger string `validate:"required,max=80"`
	Value  decimal.Decimal
}

// Input is the full payload for Create and Update. Lines and Breakup replace any previous set.
type Input struct {
	Header         document.Header
	Lines          []LineInput    `validate:"min=1,dive"`
	Breakup        []BreakupInput `validate:"dive"`
	IdempotencyKey string         `validate:"omitempty,max=120"`
}

// Amount recomputes a line amount.
func Amount(rate, actualWeight decimal.Decimal) decimal.Decimal {
	return rate.Mul(actualWeight)
}

// Settlement is the sale's final amount: the sum of line amounts, every variant included.
func Settlement(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Entries adapts breakup rows for reconciliation.
func Entries(breakup []Breakup) []reconcile.Entry {
	out := make([]reconcile.Entry, len(breakup))
	for i, b := range breakup {
		out[i] = reconcile.Entry{Ledger: b.Ledger, Value: b.Value}
	}
	return out
}

// Requested sums ActualWeight per pair. The first line index of each pair is returned so a
// stock failure can point at it.
func Requested(lines []Line) (map[shared.Pair]decimal.Decimal, map[shared.Pair]int) {
	totals := make(map[shared.Pair]decimal.Decimal)
	first := make(map[shared.Pair]int)
	for i, l := range lines {
		p := l.Pair()
		if _, ok := first[p]; !ok {
			first[p] = i
		}
		totals[p] = totals[p].Add(l.ActualWeight)
	}
	return totals, first
}
