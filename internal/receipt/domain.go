package receipt

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/document"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

// ErrNotFound is returned when a receipt does not exist.
var ErrNotFound = fmt.Errorf("receipt: %w", shared.ErrNotFound)

// Receipt is a persisted inbound document.
type Receipt struct {
	ID          int64           `json:"id"`
	ReceiptNo   int64           `json:"receipt_no"`
	Header      document.Header `json:"header"`
	PartyName   string          `json:"party_name"`
	CreatorName string          `json:"creator_name"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Lines       []Line          `json:"lines"`
}

// Line is one received weight.
type Line struct {
	LineNo       int             `json:"line_no"`
	MaterialID   int64           `json:"material_id"`
	MaterialName string          `json:"material_name,omitempty"`
	VariantID    int64           `json:"variant_id"`
	VariantName  string          `json:"variant_name,omitempty"`
	Weight       decimal.Decimal `json:"weight"`
}

// Pair returns the line's stock bucket.
func (l Line) Pair() shared.Pair {
	return shared.Pair{MaterialID: l.MaterialID, VariantID: l.VariantID}
}

// LineInput is a requested receipt line.
type LineInput struct {
	MaterialID  int64           `validate:"required,gt=0"`
	VariantID   int64           `validate:"required_without=VariantName,omitempty,gt=0"`
	VariantName string          `validate:"required_without=VariantID,omitempty,max=120"`
	Weight      decimal.Decimal `validate:"gte=0"`
}

// Input is the payload for Create and Update.
type Input struct {
	Header         document.Header
	Lines          []LineInput `validate:"min=1,dive"`
	IdempotencyKey string      `validate:"omitempty,max=120"`
}

// Totals sums weight per pair.
func Totals(lines []Line) map[shared.Pair]decimal.Decimal {
	out := make(map[shared.Pair]decimal.Decimal)
	for _, l := range lines {
		out[l.Pair()] = out[l.Pair()].Add(l.Weight)
	}
	return out
}
