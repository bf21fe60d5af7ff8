// Package document holds the pieces shared by receipt and sale documents: header shape,
// reference checks, listing and input validation.
package document

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Column is the NUMERIC(precision, scale) a decimal input is stored in.
type Column struct {
	Precision int32
	Scale     int32
}

// Stored column shapes.
var (
	WeightColumn = Column{Precision: 14, Scale: 3}
	RateColumn   = Column{Precision: 14, Scale: 2}
	ValueColumn  = Column{Precision: 28, Scale: 5}
)

// Limit is the smallest magnitude the column cannot hold.
func (c Column) Limit() decimal.Decimal {
	return decimal.New(1, c.Precision-c.Scale)
}

// Header carries the fields common to receipt and sale headers.
type Header struct {
	RefNo     string    `json:"ref_no" validate:"required,max=60"`
	RefDate   time.Time `json:"ref_date" validate:"required"`
	PartyID   int64     `json:"party_id" validate:"required,gt=0"`
	Remarks   string    `json:"remarks" validate:"max=500"`
	CreatorID int64     `json:"creator_id" validate:"required,gt=0"`
}

// Created is returned by Create.
type Created struct {
	ID        int64     `json:"id"`
	Number    int64     `json:"number"`
	CreatedAt time.Time `json:"created_at"`
}

// Stored is a persisted header with resolved names.
type Stored struct {
	ID          int64     `json:"id"`
	Number      int64     `json:"number"`
	Header      Header    `json:"header"`
	PartyName   string    `json:"party_name"`
	CreatorName string    `json:"creator_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary is one row of a document listing.
type Summary struct {
	ID          int64           `json:"id"`
	Number      int64           `json:"number"`
	RefDate     time.Time       `json:"ref_date"`
	RefNo       string          `json:"ref_no"`
	PartyID     int64           `json:"party_id"`
	PartyName   string          `json:"party_name"`
	Remarks     string          `json:"remarks"`
	CreatorName string          `json:"creator_name"`
	TotalWeight decimal.Decimal `json:"total_weight"`
}

// ListFilter narrows document listings. Query matches the document number, the reference
// number or the party name.
type ListFilter struct {
	Query    string
	PartyID  *int64
	DateFrom *time.Time
	DateTo   *time.Time
	Page     shared.PageRequest
}

// Page is one page of summaries.
type Page struct {
	Items      []Summary         `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// VariantResolver creates variants named inline on a document line.
type VariantResolver interface {
	EnsureVariant(ctx context.Context, name string, ownerID int64) (int64, error)
}

// ResolveVariant returns id when set, otherwise the id of the variant called name.
func ResolveVariant(ctx context.Context, r VariantResolver, id int64, name string, ownerID int64, line int) (int64, error) {
	if id > 0 || name == "" {
		return id, nil
	}
	if r == nil {
		re := shared.NewRuleError(shared.RuleReference, shared.ErrNotFound, "variant must be referenced by id").AtLine(line)
		re.Field = "VariantID"
		return 0, re
	}
	resolved, err := r.EnsureVariant(ctx, name, ownerID)
	if err != nil {
		if re, ok := shared.AsRuleError(err); ok {
			return 0, re.AtLine(line)
		}
		return 0, fmt.Errorf("document: ensure variant %q: %w", name, err)
	}
	return resolved, nil
}

// NewValidator returns a validator that understands decimal.Decimal fields, so numeric tags
// such as gte=0 apply to them.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// CheckNumeric rejects a value the column cannot store exactly: more fractional digits than
// its scale, which the database would round, or a magnitude beyond its precision.
func CheckNumeric(d decimal.Decimal, col Column, field string, line int) error {
	var detail string
	switch {
	case d.Exponent() < -col.Scale && !d.Equal(d.Truncate(col.Scale)):
		detail = fmt.Sprintf("at most %d decimal places", col.Scale)
	case d.Abs().GreaterThanOrEqual(col.Limit()):
		detail = fmt.Sprintf("absolute value must be less than %s", col.Limit().String())
	default:
		return nil
	}
	re := shared.NewRuleError(shared.RuleValidation, shared.ErrValidation, detail).AtLine(line)
	re.Field = field
	return re
}
