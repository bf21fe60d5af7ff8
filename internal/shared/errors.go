package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrInactive indicates a reference to a disabled master record.
	ErrInactive = errors.New("inactive reference")
	// ErrInsufficientStock indicates a movement that would overdraw a stock pair.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnbalancedBreakup indicates breakup values that do not add up to the sale amount.
	ErrUnbalancedBreakup = errors.New("breakup does not balance")
)

// Rule names reported by RuleError.
const (
	RuleValidation = "validation"
	RuleReference  = "reference"
	RuleStock      = "stock"
	RuleBreakup    = "breakup"
	RuleUnique     = "unique"
)

// Pair identifies a stock bucket.
type Pair struct {
	MaterialID int64 `json:"material_id"`
	VariantID  int64 `json:"variant_id"`
}

func (p Pair) String() string {
	return fmt.Sprintf("material %d/variant %d", p.MaterialID, p.VariantID)
}

// RuleError is the single structured failure returned by document operations. Line is the
// zero-based index of the offending line or -1 when the failure is not line specific.
type RuleError struct {
	Rule   string
	Line   int
	Pair   *Pair
	Field  string
	Detail string
	Err    error
}

// NewRuleError builds a document-level RuleError.
func NewRuleError(rule string, err error, detail string) *RuleError {
	return &RuleError{Rule: rule, Line: -1, Detail: detail, Err: err}
}

// AtLine attaches the line index.
func (e *RuleError) AtLine(i int) *RuleError {
	e.Line = i
	return e
}

// ForPair attaches the stock pair.
func (e *RuleError) ForPair(p Pair) *RuleError {
	e.Pair = &p
	return e
}

func (e *RuleError) Error() string {
	var b strings.Builder
	b.WriteString(e.Rule)
	if e.Line >= 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line+1)
	}
	if e.Pair != nil {
		fmt.Fprintf(&b, " [%s]", e.Pair)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " %s", e.Field)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// AsRuleError extracts a RuleError from err.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
