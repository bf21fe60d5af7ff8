// Package reconcile checks that a sale's breakup accounts for its settled amount exactly.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Entry is one breakup line.
type Entry struct {
	Ledger string          `json:"ledger"`
	Value  decimal.Decimal `json:"value"`
}

// Result describes a comparison between breakup and settlement.
type Result struct {
	Expected   decimal.Decimal `json:"expected"`
	Actual     decimal.Decimal `json:"actual"`
	Difference decimal.Decimal `json:"difference"`
}

// Balanced reports exact equality.
func (r Result) Balanced() bool {
	return r.Difference.IsZero()
}

// Total sums breakup values.
func Total(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Value)
	}
	return total
}

// Compare returns the breakup total against settlement. Difference is actual minus expected.
func Compare(entries []Entry, settlement decimal.Decimal) Result {
	actual := Total(entries)
	return Result{Expected: settlement, Actual: actual, Difference: actual.Sub(settlement)}
}

// Validate rejects a breakup whose values do not sum to settlement. No breakup lines balance
// only a zero settlement.
func Validate(entries []Entry, settlement decimal.Decimal) error {
	res := Compare(entries, settlement)
	if res.Balanced() {
		return nil
	}
	return shared.NewRuleError(shared.RuleBreakup, shared.ErrUnbalancedBreakup,
		fmt.Sprintf("breakup totals %s, sale amount is %s (difference %s)",
			res.Actual.String(), res.Expected.String(), res.Difference.String()))
}
