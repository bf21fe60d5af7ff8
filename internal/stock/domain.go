// Package stock derives available weight per (material, variant) pair from the receipt and
// sale ledgers.
package stock

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Balance is the available weight of one pair.
type Balance struct {
	MaterialID   int64           `json:"material_id"`
	MaterialName string          `json:"material_name"`
	VariantID    int64           `json:"variant_id"`
	VariantName  string          `json:"variant_name"`
	Weight       decimal.Decimal `json:"weight"`
}

// Pair returns the balance's stock bucket.
func (b Balance) Pair() shared.Pair {
	return shared.Pair{MaterialID: b.MaterialID, VariantID: b.VariantID}
}

// Filter narrows CurrentStock to a material and/or a variant.
type Filter struct {
	MaterialID *int64
	VariantID  *int64
}

// Match reports whether p passes the filter.
func (f Filter) Match(p shared.Pair) bool {
	if f.MaterialID != nil && *f.MaterialID != p.MaterialID {
		return false
	}
	if f.VariantID != nil && *f.VariantID != p.VariantID {
		return false
	}
	return true
}

// SortBalances orders balances by material name, then variant name. Listings are always
// returned in this order.
func SortBalances(balances []Balance) {
	sort.SliceStable(balances, func(i, j int) bool {
		if balances[i].MaterialName != balances[j].MaterialName {
			return balances[i].MaterialName < balances[j].MaterialName
		}
		return balances[i].VariantName < balances[j].VariantName
	})
}

// SortedPairs returns the distinct pairs in ascending (material, variant) order, the order in
// which pair locks are taken.
func SortedPairs(pairs []shared.Pair) []shared.Pair {
	seen := make(map[shared.Pair]struct{}, len(pairs))
	out := make([]shared.Pair, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaterialID != out[j].MaterialID {
			return out[i].MaterialID < out[j].MaterialID
		}
		return out[i].VariantID < out[j].VariantID
	})
	return out
}
