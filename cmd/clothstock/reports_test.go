package main

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clothstock/internal/reconcile"
	"github.com/odyssey-erp/clothstock/internal/report"
	"github.com/odyssey-erp/clothstock/internal/shared"
	"github.com/odyssey-erp/clothstock/internal/stock"
)

func TestPrintStock(t *testing.T) {
	p := shared.NewPagination(2, 10, 11)
	rep := report.StockReport{
		Rows:        []stock.Balance{{MaterialName: "Cotton", VariantName: "Red", Weight: decimal.RequireFromString("12.5")}},
		TotalWeight: decimal.RequireFromString("40"),
		Pagination:  &p,
	}
	var buf bytes.Buffer
	require.NoError(t, printStock(&buf, rep))

	out := buf.String()
	assert.Contains(t, out, "Cotton")
	assert.Contains(t, out, "12.500")
	assert.Contains(t, out, "40.000")
	assert.Contains(t, out, "page 2 of 2 (11 rows)")
}

func TestPrintVariation(t *testing.T) {
	v := report.Variation{
		SaleID:           4,
		DeclaredWeight:   decimal.NewFromInt(15),
		DeclaredAmount:   decimal.NewFromInt(75),
		FinalWeight:      decimal.NewFromInt(12),
		FinalAmount:      decimal.NewFromInt(85),
		PerLineVariation: []decimal.Decimal{decimal.NewFromInt(2), decimal.Zero, decimal.RequireFromString("-0.5")},
	}
	var buf bytes.Buffer
	require.NoError(t, printVariation(&buf, v))

	out := buf.String()
	assert.Contains(t, out, "85.00")
	assert.Contains(t, out, "+2.000")
	assert.Contains(t, out, "-0.500")
	assert.NotContains(t, out, "+0.000")
}

func TestPrintReconcile(t *testing.T) {
	var buf bytes.Buffer
	res := reconcile.Result{
		Expected:   decimal.NewFromInt(85),
		Actual:     decimal.NewFromInt(80),
		Difference: decimal.NewFromInt(-5),
	}
	require.NoError(t, printReconcile(&buf, 4, res))
	assert.Equal(t, "sale 4 unbalanced: breakup 80, amount 85, difference -5\n", buf.String())
}

func TestParseSaleID(t *testing.T) {
	id, err := parseSaleID("variation", []string{"-sale", "9"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	_, err = parseSaleID("variation", nil)
	assert.Error(t, err)
}
