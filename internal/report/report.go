// Package report builds read-only projections over committed sales and stock. Nothing here
// writes.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clothstock/internal/masterdata"
	"github.com/odyssey-erp/clothstock/internal/sale"
	"github.com/odyssey-erp/clothstock/internal/shared"
	"github.com/odyssey-erp/clothstock/internal/stock"
)

// SaleReader loads persisted sales.
type SaleReader interface {
	Get(ctx context.Context, id int64) (sale.Sale, error)
}

// PartyReader loads party details for invoices.
type PartyReader interface {
	GetParty(ctx context.Context, id int64) (masterdata.Party, error)
}

// StockReader lists current balances.
type StockReader interface {
	CurrentStock(ctx context.Context, filter stock.Filter) ([]stock.Balance, error)
}

// Config groups projector settings.
type Config struct {
	NonCountableVariantID int64
	PerPage               int
}

// Service projects reports.
type Service struct {
	sales   SaleReader
	parties PartyReader
	stock   StockReader
	cfg     Config
}

// NewService constructs Service.
func NewService(sales SaleReader, parties PartyReader, stock StockReader, cfg Config) *Service {
	return &Service{sales: sales, parties: parties, stock: stock, cfg: cfg}
}

// Variation compares what was dispatched with what was settled.
type Variation struct {
	SaleID           int64             `json:"sale_id"`
	DeclaredWeight   decimal.Decimal   `json:"declared_weight"`
	DeclaredAmount   decimal.Decimal   `json:"declared_amount"`
	FinalWeight      decimal.Decimal   `json:"final_weight"`
	FinalAmount      decimal.Decimal   `json:"final_amount"`
	PerLineVariation []decimal.Decimal `json:"per_line_variation"`
}

// Variation loads a sale and projects its variation.
func (s *Service) Variation(ctx context.Context, saleID int64) (Variation, error) {
	sl, err := s.sales.Get(ctx, saleID)
	if err != nil {
		return Variation{}, err
	}
	v := ComputeVariation(sl.Lines, s.cfg.NonCountableVariantID)
	v.SaleID = sl.ID
	return v, nil
}

// ComputeVariation derives the variation from stored lines. Lines of nonCountable are left
// out of FinalWeight only.
func ComputeVariation(lines []sale.Line, nonCountable int64) Variation {
	v := Variation{
		DeclaredWeight:   decimal.Zero,
		DeclaredAmount:   decimal.Zero,
		FinalWeight:      decimal.Zero,
		FinalAmount:      decimal.Zero,
		PerLineVariation: make([]decimal.Decimal, len(lines)),
	}
	for i, l := range lines {
		v.DeclaredWeight = v.DeclaredWeight.Add(l.Weight)
		v.DeclaredAmount = v.DeclaredAmount.Add(l.Weight.Mul(l.Rate))
		if nonCountable == 0 || l.VariantID != nonCountable {
			v.FinalWeight = v.FinalWeight.Add(l.ActualWeight)
		}
		v.FinalAmount = v.FinalAmount.Add(l.Amount)
		v.PerLineVariation[i] = l.ActualWeight.Sub(l.Weight)
	}
	return v
}

// InvoiceItem is one printed line.
type InvoiceItem struct {
	LineNo       int             `json:"line_no"`
	Material     string          `json:"material"`
	Variant      string          `json:"variant"`
	ActualWeight decimal.Decimal `json:"actual_weight"`
	Rate         decimal.Decimal `json:"rate"`
	Amount       decimal.Decimal `json:"amount"`
}

// Invoice is the printable view of a sale.
type Invoice struct {
	SaleNo       int64            `json:"sale_no"`
	RefNo        string           `json:"ref_no"`
	RefDate      time.Time        `json:"ref_date"`
	Remarks      string           `json:"remarks"`
	CreatorName  string           `json:"creator_name"`
	Party        masterdata.Party `json:"party"`
	Items        []InvoiceItem    `json:"items"`
	Breakup      []sale.Breakup   `json:"breakup"`
	TotalWeight  decimal.Decimal  `json:"total_weight"`
	TotalAmount  decimal.Decimal  `json:"total_amount"`
	BreakupTotal decimal.Decimal  `json:"breakup_total"`
}

// Invoice assembles the invoice of a sale with its party details.
func (s *Service) Invoice(ctx context.Context, saleID int64) (Invoice, error) {
	sl, err := s.sales.Get(ctx, saleID)
	if err != nil {
		return Invoice{}, err
	}
	party, err := s.parties.GetParty(ctx, sl.Header.PartyID)
	if err != nil {
		return Invoice{}, fmt.Errorf("report: invoice party: %w", err)
	}
	variation := ComputeVariation(sl.Lines, s.cfg.NonCountableVariantID)

	inv := Invoice{
		SaleNo:       sl.SaleNo,
		RefNo:        sl.Header.RefNo,
		RefDate:      sl.Header.RefDate,
		Remarks:      sl.Header.Remarks,
		CreatorName:  sl.CreatorName,
		Party:        party,
		Items:        make([]InvoiceItem, len(sl.Lines)),
		Breakup:      sl.Breakup,
		TotalWeight:  variation.FinalWeight,
		TotalAmount:  variation.FinalAmount,
		BreakupTotal: decimal.Zero,
	}
	for i, l := range sl.Lines {
		inv.Items[i] = InvoiceItem{
			LineNo:       l.LineNo,
			Material:     l.MaterialName,
			Variant:      l.VariantName,
			ActualWeight: l.ActualWeight,
			Rate:         l.Rate,
			Amount:       l.Amount,
		}
	}
	for _, b := range sl.Breakup {
		inv.BreakupTotal = inv.BreakupTotal.Add(b.Value)
	}
	return inv, nil
}

// StockReport is a listing of positive balances.
type StockReport struct {
	Rows        []stock.Balance    `json:"rows"`
	TotalWeight decimal.Decimal    `json:"total_weight"`
	Pagination  *shared.Pagination `json:"pagination,omitempty"`
}

// StockReport returns every positive balance when all is set, otherwise the requested page.
// TotalWeight always covers every row.
func (s *Service) StockReport(ctx context.Context, all bool, page int) (StockReport, error) {
	rows, err := s.stock.CurrentStock(ctx, stock.Filter{})
	if err != nil {
		return StockReport{}, err
	}
	report := StockReport{TotalWeight: decimal.Zero}
	for _, r := range rows {
		report.TotalWeight = report.TotalWeight.Add(r.Weight)
	}
	if all {
		report.Rows = rows
		return report, nil
	}

	req := shared.PageRequest{Page: page}.WithDefault(s.cfg.PerPage)
	p := shared.NewPagination(req.Page, req.PerPage, len(rows))
	report.Pagination = &p
	start := min(req.Offset(), len(rows))
	end := min(start+req.Limit(), len(rows))
	report.Rows = rows[start:end]
	return report, nil
}
