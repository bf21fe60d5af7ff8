package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/odyssey-erp/clothstock/internal/app"
	"github.com/odyssey-erp/clothstock/internal/reconcile"
	"github.com/odyssey-erp/clothstock/internal/report"
)

func runStock(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stock", flag.ContinueOnError)
	all := fs.Bool("all", false, "print every positive balance instead of one page")
	page := fs.Int("page", 1, "page to print when -all is not set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	rep, err := rt.reports.StockReport(ctx, *all, *page)
	if err != nil {
		return err
	}
	return printStock(out, rep)
}

func runVariation(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, out io.Writer) error {
	id, err := parseSaleID("variation", args)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	v, err := rt.reports.Variation(ctx, id)
	if err != nil {
		return err
	}
	return printVariation(out, v)
}

func runReconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, out io.Writer) error {
	id, err := parseSaleID("reconcile", args)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.sales.Reconcile(ctx, id)
	if err != nil {
		return err
	}
	return printReconcile(out, id, res)
}

func parseSaleID(name string, args []string) (int64, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.Int64("sale", 0, "sale id")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *id <= 0 {
		return 0, errors.New("-sale is required")
	}
	return *id, nil
}

func printStock(out io.Writer, rep report.StockReport) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "MATERIAL\tVARIANT\tWEIGHT\t")
	for _, r := range rep.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", r.MaterialName, r.VariantName, r.Weight.StringFixed(3))
	}
	fmt.Fprintf(tw, "\t%s\t%s\t\n", "TOTAL", rep.TotalWeight.StringFixed(3))
	if err := tw.Flush(); err != nil {
		return err
	}
	if p := rep.Pagination; p != nil {
		_, err := fmt.Fprintf(out, "page %d of %d (%d rows)\n", p.Page, p.TotalPages, p.Total)
		return err
	}
	return nil
}

func printVariation(out io.Writer, v report.Variation) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "sale\t%d\n", v.SaleID)
	fmt.Fprintf(tw, "declared weight\t%s\n", v.DeclaredWeight.StringFixed(3))
	fmt.Fprintf(tw, "declared amount\t%s\n", v.DeclaredAmount.StringFixed(2))
	fmt.Fprintf(tw, "final weight\t%s\n", v.FinalWeight.StringFixed(3))
	fmt.Fprintf(tw, "final amount\t%s\n", v.FinalAmount.StringFixed(2))
	for i, d := range v.PerLineVariation {
		sign := ""
		if d.IsPositive() {
			sign = "+"
		}
		fmt.Fprintf(tw, "line %d\t%s%s\n", i+1, sign, d.StringFixed(3))
	}
	return tw.Flush()
}

func printReconcile(out io.Writer, id int64, res reconcile.Result) error {
	status := "balanced"
	if !res.Balanced() {
		status = "unbalanced"
	}
	_, err := fmt.Fprintf(out, "sale %d %s: breakup %s, amount %s, difference %s\n",
		id, status, res.Actual.String(), res.Expected.String(), res.Difference.String())
	return err
}
