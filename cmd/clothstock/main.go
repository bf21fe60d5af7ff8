package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/clothstock/internal/app"
)

const usage = `usage: clothstock <command> [flags]

commands:
  serve      run the operations HTTP server and stock cache listener
  migrate    apply the embedded database schema
  stock      print current stock balances
  variation  print the weight variation of a sale
  reconcile  compare a sale's breakup with its line amounts
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	case "stock":
		err = runStock(ctx, cfg, logger, args, os.Stdout)
	case "variation":
		err = runVariation(ctx, cfg, logger, args, os.Stdout)
	case "reconcile":
		err = runReconcile(ctx, cfg, logger, args, os.Stdout)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}
