package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smsdispatch/internal/compliance"
	"smsdispatch/internal/config"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/logging"
	"smsdispatch/internal/store/pg"
)

// One-shot job: scan gateway message history for a tenant and backfill the
// blocklist and consumer opt-out flags. Meant to run from cron or by hand.
func main() {
	cfg := config.LoadSync()
	logging.Init("compliance-sync", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("compliance-sync interrupted", "signal", sig.String())
		cancel()
	}()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("compliance-sync db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	dbStore := pg.New(db)

	var defaultClient *gateway.Client
	if cfg.DefaultGatewayAccountID != "" && cfg.DefaultGatewayAuthToken != "" {
		defaultClient = &gateway.Client{
			AccountID: cfg.DefaultGatewayAccountID,
			AuthToken: cfg.DefaultGatewayAuthToken,
			HTTP:      &http.Client{Timeout: 30 * time.Second},
			BaseURL:   cfg.GatewayBaseURL,
		}
	}
	resolver := gateway.NewResolver(dbStore, cfg.GatewayBaseURL, defaultClient, cfg.DefaultFromNumber)

	history, err := resolver.Client(ctx, cfg.TenantID)
	if err != nil {
		slog.Error("compliance-sync gateway resolve failed", "err", err, "tenant_id", cfg.TenantID)
		os.Exit(1)
	}

	syncer := compliance.NewSyncer(dbStore)
	res, err := syncer.Sync(ctx, cfg.TenantID, history, cfg.DaysBack)
	if err != nil {
		slog.Error("compliance-sync failed", "err", err, "tenant_id", cfg.TenantID)
		os.Exit(1)
	}

	slog.Info("compliance-sync done",
		"tenant_id", cfg.TenantID,
		"scanned", res.TotalScanned,
		"failed_numbers", res.FailedNumbers,
		"opt_out_numbers", res.OptOutNumbers,
		"consumers_marked", res.ConsumersMarkedOptedOut,
		"errors", len(res.Errors),
	)
	if len(res.Errors) > 0 {
		os.Exit(1)
	}
}
