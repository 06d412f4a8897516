package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"smsdispatch/internal/compliance"
	"smsdispatch/internal/config"
	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/gateway"
	"smsdispatch/internal/httpserver"
	"smsdispatch/internal/logging"
	"smsdispatch/internal/observability"
	"smsdispatch/internal/ratelimit"
	"smsdispatch/internal/store/pg"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	dbStore := pg.New(db)

	observability.Register(prometheus.DefaultRegisterer)

	var defaultClient *gateway.Client
	if cfg.DefaultGatewayAccountID != "" && cfg.DefaultGatewayAuthToken != "" {
		defaultClient = &gateway.Client{
			AccountID: cfg.DefaultGatewayAccountID,
			AuthToken: cfg.DefaultGatewayAuthToken,
			HTTP:      &http.Client{Timeout: 8 * time.Second},
			BaseURL:   cfg.GatewayBaseURL,
		}
	}
	resolver := gateway.NewResolver(dbStore, cfg.GatewayBaseURL, defaultClient, cfg.DefaultFromNumber)

	// per-tenant limit from tenant settings, falling back to the shared
	// default; store errors fall back too so throttling never hard-fails
	limiter := ratelimit.New(func(tenantID string) int {
		tcfg, found, err := dbStore.TenantGatewayConfig(context.Background(), tenantID)
		if err != nil {
			slog.Error("tenant rate lookup failed", "err", err, "tenant_id", tenantID)
			return cfg.DefaultRatePerMinute
		}
		if !found || tcfg.RatePerMinute <= 0 {
			return cfg.DefaultRatePerMinute
		}
		return tcfg.RatePerMinute
	})
	go limiter.Run(ctx, cfg.RateSweepInterval)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sms-gateway",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})

	engine := dispatch.New(dispatch.Options{
		Store:               dbStore,
		Gate:                &compliance.Gate{Store: dbStore},
		Limiter:             limiter,
		Resolver:            resolver,
		Billing:             dbStore,
		Notes:               dbStore,
		Breaker:             cb,
		CallbackBaseURL:     cfg.StatusCallbackBaseURL,
		QueueMaxAge:         cfg.QueueMaxAge,
		CheckpointEvery:     cfg.CampaignCheckpointEvery,
		StatusCheckInterval: cfg.CampaignStatusInterval,
	})
	engine.Start(ctx, cfg.DrainInterval)

	router := httpserver.NewRouter(observability.APIRequests)
	api := &httpserver.API{
		Engine:   engine,
		Store:    dbStore,
		Limiter:  limiter,
		Resolver: resolver,
		Syncer:   compliance.NewSyncer(dbStore),
		SyncDays: 30,
	}
	api.Register(router)

	router.HandleFunc("/healthz", httpserver.Healthz())
	router.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	}))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	// let in-flight campaign runs checkpoint before the pool closes
	engine.Shutdown()
}
