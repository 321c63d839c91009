// Package main provides the worker application entry point.
// The worker subscribes to OLTP change notifications and drives the Sync
// Orchestrator against the OLAP store, once per notification.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/observability"
	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/repo/olap"
	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/oltp-olap-sync/internal/config"
	"github.com/fairyhunter13/oltp-olap-sync/internal/dispatcher"
	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
	"github.com/fairyhunter13/oltp-olap-sync/internal/metrics"
	"github.com/fairyhunter13/oltp-olap-sync/internal/orchestrator"
)

func main() {
	once := flag.Bool("once", false, "run a single full sync and exit, without starting the dispatcher loop")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	metrics.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil { //nolint:gosec // internal metrics listener
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	oltpPool, err := postgres.NewPool(ctx, cfg.OLTPDSN())
	if err != nil {
		slog.Error("oltp pool init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer oltpPool.Close()

	olapPool, err := postgres.NewPool(ctx, cfg.OLAPDSN())
	if err != nil {
		slog.Error("olap pool init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer olapPool.Close()

	reader := postgres.NewReader(oltpPool)
	upserter := olap.NewUpserter()
	o := orchestrator.New(reader, olapPool, upserter, cfg.OrdenProductoPKColumns)

	if *once {
		slog.Info("running a single full sync (--once)")
		result, err := o.Sync(ctx, domain.SyncRequest{})
		if err != nil {
			slog.Error("full sync failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("full sync complete",
			slog.Int("rows_processed", result.RowsProcessed),
			slog.Int("facts_written", result.FactsWritten),
			slog.Int("facts_skipped", result.FactsSkipped))
		return
	}

	listenConn, err := pgx.Connect(ctx, cfg.OLTPDSN())
	if err != nil {
		slog.Error("dispatcher listen connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = listenConn.Close(context.Background()) }()

	d := dispatcher.New(listenConn, o, cfg.HeartbeatInterval(), cfg.LivenessArtifactPath)
	if err := d.Subscribe(ctx); err != nil {
		slog.Error("dispatcher subscribe failed", slog.Any("error", err))
		os.Exit(1)
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("worker started successfully, entering dispatch loop")
	if err := d.Run(sigCtx); err != nil {
		slog.Error("dispatcher run ended with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
