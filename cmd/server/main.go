// Command server starts the Trigger Interface HTTP surface (spec §4.6).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/oltp-olap-sync/internal/adapter/httpserver"
	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/observability"
	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/repo/olap"
	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/oltp-olap-sync/internal/config"
	"github.com/fairyhunter13/oltp-olap-sync/internal/metrics"
	"github.com/fairyhunter13/oltp-olap-sync/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	metrics.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

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

	srv := httpserver.NewServer(o, cfg.SyncToken, cfg.LivenessArtifactPath)
	handler := httpserver.BuildRouter(srv, cfg.TriggerRateLimitPerMin)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("trigger interface starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
