package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"certstore/internal/certificate/lifecycle"
	certmetrics "certstore/internal/certificate/metrics"
	"certstore/internal/certificate/store"
	"certstore/internal/crl"
	"certstore/internal/platform/config"
	"certstore/internal/platform/httpserver"
	"certstore/internal/platform/logger"
	"certstore/internal/platform/metrics"
	"certstore/internal/schema"
	httptransport "certstore/internal/transport/http"
	"certstore/internal/x509cert"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Record semantics live in internal/certificate.
func main() {
	configPath := flag.String("config", os.Getenv("CERTSTORE_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "certstore: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("certstore stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("certstore stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	certMetrics := certmetrics.New(reg)

	var res resources
	defer res.close(log)

	dir, err := res.openDirectory(ctx, cfg.Directory, log)
	if err != nil {
		return err
	}
	registry, err := schema.NewCertificateRegistry(x509cert.StdParser{})
	if err != nil {
		return fmt.Errorf("build certificate schema: %w", err)
	}

	storeOpts := []store.Option{
		store.WithLogger(log),
		store.WithMetrics(certMetrics),
		store.WithPageSize(cfg.Directory.PageSize),
	}
	if cfg.Sweep.Serials.Enabled() {
		low, high, lowWater, err := cfg.Sweep.Serials.Bounds()
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, store.WithSerialRange(store.SerialRange{Low: low, High: high, LowWater: lowWater}))
	}
	st := store.New(dir, registry, cfg.Directory.BaseDN, storeOpts...)

	targets, err := res.openSinks(ctx, cfg.Sinks, log)
	if err != nil {
		return err
	}
	sinks := crl.NewSinks(targets, crl.WithLogger(log), crl.WithMetrics(certMetrics))

	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(certMetrics),
	}
	sweeper, err := lifecycle.NewSweeper(st, sinks, lifecycle.Config{
		Interval:   cfg.Sweep.Interval,
		PageSize:   cfg.Sweep.PageSize,
		MaxRecords: cfg.Sweep.MaxRecords,
	}, lifecycleOpts...)
	if err != nil {
		return fmt.Errorf("create sweeper: %w", err)
	}
	listener, err := lifecycle.NewListener(st, sinks, lifecycleOpts...)
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}

	handlerOpts := append([]httptransport.Option{
		httptransport.WithLogger(log),
		httptransport.WithAdminToken(cfg.Server.AdminToken),
		httptransport.WithMetrics(metrics.New(reg), reg),
	}, res.healthChecks...)
	handler := httptransport.New(st, sweeper, handlerOpts...)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler))

	g, gctx := errgroup.WithContext(ctx)
	if err := sweeper.Start(gctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	if cfg.Listener.Enabled {
		if err := listener.Start(gctx); err != nil {
			sweeper.Stop()
			return fmt.Errorf("start listener: %w", err)
		}
	}

	g.Go(func() error {
		log.InfoContext(gctx, "starting certstore",
			"addr", cfg.Server.Addr,
			"backend", cfg.Directory.Backend,
			"base_dn", cfg.Directory.BaseDN,
			"sinks", sinks.Len(),
		)
		return httpserver.Run(gctx, srv, shutdownTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		sweeper.Stop()
		if err := listener.Stop(); err != nil {
			log.WarnContext(gctx, "failed to stop listener", "error", err)
		}
		return nil
	})
	return g.Wait()
}
