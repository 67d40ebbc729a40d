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

	"github.com/geocoder89/tripadmin/internal/app"
	"github.com/geocoder89/tripadmin/internal/config"
	"github.com/geocoder89/tripadmin/internal/observability"
	"github.com/geocoder89/tripadmin/internal/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "tripadmin-refresher"

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env).With("component", "refresher")
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}

	if cfg.CacheBackend == "" || cfg.CacheBackend == "memory" {
		// an in-process cache here would warm nothing the api can read
		log.Error("refresher needs a shared cache backend", "backend", cfg.CacheBackend)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	backend, err := app.OpenStore(ctx, cfg, prom)
	if err != nil {
		log.Error("cache backend init failed", "backend", cfg.CacheBackend, "err", err)
		os.Exit(1)
	}

	svc, err := app.NewConsole(cfg, backend.Store, prom, log)
	if err != nil {
		log.Error("console init failed", "err", err)
		os.Exit(1)
	}

	r := refresh.New(refresh.Config{
		Interval: cfg.RefreshInterval,
		Timeout:  cfg.Directory.Timeout + 10*time.Second,
	}, svc, refresh.WithProm(prom), refresh.WithLogger(log))

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.RefresherPort),
		Handler:           r.HealthHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("health server starting", "port", cfg.RefresherPort)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server failed", "err", err)
			stop()
		}
	}()

	log.Info("refresher has started", "backend", backend.Name, "interval", cfg.RefreshInterval.String())

	if err := r.Run(ctx); err != nil {
		log.Error("refresher stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	_ = healthSrv.Shutdown(shutdownCtx)
	if err := backend.Close(shutdownCtx); err != nil {
		log.Error("cache backend close failed", "err", err)
	}
	_ = shutdownTracer(shutdownCtx)

	log.Info("refresher shutdown complete")
}
