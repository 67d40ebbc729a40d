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
	"github.com/geocoder89/tripadmin/internal/auth"
	"github.com/geocoder89/tripadmin/internal/config"
	httpx "github.com/geocoder89/tripadmin/internal/http"
	"github.com/geocoder89/tripadmin/internal/http/handlers"
	"github.com/geocoder89/tripadmin/internal/observability"
	"github.com/geocoder89/tripadmin/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "tripadmin-api"

func main() {
	// Load the config set up
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer init failed", "err", err)
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

	if cfg.AdminPasswordHash == "" {
		log.Warn("ADMIN_PASSWORD_HASH is not set, admin login is disabled")
	}

	jwt := auth.NewManager(cfg.JWTSecret, cfg.JWTAccessTTL)

	router := httpx.NewRouter(httpx.Deps{
		Env:         cfg.Env,
		ServiceName: serviceName,
		CORSOrigins: cfg.CORSOrigins,
		Console:     svc,
		Credentials: security.AdminCredentials{Username: cfg.AdminUsername, PasswordHash: cfg.AdminPasswordHash},
		Tokens:      &httpx.TokenAuth{Issuer: jwt, Verifier: jwt},
		Prom:        prom,
		Gatherer:    reg,
		Checks:      map[string]handlers.Check{"cache": backend.Ping},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// bulk deletes and full hydrates wait on the directory
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "cache_backend", backend.Name, "policy", svc.Policy().Name())
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
		if err := backend.Close(ctx); err != nil {
			log.Error("cache backend close failed", "err", err)
		}
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
