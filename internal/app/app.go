// Package app wires configuration into the concrete cache, directory and console
// components shared by the api and refresher processes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/tripadmin/internal/analysis"
	"github.com/geocoder89/tripadmin/internal/cache"
	"github.com/geocoder89/tripadmin/internal/config"
	"github.com/geocoder89/tripadmin/internal/console"
	"github.com/geocoder89/tripadmin/internal/db"
	"github.com/geocoder89/tripadmin/internal/directory"
	"github.com/geocoder89/tripadmin/internal/lifecycle"
	"github.com/geocoder89/tripadmin/internal/messaging"
	"github.com/geocoder89/tripadmin/internal/observability"
	"github.com/geocoder89/tripadmin/internal/redisclient"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const redisKeyPrefix = "tripadmin:"

// Backend is an opened cache store plus the hooks to check and release it.
type Backend struct {
	Name  string
	Store cache.Store
	Ping  func(ctx context.Context) error
	Close func(ctx context.Context) error
}

// OpenStore connects the configured cache backend and wraps it with metrics.
func OpenStore(ctx context.Context, cfg config.Config, prom *observability.Prom) (*Backend, error) {
	b, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.Store = cache.NewInstrumented(b.Store, b.Name, prom)
	return b, nil
}

func openStore(ctx context.Context, cfg config.Config) (*Backend, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.CacheBackend {
	case "", "memory":
		return &Backend{Name: "memory", Store: cache.NewMemoryStore(), Ping: noop, Close: noop}, nil

	case "redis":
		rc, err := redisclient.New(ctx, redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return &Backend{
			Name:  "redis",
			Store: cache.NewRedisStore(rc.Raw(), redisKeyPrefix),
			Ping:  rc.Ping,
			Close: func(context.Context) error { return rc.Close() },
		}, nil

	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := cache.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &Backend{
			Name:  "postgres",
			Store: store,
			Ping:  pool.Ping,
			Close: func(context.Context) error { pool.Close(); return nil },
		}, nil

	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("ping mongo: %w", err)
		}

		return &Backend{
			Name:  "mongo",
			Store: cache.NewMongoStore(client.Database(cfg.Mongo.DB), ""),
			Ping:  func(ctx context.Context) error { return client.Ping(ctx, nil) },
			Close: client.Disconnect,
		}, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func NewDirectory(cfg config.Config, prom *observability.Prom, log *slog.Logger) *directory.Client {
	return directory.New(directory.Config{
		BaseURL:           cfg.Directory.BaseURL,
		Username:          cfg.Directory.Username,
		Password:          cfg.Directory.Password,
		Timeout:           cfg.Directory.Timeout,
		DeleteConcurrency: cfg.Directory.DeleteConcurrency,
	},
		directory.WithHTTPClient(&http.Client{}),
		directory.WithProm(prom),
		directory.WithLogger(log),
	)
}

// NewNotifier sends through Resend when an API key is configured and logs otherwise.
func NewNotifier(cfg config.Config, log *slog.Logger) messaging.Notifier {
	var inner messaging.Notifier = messaging.NewLogNotifier(log)
	if cfg.ResendAPIKey != "" {
		inner = messaging.NewResendNotifier(cfg.ResendAPIKey, cfg.MessageFrom)
	}

	return messaging.NewProtectedNotifier(inner, messaging.ProtectedNotifierConfig{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	})
}

// NewConsole builds the console service over store. Analysis is enabled only when its base
// URL is configured.
func NewConsole(cfg config.Config, store cache.Store, prom *observability.Prom, log *slog.Logger) (*console.Service, error) {
	policy, err := lifecycle.PolicyFor(cfg.SafetyPolicy, cfg.GracePeriodDays)
	if err != nil {
		return nil, err
	}

	opts := []console.Option{
		console.WithLogger(log),
		console.WithSender(messaging.NewSender(NewNotifier(cfg, log), cfg.Directory.DeleteConcurrency, log)),
	}
	if cfg.Analysis.BaseURL != "" {
		opts = append(opts, console.WithAnalyzer(analysis.New(analysis.Config{
			BaseURL: cfg.Analysis.BaseURL,
			Timeout: cfg.Analysis.Timeout,
		}, &http.Client{})))
	}

	return console.NewService(NewDirectory(cfg, prom, log), store, console.Config{
		Policy:    policy,
		GraceDays: cfg.GracePeriodDays,
	}, opts...), nil
}
