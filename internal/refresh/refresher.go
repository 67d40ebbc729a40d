package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/tripadmin/internal/console"
	"github.com/geocoder89/tripadmin/internal/observability"
)

type Hydrator interface {
	Hydrate(ctx context.Context) (console.HydrateResult, error)
}

type Config struct {
	// Interval between successful refreshes.
	Interval time.Duration
	// Timeout bounds a single hydrate.
	Timeout time.Duration
	// RetryBase is the first backoff step after a failed refresh.
	RetryBase time.Duration
}

// Refresher keeps the shared cache warm by re-hydrating it on a fixed interval. A failed run
// is retried with exponential backoff, never waiting longer than Interval.
type Refresher struct {
	cfg      Config
	hydrator Hydrator
	metrics  *observability.RefreshMetrics
	prom     *observability.Prom
	log      *slog.Logger

	backoff func(attempt int) time.Duration

	mu       sync.RWMutex
	running  bool
	warm     bool
	failures int
}

type Option func(*Refresher)

func WithProm(p *observability.Prom) Option {
	return func(r *Refresher) { r.prom = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Refresher) { r.log = l }
}

func WithMetrics(m *observability.RefreshMetrics) Option {
	return func(r *Refresher) { r.metrics = m }
}

func New(cfg Config, h Hydrator, opts ...Option) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}

	r := &Refresher{
		cfg:      cfg,
		hydrator: h,
		metrics:  observability.NewRefreshMetrics(),
		log:      slog.Default(),
	}
	r.backoff = func(attempt int) time.Duration {
		return ExponentialBackoff(attempt, r.cfg.RetryBase, r.cfg.Interval)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Refresher) Metrics() *observability.RefreshMetrics { return r.metrics }

// Run refreshes immediately and then on schedule until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.setRunning(true)
	defer r.setRunning(false)

	r.log.InfoContext(ctx, "refresher started", "interval", r.cfg.Interval.String())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("refresher received shutdown signal")
			return nil

		case <-timer.C:
			_, err := r.RunOnce(ctx)
			timer.Reset(r.nextDelay(err))
		}
	}
}

func (r *Refresher) nextDelay(err error) time.Duration {
	r.mu.RLock()
	failures := r.failures
	r.mu.RUnlock()

	if err == nil || failures == 0 {
		return r.cfg.Interval
	}

	d := r.backoff(failures - 1)
	if d > r.cfg.Interval {
		d = r.cfg.Interval
	}
	return d
}

// RunOnce performs a single hydrate and records its outcome.
func (r *Refresher) RunOnce(ctx context.Context) (console.HydrateResult, error) {
	r.metrics.IncAttempt()

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := r.hydrator.Hydrate(runCtx)
	elapsed := time.Since(start)
	r.metrics.ObserveDuration(elapsed)

	result := "saved"
	switch {
	case err != nil:
		result = "failed"
		r.metrics.IncFailed()
	case !res.Saved:
		result = "stale"
		r.metrics.IncStale()
	default:
		r.metrics.IncSaved(res.Users, time.Now())
	}

	if r.prom != nil {
		r.prom.RefreshDuration.WithLabelValues(result).Observe(elapsed.Seconds())
		r.prom.RefreshResults.WithLabelValues(result).Inc()
		if err == nil {
			r.prom.LastRefreshSuccess.SetToCurrentTime()
		}
	}

	r.mu.Lock()
	if err != nil {
		r.failures++
	} else {
		r.failures = 0
		r.warm = true
	}
	failures := r.failures
	r.mu.Unlock()

	if err != nil {
		r.log.WarnContext(ctx, "refresh failed", "err", err, "consecutive_failures", failures, "duration_ms", elapsed.Milliseconds())
		return res, err
	}

	r.log.InfoContext(ctx, "refresh complete",
		"result", result,
		"users", res.Users,
		"malformed", res.Malformed,
		"duplicates", res.Duplicates,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

func (r *Refresher) setRunning(v bool) {
	r.mu.Lock()
	r.running = v
	r.mu.Unlock()
}

// Ready reports whether the loop is running and at least one refresh has succeeded.
func (r *Refresher) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running && r.warm
}

func (r *Refresher) ConsecutiveFailures() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failures
}
