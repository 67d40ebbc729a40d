package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	// Remote user directory
	DirectoryCallDuration *prometheus.HistogramVec
	DirectoryErrorsTotal  *prometheus.CounterVec

	// Cache store
	CacheOpDuration  *prometheus.HistogramVec
	CacheErrorsTotal *prometheus.CounterVec

	// Refresher
	RefreshDuration    *prometheus.HistogramVec
	RefreshResults     *prometheus.CounterVec
	CachedUsers        prometheus.Gauge
	LastRefreshSuccess prometheus.Gauge
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tripadmin",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tripadmin",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tripadmin",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DirectoryCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tripadmin",
				Subsystem: "directory",
				Name:      "call_duration_seconds",
				Help:      "Remote user directory call latency by operation.",
				// the directory runs on a free tier host and cold starts are slow
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"op", "status"},
		),
		DirectoryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tripadmin",
				Subsystem: "directory",
				Name:      "errors_total",
				Help:      "Remote user directory errors by operation and class.",
			},
			[]string{"op", "class"},
		),
		CacheOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tripadmin",
				Subsystem: "cache",
				Name:      "op_duration_seconds",
				Help:      "Cache store latency by backend and logical op.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"backend", "op", "status"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tripadmin",
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Cache store errors by backend, op and class.",
			},
			[]string{"backend", "op", "class"},
		),
		RefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tripadmin",
				Subsystem: "refresh",
				Name:      "duration_seconds",
				Help:      "Snapshot refresh duration by result.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"result"}, // result=saved|stale|failed
		),
		RefreshResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tripadmin",
				Subsystem: "refresh",
				Name:      "results_total",
				Help:      "Snapshot refresh outcomes.",
			},
			[]string{"result"}, // result=saved|stale|failed
		),
		CachedUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tripadmin",
				Subsystem: "cache",
				Name:      "users",
				Help:      "Users held by the last saved snapshot.",
			},
		),
		LastRefreshSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tripadmin",
				Subsystem: "refresh",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last saved snapshot.",
			},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DirectoryCallDuration, p.DirectoryErrorsTotal,
		p.CacheOpDuration, p.CacheErrorsTotal,
		p.RefreshDuration, p.RefreshResults, p.CachedUsers, p.LastRefreshSuccess,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
