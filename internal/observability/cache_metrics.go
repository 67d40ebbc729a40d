package observability

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func (p *Prom) ObserveCache(backend, op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"

	if err != nil {
		status = "error"
		p.CacheErrorsTotal.WithLabelValues(backend, op, classifyCacheErr(err)).Inc()
	}
	p.CacheOpDuration.WithLabelValues(backend, op, status).Observe(time.Since(start).Seconds())
	return err
}

// ObserveDirectory records one remote directory call. Errors carrying an HTTP status
// are classed by it.
func (p *Prom) ObserveDirectory(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"

	if err != nil {
		status = "error"
		p.DirectoryErrorsTotal.WithLabelValues(op, classifyRemoteErr(err)).Inc()
	}
	p.DirectoryCallDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

type statusCoder interface {
	StatusCode() int
}

func classifyRemoteErr(err error) string {
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return "http_" + strconv.Itoa(sc.StatusCode())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "transport"
}

func classifyCacheErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001":
			return "serialization_failure"
		case "40P01":
			return "deadlock"
		case "57014":
			return "query_canceled"
		default:
			return "pg_" + pgErr.Code
		}
	}

	if errors.Is(err, redis.TxFailedErr) {
		return "tx_conflict"
	}
	if mongo.IsTimeout(err) {
		return "timeout"
	}
	if mongo.IsNetworkError(err) {
		return "connection"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "conflict"):
		return "conflict"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	default:
		return "unknown"
	}
}
