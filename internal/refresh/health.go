package refresh

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler serves liveness, readiness and metrics for the refresher process.
func (r *Refresher) HealthHandler(gatherer prometheus.Gatherer) http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	// liveness: process is up
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// readiness: loop running and the cache has been filled at least once
	g.GET("/readyz", func(c *gin.Context) {
		body := gin.H{
			"refresh":             r.metrics.Snapshot(),
			"consecutiveFailures": r.ConsecutiveFailures(),
		}
		if !r.Ready() {
			body["status"] = "not_ready"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ready"
		c.JSON(http.StatusOK, body)
	})

	if gatherer != nil {
		g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return g
}
