package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/service"
)

const (
	metricsPath    = "/metrics"
	unmatchedRoute = "unmatched"
)

// Metrics records latency and status per route template. Requests that match no route share one
// label so user and request IDs never reach the label set. Prometheus scrapes are not counted.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == metricsPath {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
