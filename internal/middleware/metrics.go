package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mealhelper/tracelog/internal/pkg/metrics"
)

// MetricsMiddleware observes request latency per route template, so
// /api/logs/user/:userId stays one series however many users there are.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.LatencyBucket.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
