package telemetry

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request latency by route and status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// HTTPMiddleware logs finished requests and records their latency.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		d := time.Since(start)

		httpRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(d.Seconds())

		lvl := slog.LevelInfo
		if status >= 500 {
			lvl = slog.LevelError
		}
		slog.Log(c.Request.Context(), lvl, "http server: finished call",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", d,
		)
	}
}
