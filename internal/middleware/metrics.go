package middleware

import (
	"strconv"
	"time"

	"github.com/clasedesurf/tidepool/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics creates a Prometheus metrics middleware. Requests are labelled by
// route template so path parameters do not explode cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
