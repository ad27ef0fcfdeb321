package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docrag-backend/internal/http/response"
	"github.com/yungbote/docrag-backend/internal/observability"
)

// routeUnmatched labels requests that hit no registered route; raw paths are
// never used as label values.
const routeUnmatched = "unmatched"

// Metrics records request count, latency and error codes per route. Paths in
// skip (the scrape endpoint) are not recorded.
func Metrics(m *observability.Metrics, skip ...string) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skipped[c.FullPath()]; ok {
			c.Next()
			return
		}
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = routeUnmatched
		}
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
		if code := c.GetString(response.ErrorCodeKey); code != "" {
			m.ObserveAPIError(route, code)
		}
	}
}
