package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/metric"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HTTPLogger emits api_request metrics per route template and an access log
// line per request. Health checks are measured but not logged.
func HTTPLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		tags := metric.BuildTag(
			metric.NewTag(metric.TagPath, route),
			metric.NewTag(metric.TagMethod, c.Request.Method),
			metric.NewTag(metric.TagHttpStatusCode, strconv.Itoa(status)),
		)
		metric.Incr(metric.ApiRequestCount, tags)
		metric.TimingWithStart(metric.ApiRequestLatency, start, tags)

		if strings.HasPrefix(route, "/health") {
			return
		}
		event := log.Info()
		if status >= 500 {
			event = log.Error()
		}
		event.Ctx(c.Request.Context()).
			Str("client", c.ClientIP()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Func(withErrors(c)).
			Msgf("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}

func withErrors(c *gin.Context) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		if len(c.Errors) > 0 {
			e.Str("errors", c.Errors.String())
		}
	}
}
