package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/superlogger/superlogger/pkg/logger"
	"github.com/superlogger/superlogger/pkg/metrics"
	"github.com/superlogger/superlogger/pkg/model"
)

const HTTPContext = "HTTP"

// Logger opens a logblock named after the route for every request, stores it
// in the request context and logs the call and its outcome through it.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		lb := log.NewLogblock(path+"-"+method,
			logger.Context(HTTPContext),
			logger.Type(model.LogTypeRestServer),
		)
		c.Request = c.Request.WithContext(logger.WithLogblock(c.Request.Context(), lb))

		lb.Debug(method+" "+path,
			logger.String("request_id", GetRequestID(c)),
			logger.String("remote", c.ClientIP()),
			logger.String("query", c.Request.URL.RawQuery),
		)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		fields := []logger.Field{
			logger.Int("status", status),
			logger.Any("latency_ms", latency.Milliseconds()),
			logger.String("request_id", GetRequestID(c)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}
		lb.Log(model.LevelFromStatus(status), method+" "+path+" "+strconv.Itoa(status), fields...)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, method).Observe(latency.Seconds())
	}
}
