package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mealhelper/tracelog/internal/interceptor"
	"github.com/mealhelper/tracelog/internal/pkg/clientmeta"
	"github.com/mealhelper/tracelog/internal/pkg/logger"
	"github.com/mealhelper/tracelog/internal/pkg/tracectx"
)

const (
	HeaderUserID  = "User-Id"
	HeaderTraceID = "X-Trace-ID"

	ContextTraceID = "trace_id"
)

// TraceMiddleware opens a trace scope for each request and closes it on every
// exit path, panics included. Register ErrorHandler after it so errors are
// rendered before the response line is logged. Everything downstream must
// read the request context (c.Request.Context()) to see the trace.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx, scope := tracectx.Begin(c.Request.Context(), c.GetHeader(HeaderUserID))
		meta := clientmeta.Resolve(c.Request)
		ctx = clientmeta.WithMeta(ctx, meta)
		c.Request = c.Request.WithContext(ctx)

		c.Set(ContextTraceID, scope.TraceID())
		c.Header(HeaderTraceID, scope.TraceID())

		logger.InfoContext(ctx, "Request started",
			"url", c.Request.URL.String(),
			"method", c.Request.Method,
			"client_ip", meta.IP,
		)

		defer func() {
			status := c.Writer.Status()
			p := recover()
			if p != nil {
				// Recovery further out writes the 500 after we return
				status = http.StatusInternalServerError
			}

			elapsed := time.Since(start).Milliseconds()
			logger.InfoContext(ctx, "Request completed",
				"url", c.Request.URL.String(),
				"status", status,
				"execute_time_ms", elapsed,
			)
			interceptor.LogPerformance(ctx, interceptor.LayerHTTP, c.Request.Method+" "+c.Request.URL.Path, elapsed)
			scope.End()

			if p != nil {
				panic(p)
			}
		}()

		c.Next()
	}
}
