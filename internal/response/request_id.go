package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

// ContextKeyTraceID is the Gin context key for the active trace ID.
const ContextKeyTraceID = "trace_id"

// RequestIDMiddleware generates a unique request ID for every request and
// exposes the trace ID of the request span, if any.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header("X-Request-ID", reqID)

		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			traceID := sc.TraceID().String()
			c.Set(ContextKeyTraceID, traceID)
			c.Header("X-Trace-ID", traceID)
		}
		c.Next()
	}
}
