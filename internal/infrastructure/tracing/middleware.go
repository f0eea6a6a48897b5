package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/emberos/ember/internal/shared/id"
)

// HTTPMiddleware traces every inspection API request. Incoming trace
// headers are honored so a UI chaining several calls shows up as one
// trace; the span and trace IDs are echoed back in the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if traceID := c.GetHeader("X-Trace-ID"); traceID != "" {
			ctx = context.WithValue(ctx, traceIDKey, id.TraceID(traceID))
		}
		if parentID := c.GetHeader("X-Span-ID"); parentID != "" {
			ctx = context.WithValue(ctx, spanIDKey, id.SpanID(parentID))
		}

		span, ctx := tracer.StartSpan(ctx, c.FullPath())
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())

		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", span.TraceID.String())
		c.Header("X-Span-ID", span.SpanID.String())

		c.Next()

		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}
