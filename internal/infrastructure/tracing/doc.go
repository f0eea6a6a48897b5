/*
Package tracing provides request tracing for the inspection API.

# Overview

This package implements lightweight tracing to follow inspection requests
through the daemon. It follows OpenTelemetry concepts but with a minimal
implementation tailored to a single-process kernel simulator.

# Usage

	// Create tracer
	tracer := tracing.New("emberd", logger)

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	span.SetTag("key", "value")

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation

# Performance

Spans are collected in a bounded buffer (1000 spans) and processed
asynchronously; a full buffer drops spans rather than stalling requests.
*/
package tracing
