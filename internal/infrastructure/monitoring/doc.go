/*
Package monitoring provides Prometheus metrics for the kernel and the
inspection API.

# Overview

Collectors cover IPC traffic (messages, replies, copied bytes, lease
accesses, notifications), task lifecycle (spawns, live count), faults by
kind, and inspection-API HTTP metrics.

# Usage

	metrics := monitoring.New(prometheus.DefaultRegisterer)

	// Gin middleware for the inspection API
	router.Use(monitoring.Middleware(metrics))

	// Kernel-side recording
	metrics.FaultsTotal.WithLabelValues("memory-access").Inc()

# Metrics Endpoint

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
