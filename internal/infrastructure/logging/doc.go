// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// The kernel and the inspection API log through the same wrapper with
// structured fields, e.g.:
//
//	logger := logging.NewDefault()
//	logger.Info("task faulted",
//		zap.String("task", id.String()),
//		zap.String("fault", rec.String()))
package logging
