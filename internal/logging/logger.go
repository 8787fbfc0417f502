// Package logging provides structured logging configuration using log/slog.
//
// Loggers are constructed once in main and passed down explicitly; there is
// no package-level default. When a logger travels through a request context,
// FromContext enriches it with chi's request ID.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

// New builds a logger writing to w.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops every record. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or fallback with chi's
// request ID attached when ctx carries one.
//
// A stored logger is returned unchanged: whoever called WithLogger already
// derived it from the request.
//
//	func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context(), s.logger)
//	    logger.Info("stats requested")
//	}
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}

	logger := fallback
	if logger == nil {
		logger = Discard()
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// WithFields returns a logger with additional structured fields.
//
//	runLogger := logging.WithFields(ctx, s.logger,
//	    "run_id", runID,
//	    "file", fileName,
//	)
//	runLogger.Info("ingest started")
func WithFields(ctx context.Context, fallback *slog.Logger, args ...any) *slog.Logger {
	return FromContext(ctx, fallback).With(args...)
}
