// Package logging provides structured, trace-correlated logging. Every log
// line carries the active span's trace/span IDs when one is present, so a
// log line and the request it belongs to can always be joined.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WillKirkmanM/proxy/internal/cache"
)

// Logger wraps a JSON slog.Logger with OpenTelemetry span correlation.
type Logger struct {
	slogger *slog.Logger
	tracer  trace.Tracer
	service string
}

// New creates a structured logger for service. debug enables debug-level
// emission (spec.md §6: "debug only active when DEBUG is set"); otherwise
// the floor is info.
func New(service string, debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	return &Logger{
		slogger: slog.New(handler),
		tracer:  otel.Tracer(service),
		service: service,
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs an error and, if a recording span is active, marks it failed.
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs an error and terminates the process. Reserved for startup
// failures before the server has begun accepting connections.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}

func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	attrs = append(attrs, slog.String("service", l.service))
	l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan begins a span named operationName under this logger's tracer.
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// WithFields returns a derived logger that always emits attrs.
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
	anyAttrs := make([]any, len(attrs))
	for i, a := range attrs {
		anyAttrs[i] = a
	}
	return &Logger{
		slogger: l.slogger.With(anyAttrs...),
		tracer:  l.tracer,
		service: l.service,
	}
}

// ReportCacheStats satisfies cache.Reporter: the LRUCache's periodic
// snapshot (spec.md §4.1 Observability) is logged at info level. This is a
// passive reporter and must never be a correctness dependency.
func (l *Logger) ReportCacheStats(stats cache.Stats) {
	l.Info(context.Background(), "cache stats",
		slog.Int64("current_bytes", stats.CurrentBytes),
		slog.Int("item_count", stats.ItemCount),
		slog.Int64("hits", stats.Hits),
		slog.Int64("misses", stats.Misses),
		slog.Float64("hit_rate", stats.HitRate),
	)
}

// HTTPRequestLogger is HTTP middleware logging each request's method, path,
// status and duration, correlated with a per-request span.
func (l *Logger) HTTPRequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, span := l.StartSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.String("http.remote_addr", r.RemoteAddr),
			)
			defer span.End()

			wrapper := &statusCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r.WithContext(ctx))

			duration := time.Since(start)
			l.Info(ctx, "http request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapper.statusCode),
				slog.Duration("duration", duration),
				slog.String("remote_addr", r.RemoteAddr),
			)

			span.SetAttributes(
				attribute.Int("http.status_code", wrapper.statusCode),
				attribute.String("http.response.duration", duration.String()),
			)
			if wrapper.statusCode >= 400 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			}
		})
	}
}

// statusCapture wraps http.ResponseWriter to record the status code written.
type statusCapture struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapture) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
