package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	// OfficerKey is the context key for the reviewing officer.
	OfficerKey contextKey = "officer"

	// TraceIDKey is the context key for trace ID.
	TraceIDKey contextKey = "traceID"

	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "requestID"

	// OfficerHeader identifies the compliance officer on review requests.
	OfficerHeader = "X-Officer-ID"

	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader is the HTTP header for trace ID.
	TraceIDHeader = "X-Trace-ID"
)

var tracer = otel.Tracer("kestrel-api")

// OfficerMiddleware requires the X-Officer-ID header and stores it in the
// request context.
func OfficerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		officer := strings.TrimSpace(r.Header.Get(OfficerHeader))
		if officer == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": OfficerHeader + " header is required",
			})
			return
		}

		ctx := context.WithValue(r.Context(), OfficerKey, officer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TracingMiddleware creates OpenTelemetry spans and propagates trace context.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		// Without an SDK provider the span context is empty.
		traceID := span.SpanContext().TraceID().String()
		if !span.SpanContext().TraceID().IsValid() {
			traceID = requestID
		}

		ctx = context.WithValue(ctx, RequestIDKey, requestID)
		ctx = context.WithValue(ctx, TraceIDKey, traceID)

		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(r.Context()),
		}
		if officer := r.Header.Get(OfficerHeader); officer != "" {
			attrs = append(attrs, "officer", officer)
		}
		if rw.status >= http.StatusInternalServerError {
			slog.Error("http request", attrs...)
			return
		}
		slog.Info("http request", attrs...)
	})
}

// CORSMiddleware lets browser dashboards call the API.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", OfficerHeader, RequestIDHeader}, ", "))
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", "+TraceIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500 JSON error.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("panic recovered", "panic", v, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func ctxString(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// GetOfficer returns the reviewing officer set by OfficerMiddleware.
func GetOfficer(ctx context.Context) string { return ctxString(ctx, OfficerKey) }

// GetRequestID returns the request ID set by TracingMiddleware.
func GetRequestID(ctx context.Context) string { return ctxString(ctx, RequestIDKey) }

// GetTraceID returns the trace ID set by TracingMiddleware.
func GetTraceID(ctx context.Context) string { return ctxString(ctx, TraceIDKey) }
