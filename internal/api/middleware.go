package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/metrics"
)

type ctxKey string

const (
	TraceIDKey   ctxKey = "traceID"
	RequestIDKey ctxKey = "requestID"

	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"

	// Incoming request ids longer than this are replaced.
	maxRequestIDLen = 128
)

var tracer = otel.Tracer("kestrel-api")

var corsHeaders = map[string]string{
	"Access-Control-Allow-Methods":     strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", "),
	"Access-Control-Allow-Headers":     "Content-Type, Authorization, " + RequestIDHeader + ", " + TraceIDHeader,
	"Access-Control-Expose-Headers":    RequestIDHeader + ", " + TraceIDHeader,
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Max-Age":           "86400",
}

// statusRecorder captures what the downstream handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func record(w http.ResponseWriter) *statusRecorder {
	if sr, ok := w.(*statusRecorder); ok {
		return sr
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(p)
	sr.bytes += n
	return n, err
}

// routeOf returns the matched chi pattern, which is only known once the
// router has dispatched the request.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func requestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > maxRequestIDLen {
		return uuid.NewString()
	}
	return id
}

// TracingMiddleware opens a server span per request and stamps the request
// and trace ids on both the context and the response.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestID(r)
		ctx, span := tracer.Start(r.Context(), "HTTP "+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("request.id", reqID),
			),
		)
		defer span.End()

		traceID := reqID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			traceID = sc.TraceID().String()
		}
		ctx = context.WithValue(ctx, RequestIDKey, reqID)
		ctx = context.WithValue(ctx, TraceIDKey, traceID)

		h := w.Header()
		h.Set(RequestIDHeader, reqID)
		h.Set(TraceIDHeader, traceID)

		sr := record(w)
		r = r.WithContext(ctx)
		next.ServeHTTP(sr, r)

		route := routeOf(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", sr.status),
		)
		if sr.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sr.status))
		}
	})
}

// LoggingMiddleware writes one access line per request. Server errors log
// at error level and client errors at warn.
func LoggingMiddleware(next http.Handler) http.Handler {
	logger := slog.Default().With("component", "api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sr := record(w)
		next.ServeHTTP(sr, r)

		level := slog.LevelInfo
		switch {
		case sr.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case sr.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("route", routeOf(r)),
			slog.String("path", r.URL.Path),
			slog.Int("status", sr.status),
			slog.Int("bytes", sr.bytes),
			slog.Int64("duration_ms", time.Since(began).Milliseconds()),
			slog.String("request_id", sr.Header().Get(RequestIDHeader)),
			slog.String("trace_id", sr.Header().Get(TraceIDHeader)),
		)
	})
}

// CORSMiddleware echoes the caller's origin so the dashboard can call the
// API from another host. Preflight requests stop here.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		for k, v := range corsHeaders {
			h.Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a JSON 500.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("handler panic",
				"component", "api",
				"panic", fmt.Sprint(rec),
				"method", r.Method,
				"path", r.URL.Path,
				"trace_id", GetTraceID(r.Context()),
			)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// MetricsMiddleware feeds the request counter and latency histogram. The
// route label is the chi pattern so ids do not explode cardinality.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			sr := record(w)
			next.ServeHTTP(sr, r)
			m.ObserveHTTP(r.Method, routeOf(r), sr.status, time.Since(began))
		})
	}
}

// GetTraceID returns the trace id TracingMiddleware stored, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}
