// Package httpserver implements the proxy's HTTP transport: a single
// unauthenticated /v1/chat/completions route plus /health, bound to
// loopback only (spec.md §3 "Proxy handle", §9 "Local-only binding").
// Grounded on eugener-gandalf/internal/server/{server.go,middleware.go}
// for router construction and middleware chain shape, adapted for a
// single-tenant process with no auth, rate limiting, or admin surface.
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawrouter/clawrouter-proxy/internal/catalog"
	"github.com/clawrouter/clawrouter-proxy/internal/core"
	"github.com/clawrouter/clawrouter-proxy/internal/dedup"
	"github.com/clawrouter/clawrouter-proxy/internal/forwarder"
	"github.com/clawrouter/clawrouter-proxy/internal/postprocessor"
	"github.com/clawrouter/clawrouter-proxy/internal/router"
	"github.com/clawrouter/clawrouter-proxy/internal/telemetry"
)

// WalletChecker reports whether the configured wallet currently holds no
// usable balance, forcing every request to the free fallback model
// (spec.md §4.1 "wallet-empty override").
type WalletChecker interface {
	Empty() bool
}

// Deps holds everything the HTTP layer needs; nil optional fields
// disable that feature the same way the teacher's server.Deps does.
type Deps struct {
	Router        *router.Router
	Catalog       *catalog.Catalog
	Forwarder     *forwarder.Client
	Dedup         *dedup.Cache // nil = no request coalescing
	Postprocessor postprocessor.Processor
	Wallet        WalletChecker
	WalletAddress string
	Metrics       *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler      // nil = no /metrics endpoint

	// Disabled makes the listener a transparent passthrough: it still
	// binds and answers /health, but /v1/chat/completions skips routing
	// and dedup entirely and forwards the request as sent, except that a
	// model of "auto" is tried against the MEDIUM tier's model list
	// (spec.md §6 "CLAWROUTER_DISABLED ... registers but does not
	// intercept").
	Disabled bool
}

// New builds the chi router with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	r.Get("/health", s.handleHealth)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Post("/v1/chat/completions", s.handleChatCompletion)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse("method not allowed"))
	})

	return r
}

type server struct {
	deps Deps
}

// securityHeaders sets defense-in-depth response headers on every request.
func (s *server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h["X-Content-Type-Options"] = nosniffVal
		h["X-Frame-Options"] = denyVal
		next.ServeHTTP(w, r)
	})
}

var (
	nosniffVal = []string{"nosniff"}
	denyVal    = []string{"DENY"}
)

// recovery catches panics and returns 500 instead of tearing down the
// single long-lived process.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-Id"

func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.Must(uuid.NewV7()).String()
		w.Header()[requestIDHeader] = []string{id}
		ctx := core.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", core.RequestIDFromContext(r.Context())),
		)
	})
}

func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, http.StatusText(sw.status)).Inc()
		})
	}
}

// statusWriter wraps ResponseWriter to capture the HTTP status code and to
// delegate Flush so SSE streaming works through the middleware chain.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }
