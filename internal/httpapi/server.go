// Package httpapi exposes the executor over HTTP.
//
// Routes:
//
//	GET /{runtime}/{module}   invoke a module; query parameters become its environment
//	GET /wasmer/infer         run the accelerator scenario (alias /wasmedge/infer)
//	GET /health               liveness
//	GET /metrics              Prometheus metrics, when enabled
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/caffeineduck/wasmfaas/accel"
	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/internal/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Invoker runs a module. *executor.Executor implements it.
type Invoker interface {
	Invoke(ctx context.Context, id string, params map[string]string, opts ...executor.Option) (*executor.Result, error)
}

// Inferer runs the accelerator scenario. *accel.Runner implements it.
type Inferer interface {
	Run(ctx context.Context) (*accel.Result, error)
}

// Server serves the HTTP API.
type Server struct {
	invoker         Invoker
	inferer         Inferer
	logger          *slog.Logger
	metrics         *observability.MetricsCollector
	metricsPath     string
	tracer          trace.Tracer
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	handler         http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithInferer enables GET /wasmer/infer. Without it the route answers 501.
func WithInferer(i Inferer) Option {
	return func(s *Server) {
		s.inferer = i
	}
}

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics records HTTP metrics in m and serves its registry at path.
func WithMetrics(m *observability.MetricsCollector, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithTracer sets the tracer for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithTimeouts sets the http.Server read and write timeouts and how long
// shutdown waits for in-flight requests.
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.shutdownTimeout = shutdown
	}
}

// New creates a Server.
func New(inv Invoker, opts ...Option) *Server {
	s := &Server{
		invoker:         inv,
		logger:          slog.New(slog.DiscardHandler),
		tracer:          noop.NewTracerProvider().Tracer(""),
		readTimeout:     10 * time.Second,
		shutdownTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}

	s.handler = s.requestID(s.instrument(s.recoverer(s.routes())))
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /wasmer/infer", s.handleInfer)
	// Older clients call the accelerator route by its WasmEdge name.
	mux.HandleFunc("GET /wasmedge/infer", s.handleInfer)
	mux.HandleFunc("GET /{runtime}/{module}", s.handleInvoke)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. It
// returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
