// Package server exposes an Engine over the network: a websocket endpoint
// through which instrumented runtimes stream their data, a JSON query API
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jward/tracegraph"
)

// Server serves one Engine.
type Server struct {
	engine          *tracegraph.Engine
	logger          *slog.Logger
	addr            string
	shutdownTimeout time.Duration

	router   *mux.Router
	registry *prometheus.Registry
	metrics  *metrics
	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address used by ListenAndServe.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithShutdownTimeout bounds how long Serve waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// New creates a Server for engine.
func New(engine *tracegraph.Engine, opts ...Option) *Server {
	s := &Server{
		engine:          engine,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		addr:            "127.0.0.1:2719",
		shutdownTimeout: 5 * time.Second,
		registry:        prometheus.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newMetrics(s.registry, func() float64 {
		return float64(len(s.engine.Applications()))
	})
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/runtime", s.handleRuntime)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/applications", s.listApplications).Methods(http.MethodGet)

	app := api.PathPrefix("/applications/{app:[0-9]+}").Subrouter()
	app.HandleFunc("/roots", s.withApp(s.roots)).Methods(http.MethodGet)
	app.HandleFunc("/waiting", s.withApp(s.waiting)).Methods(http.MethodGet)
	app.HandleFunc("/contexts/{id:[0-9]+}", s.withApp(s.context)).Methods(http.MethodGet)
	app.HandleFunc("/contexts/{id:[0-9]+}/ancestors", s.withApp(s.ancestors)).Methods(http.MethodGet)
	app.HandleFunc("/contexts/{id:[0-9]+}/children", s.withApp(s.children)).Methods(http.MethodGet)
	app.HandleFunc("/contexts/{id:[0-9]+}/traces", s.withApp(s.contextTraces)).Methods(http.MethodGet)
	app.HandleFunc("/traces/{id:[0-9]+}", s.withApp(s.trace)).Methods(http.MethodGet)
	app.HandleFunc("/runs/{id:[0-9]+}/traces", s.withApp(s.runTraces)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully and
// closes open runtime connections.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.closeConns()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		s.logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

func (s *Server) trackConn(c *websocket.Conn) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
	s.metrics.connections.Inc()
}

func (s *Server) untrackConn(c *websocket.Conn) {
	s.connsMu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.connsMu.Unlock()
	if ok {
		s.metrics.connections.Dec()
	}
}

func (s *Server) closeConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}
