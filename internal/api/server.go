package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"

	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/operation"
	"github.com/SimplyPrint/sign-agent/internal/registry"
	"github.com/SimplyPrint/sign-agent/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Options wires the local server to the rest of the agent.
type Options struct {
	Addr           string
	Factory        *operation.Factory
	Runner         *operation.Runner
	Registry       *registry.Database
	Autostart      service.Service     // nil disables /v1/autostart
	Gatherer       prometheus.Gatherer // nil disables /metrics
	AllowedOrigins []string            // web origins allowed to call; none admits only native clients
	OnShutdown     func()              // nil disables /v1/shutdown
}

// Server is the loopback HTTP and websocket trigger surface.
type Server struct {
	opts     Options
	origins  map[string]bool
	isReady  atomic.Bool
	hub      *WSHub
	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer builds the server. It does not listen until ListenAndServe.
func NewServer(opts Options) *Server {
	s := &Server{opts: opts, origins: make(map[string]bool), hub: NewWSHub()}
	for _, o := range opts.AllowedOrigins {
		s.origins[normalizeOrigin(o)] = true
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.allowRequest}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger)
	mux.Use(recoveryMiddleware)
	mux.Use(s.originGuard)
	mux.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return s.origins[normalizeOrigin(origin)]
		},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	mux.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/health", s.handleHealth)

		r.Get("/cards", s.handleListCards)
		r.Get("/certificate", s.handleCertificate)
		r.Post("/sign", s.handleSign)
		r.Post("/sync", s.handleSync)
		r.Post("/requests/{id}", s.handleProcessRequest)

		r.Get("/logs", handleLogs)
		r.Delete("/logs", handleClearLogs)
		r.Get("/crashes", handleCrashes)
		r.Get("/settings", handleGetSettings)
		r.Post("/settings", handleUpdateSettings)
		r.Get("/autostart", s.handleAutostart)
		r.Post("/autostart", s.handleAutostart)
		r.Delete("/autostart", s.handleAutostart)
		r.Post("/shutdown", s.handleShutdown)

		r.Get("/ws", s.handleWebSocket)
	})

	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// SetShutdownHook installs the handler behind POST /v1/shutdown. Call it before serving.
func (s *Server) SetShutdownHook(fn func()) { s.opts.OnShutdown = fn }

// SetReady marks the server ready or draining.
func (s *Server) SetReady(ready bool) { s.isReady.Store(ready) }

// Ready reports whether the server accepts operations.
func (s *Server) Ready() bool { return s.isReady.Load() }

// Serve accepts connections on l until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address": l.Addr().String(),
		})
		s.SetReady(true)
		errCh <- s.srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		s.SetReady(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(logging.CatSystem, "Graceful HTTP shutdown failed", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	logging.Info(logging.CatSystem, "Server stopped", nil)
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, l)
}

// allowRequest reports whether r comes from a native client or an allowed web
// origin. Browsers attach Origin to cross-origin requests and Sec-Fetch-Site
// to the rest.
func (s *Server) allowRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return r.Header.Get("Sec-Fetch-Site") != "cross-site"
	}
	return s.origins[normalizeOrigin(origin)]
}

// originGuard refuses requests from web pages outside the allowed origins
// before any handler runs.
func (s *Server) originGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowRequest(r) {
			logging.Warn(logging.CatHTTP, "Refused request from foreign origin", map[string]any{
				"origin": r.Header.Get("Origin"),
				"method": r.Method,
				"path":   r.URL.Path,
			})
			respondError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug(logging.CatHTTP, "Request", map[string]any{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start).String(),
			"requestId": middleware.GetReqID(r.Context()),
		})
	})
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := debug.Stack()
			where := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

			logging.CapturePanic(rec, stack, where)
			logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", where, rec), map[string]any{
				"panic":  fmt.Sprintf("%v", rec),
				"stack":  string(stack),
				"method": r.Method,
				"path":   r.URL.Path,
			})

			crashFile, err := logging.WriteCrashLog(rec, stack)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
				crashFile = ""
			}

			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error":     "internal server error",
				"crashFile": crashFile,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
