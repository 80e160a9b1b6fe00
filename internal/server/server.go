// Package server exposes the runtime's REST and WebSocket API under
// /api/v1, plus the Prometheus scrape endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomhq/loom/internal/approval"
	"github.com/loomhq/loom/internal/contacts"
	"github.com/loomhq/loom/internal/costguard"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/projects"
	"github.com/loomhq/loom/internal/prompt"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/sessions"
	"github.com/loomhq/loom/internal/trace"
	"github.com/loomhq/loom/internal/webhook"
)

// Config wires the server's collaborators.
type Config struct {
	Projects  projects.Store
	Sessions  sessions.Store
	Contacts  contacts.Store
	Approvals *approval.Gate
	Usage     costguard.Store
	Traces    trace.Store
	Layers    prompt.LayerStore
	Host      *runner.Host

	// Webhooks enables the channel webhook intake endpoint when set.
	Webhooks *webhook.Service

	Metrics *metrics.Metrics

	// CORSOrigin is the allowed origin for browser clients. "*" allows all.
	CORSOrigin string

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	router   chi.Router
	http     *http.Server
}

// New creates a server with all routes registered.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.CORSOrigin == "" || cfg.CORSOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.CORSOrigin
			},
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr until the context is canceled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()
	s.cfg.Logger.Info("api server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)
	r.Use(s.observeMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondData(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{id}", s.handleGetProject)
		r.Patch("/projects/{id}", s.handlePatchProject)
		r.Delete("/projects/{id}", s.handleDeleteProject)

		r.Get("/projects/{id}/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sessions/{id}/messages", s.handleListMessages)

		r.Get("/projects/{id}/contacts", s.handleListContacts)

		r.Get("/approvals", s.handleListApprovals)
		r.Post("/approvals/{id}/approve", s.handleApprove)
		r.Post("/approvals/{id}/reject", s.handleReject)

		r.Get("/projects/{id}/usage", s.handleUsage)
		r.Get("/dashboard/overview", s.handleOverview)

		r.Get("/traces", s.handleListTraces)
		r.Get("/traces/{id}", s.handleGetTrace)

		r.Get("/projects/{id}/prompt-layers", s.handleListLayers)
		r.Post("/projects/{id}/prompt-layers", s.handleCreateLayer)
		r.Post("/prompt-layers/{id}/activate", s.handleActivateLayer)

		r.Post("/webhooks/{projectId}/{provider}", s.handleWebhookIntake)

		r.Get("/chat/stream", s.handleChatStream)
	})
	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.cfg.CORSOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades hijack the connection; wrapping the writer
		// would break the upgrade.
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		if s.cfg.Metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			s.cfg.Metrics.HTTPRequestDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
				Observe(time.Since(start).Seconds())
		}
	})
}
