// Package api serves the inventory over HTTP, for Ansible controllers that
// fetch their dynamic inventory from a URL instead of running a script.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	mw "github.com/edvin/ec2-inventory/internal/api/middleware"
	"github.com/edvin/ec2-inventory/internal/api/response"
	"github.com/edvin/ec2-inventory/internal/inventory"
	"github.com/edvin/ec2-inventory/internal/metrics"
	"github.com/edvin/ec2-inventory/internal/model"
)

// Synthesizer produces inventory documents.
type Synthesizer interface {
	Run(ctx context.Context, opts inventory.RunOptions) (*model.Document, error)
}

type Server struct {
	router  chi.Router
	logger  zerolog.Logger
	synth   Synthesizer
	metrics *metrics.Metrics

	// Runs are serialized: concurrent requests would otherwise race to
	// refresh the same cache entry.
	mu sync.Mutex
}

func NewServer(logger zerolog.Logger, synth Synthesizer, m *metrics.Metrics) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
		synth:   synth,
		metrics: m,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics(s.metrics.Registry()))
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/inventory", func(r chi.Router) {
		r.Get("/", s.handleInventory)
		r.Get("/hosts/{address}", s.handleHost)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInventory returns the full document. ?refresh=true bypasses the
// cache read.
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	s.serveInventory(w, r, inventory.RunOptions{Refresh: r.URL.Query().Get("refresh") == "true"}, "")
}

// handleHost returns one host's vars, or {} for an unknown host.
func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	s.serveInventory(w, r, inventory.RunOptions{}, chi.URLParam(r, "address"))
}

func (s *Server) serveInventory(w http.ResponseWriter, r *http.Request, opts inventory.RunOptions, address string) {
	s.mu.Lock()
	doc, err := s.synth.Run(r.Context(), opts)
	s.mu.Unlock()

	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("synthesis failed")
		response.WriteRunError(w, err)
		return
	}
	response.WriteInventory(w, doc, address)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
