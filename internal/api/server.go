// Package api is the HTTP relay in front of a registry node. It
// authenticates signed requests, forwards mutating requests to the
// sequencer, and serves the read projections and the event log. All
// authorization decisions are made by the registry.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gezibash/arc-provenance/internal/feed"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/sequencer"
	"github.com/gezibash/arc-provenance/internal/statestore"
	"github.com/gezibash/arc-provenance/pkg/reqauth"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// Config configures the relay.
type Config struct {
	MaxBodyBytes int64
	ClockSkew    time.Duration
	Backend      string
	Version      string
	// Now is the clock used for signature skew checks. Defaults to time.Now.
	Now func() time.Time
}

// Server serves the relay routes.
type Server struct {
	seq      *sequencer.Sequencer
	machine  *registry.Machine
	store    *statestore.Store
	feed     *feed.Feed
	metrics  *observability.Metrics
	cfg      Config
	verifier reqauth.Verifier
	router   chi.Router
}

// New builds the relay.
func New(seq *sequencer.Sequencer, store *statestore.Store, f *feed.Feed, metrics *observability.Metrics, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = reqauth.DefaultMaxSkew
	}
	s := &Server{
		seq:      seq,
		machine:  seq.Machine(),
		store:    store,
		feed:     f,
		metrics:  metrics,
		cfg:      cfg,
		verifier: reqauth.Verifier{MaxSkew: cfg.ClockSkew, Now: cfg.Now},
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(observability.HTTPMiddleware(s.metrics, routePattern))
	r.Use(accessLog)

	r.Route("/v1", func(r chi.Router) {
		r.With(s.authenticate).Post("/transitions", s.handleSubmit)

		r.Get("/roles/{role}/members", s.handleRoleMembers)
		r.Get("/roles/{role}/members/{principal}", s.handleHasRole)

		r.Get("/documents/{hash}", s.handleGetDocument)
		r.Get("/documents/{hash}/verify", s.handleVerifyDocument)
		r.Get("/documents/{hash}/viewers/{viewer}", s.handleCanView)
		r.With(s.authenticate).Get("/documents/{hash}/viewers/{viewer}/key", s.handleViewerKey)
		r.Get("/owners/{owner}/documents", s.handleDocumentsByOwner)

		r.Get("/accounts/{principal}/nonce", s.handleNonce)

		r.Get("/events", s.handleEvents)
		r.Get("/events/stream", s.handleStream)

		r.Get("/status", s.handleStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, registry.ErrNotFound)
	})
	return r
}
