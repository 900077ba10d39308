// Package api provides the HTTP surface: sample ingestion over HTTP,
// per-patient dashboard queries, and profile administration. Cross-cutting
// concerns (request IDs, logging, panic recovery) are enforced before
// requests reach the handlers.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"breathguard/internal/types"
)

// SamplePipeline is the processing surface the API feeds and queries.
type SamplePipeline interface {
	Submit(ctx context.Context, sample *types.RawSample) error
	Latest(ctx context.Context, patientID string) (*types.StateSnapshot, error)
}

// ScoreReader serves the dashboard reading history.
type ScoreReader interface {
	RecentScores(ctx context.Context, patientID string, limit int) ([]types.RiskScore, error)
}

// EventReader serves the alert event history.
type EventReader interface {
	ListEvents(ctx context.Context, patientID string, limit int) ([]types.AlertEvent, error)
}

// ProfileStore serves profile reads and administration writes.
type ProfileStore interface {
	GetProfile(ctx context.Context, patientID string) (*types.PatientProfile, error)
	UpsertProfile(ctx context.Context, p *types.PatientProfile) error
}

// OutcomeReader serves the delivery-failure indicator.
type OutcomeReader interface {
	ListFailedOutcomes(ctx context.Context, patientID string, limit int) ([]types.DispatchOutcome, error)
}

// HealthProbe is a subsystem liveness check (database, redis).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Server bundles the API dependencies and router.
type Server struct {
	pipeline SamplePipeline
	scores   ScoreReader
	events   EventReader
	profiles ProfileStore
	outcomes OutcomeReader
	probes   []HealthProbe
	validate *validator.Validate
	logger   types.Logger
	clock    types.Clock
	router   *chi.Mux
}

// ServerConfig holds the dependencies for creating a Server.
type ServerConfig struct {
	Pipeline SamplePipeline
	Scores   ScoreReader
	Events   EventReader
	Profiles ProfileStore
	Outcomes OutcomeReader
	Probes   []HealthProbe
	Logger   types.Logger
	Clock    types.Clock
}

// NewServer builds the server and mounts all routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	s := &Server{
		pipeline: cfg.Pipeline,
		scores:   cfg.Scores,
		events:   cfg.Events,
		profiles: cfg.Profiles,
		outcomes: cfg.Outcomes,
		probes:   cfg.Probes,
		validate: validator.New(),
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		router:   chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

// Handler returns the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) mountRoutes() {
	r := s.router
	r.Use(Recoverer(s.logger))
	r.Use(RequestID)
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/samples", s.handleSubmitSample)

		r.Route("/patients/{patientID}", func(r chi.Router) {
			r.Get("/latest", s.handleLatest)
			r.Get("/readings", s.handleReadings)
			r.Get("/events", s.handleEvents)
			r.Get("/profile", s.handleGetProfile)
			r.Put("/profile", s.handlePutProfile)
			r.Get("/deliveries/failed", s.handleFailedDeliveries)
		})
	})
}
