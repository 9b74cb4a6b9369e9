package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/auth"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/events"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/ledger"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/service"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/workspace"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ScoreReader reads persisted daily scores.
type ScoreReader interface {
	DailyScore(ctx context.Context, userID string, date time.Time) (models.DailyScore, error)
}

type API struct {
	Jobs          *service.Service
	Interventions *intervention.Engine
	Ledger        *ledger.Ledger
	Scores        ScoreReader
	Events        *events.Emitter
	Resolver      *workspace.Resolver
	Auth          *auth.Manager
	Origins       []string
	// Ping reports storage health; nil means always healthy.
	Ping func(ctx context.Context) error
	Log  *slog.Logger
	Now  func() time.Time
}

// SplitOrigins parses a comma separated CORS_ORIGIN value.
func SplitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(a.loggingMiddleware)
	r.Use(a.corsMiddleware)

	r.Get("/health", a.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(a.authMiddleware)
		// Batch runs bound each user with their own timeout.
		r.Post("/scores/compute", a.handleComputeScores)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/scores", a.handleGetScore)
			r.Get("/interventions", a.handleListInterventions)
			r.Post("/interventions/apply", a.handleApplyIntervention)
			r.Get("/undo", a.handleListUndo)
			r.Post("/undo/{id}/revert", a.handleRevert)
		})
	})

	return r
}

func (a *API) log() *slog.Logger {
	if a.Log == nil {
		return slog.Default()
	}
	return a.Log
}

func (a *API) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
