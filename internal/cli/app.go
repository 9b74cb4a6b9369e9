package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/auth"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/config"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/db"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/events"
	api "github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/http"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/ledger"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/logging"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/memstore"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/repo"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/scoring"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/service"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/workspace"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is everything the pipeline persists. Both the Postgres repository and
// the in-memory store implement it.
type Store interface {
	workspace.Store
	scoring.Source
	scoring.Sink
	intervention.Store
	ledger.Store
	events.Store
	service.Store
	api.ScoreReader
}

var (
	_ Store = (*repo.Repo)(nil)
	_ Store = (*memstore.Store)(nil)
)

// app is the wired pipeline shared by the commands.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	store Store
	pool  *pgxpool.Pool

	resolver      *workspace.Resolver
	emitter       *events.Emitter
	scorer        *scoring.Engine
	interventions *intervention.Engine
	ledger        *ledger.Ledger
	jobs          *service.Service
}

func loadConfig(opts *RootOptions) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, fmt.Errorf("logging: %w", err)
	}
	return cfg, log, nil
}

func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store; data is lost on exit")
		a.store = memstore.New()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.Workers)+2)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.store = repo.New(pool)
	}

	a.resolver = workspace.NewResolver(a.store, log)
	a.emitter = events.NewEmitter(a.store, log)
	a.scorer = scoring.NewEngine(a.store, a.store, a.emitter, log)
	a.interventions = intervention.NewEngine(a.store, log).WithDefaultTimezone(cfg.DefaultTimezone)
	a.ledger = ledger.New(a.store, log)
	a.jobs = service.New(a.resolver, a.scorer, a.interventions, a.store, log)
	a.jobs.Workers = cfg.Workers
	a.jobs.UserTimeout = cfg.UserTimeout
	a.jobs.Calendar = a.interventions
	return a, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) ping(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Ping(ctx)
}

func (a *app) httpAPI(authManager *auth.Manager) *api.API {
	return &api.API{
		Jobs:          a.jobs,
		Interventions: a.interventions,
		Ledger:        a.ledger,
		Scores:        a.store,
		Events:        a.emitter,
		Resolver:      a.resolver,
		Auth:          authManager,
		Origins:       api.SplitOrigins(a.cfg.CORSOrigin),
		Ping:          a.ping,
		Log:           a.log,
	}
}
