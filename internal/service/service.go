// Package service drives the per-user pipeline (resolve workspace, compute
// score, evaluate interventions) for one user or for every known user.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const JobDailyScores = "daily_scores"

const (
	DefaultWorkers     = 4
	DefaultUserTimeout = 30 * time.Second
)

type Resolver interface {
	Scope(ctx context.Context, userID string) (models.Scope, error)
}

type Scorer interface {
	Compute(ctx context.Context, scope models.Scope, date time.Time) (models.DailyScore, error)
}

type Intervener interface {
	EvaluateAndApply(ctx context.Context, scope models.Scope, date time.Time) (intervention.Report, error)
}

// Calendar reports a user's current local date.
type Calendar interface {
	Today(ctx context.Context, userID string) time.Time
}

type Store interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	RecordJobRun(ctx context.Context, run models.JobRun) error
}

type UserResult struct {
	UserID        string                    `json:"user_id"`
	Date          string                    `json:"date,omitempty"`
	WorkspaceID   string                    `json:"workspace_id,omitempty"`
	Success       bool                      `json:"success"`
	Score         *models.DailyScore        `json:"score,omitempty"`
	Interventions []models.Intervention     `json:"interventions,omitempty"`
	Rules         []intervention.RuleResult `json:"rules,omitempty"`
	Error         string                    `json:"error,omitempty"`
}

type BatchResult struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []UserResult `json:"results,omitempty"`
}

type Service struct {
	Resolver      Resolver
	Scorer        Scorer
	Interventions Intervener
	Store         Store
	// Calendar resolves the date of runs started without one. When nil
	// such runs use the current UTC date.
	Calendar      Calendar
	Workers       int
	UserTimeout   time.Duration
	Log           *slog.Logger
	Now           func() time.Time
}

func New(resolver Resolver, scorer Scorer, interventions Intervener, store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Resolver:      resolver,
		Scorer:        scorer,
		Interventions: interventions,
		Store:         store,
		Workers:       DefaultWorkers,
		UserTimeout:   DefaultUserTimeout,
		Log:           log,
		Now:           time.Now,
	}
}

// ProcessUser runs the pipeline for one user. A zero date means the user's
// local today. The score is upserted before interventions read it. Errors
// are captured in the result.
func (s *Service) ProcessUser(ctx context.Context, userID string, date time.Time) UserResult {
	res := UserResult{UserID: userID}
	if s.UserTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.UserTimeout)
		defer cancel()
	}
	date = s.dateFor(ctx, userID, date)
	res.Date = date.Format(models.DateLayout)

	scope, err := s.Resolver.Scope(ctx, userID)
	if err != nil {
		res.Error = fmt.Sprintf("resolve workspace: %v", err)
		return res
	}
	res.WorkspaceID = scope.WorkspaceID

	score, err := s.Scorer.Compute(ctx, scope, date)
	if err != nil {
		res.Error = fmt.Sprintf("compute score: %v", err)
		return res
	}
	res.Score = &score

	if s.Interventions != nil {
		report, err := s.Interventions.EvaluateAndApply(ctx, scope, date)
		res.Interventions = report.Interventions
		res.Rules = report.Results
		if err != nil {
			res.Error = fmt.Sprintf("interventions: %v", err)
			return res
		}
	}
	res.Success = true
	return res
}

// Run processes userIDs, or every known user when userIDs is empty, for date
// and records a job run. A zero date runs each user on their local today.
// Cancellation is checked before each user; users not started are not
// counted. Results are included only for single-user runs.
func (s *Service) Run(ctx context.Context, date time.Time, userIDs ...string) (BatchResult, error) {
	started := s.Now()
	runDate := models.Day(started.UTC())
	if !date.IsZero() {
		date = models.Day(date)
		runDate = date
	}
	single := len(userIDs) == 1

	if len(userIDs) == 0 {
		ids, err := s.Store.ListUserIDs(ctx)
		if err != nil {
			return BatchResult{}, fmt.Errorf("list users: %w", err)
		}
		userIDs = ids
	}

	var (
		mu      sync.Mutex
		results []UserResult
	)
	g := new(errgroup.Group)
	g.SetLimit(s.workers())
	for _, id := range userIDs {
		if ctx.Err() != nil {
			break
		}
		userID := id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := s.ProcessUser(ctx, userID, date)
			if !res.Success {
				s.Log.Warn("user pipeline failed", "user_id", userID, "date", res.Date, "error", res.Error)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].UserID < results[j].UserID })
	batch := BatchResult{Processed: len(results)}
	for _, r := range results {
		if r.Success {
			batch.Successful++
		} else {
			batch.Failed++
		}
	}
	if single {
		batch.Results = results
	}

	cancelled := ctx.Err() != nil
	s.record(runDate, started, batch, cancelled)
	if cancelled {
		return batch, ctx.Err()
	}
	return batch, nil
}

func (s *Service) record(date, started time.Time, batch BatchResult, cancelled bool) {
	finished := s.Now()
	run := models.JobRun{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Job:        JobDailyScores,
		RunDate:    date,
		Status:     JobStatus(batch, cancelled),
		Processed:  batch.Processed,
		Successful: batch.Successful,
		Failed:     batch.Failed,
		Duration:   finished.Sub(started),
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
	}
	switch run.Status {
	case models.JobDegraded, models.JobFailed:
		run.Message = fmt.Sprintf("%d/%d users failed", batch.Failed, batch.Processed)
	case models.JobCancelled:
		run.Message = fmt.Sprintf("cancelled after %d users", batch.Processed)
	}

	// The run record outlives a cancelled request context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Store.RecordJobRun(ctx, run); err != nil {
		s.Log.Error("record job run", "job", run.Job, "error", err)
		return
	}
	s.Log.Info("job run finished",
		"job", run.Job,
		"date", date.Format(models.DateLayout),
		"status", run.Status,
		"processed", run.Processed,
		"failed", run.Failed,
		"duration", run.Duration)
}

// JobStatus classifies a finished batch.
func JobStatus(batch BatchResult, cancelled bool) models.JobStatus {
	switch {
	case cancelled:
		return models.JobCancelled
	case batch.Failed == 0:
		return models.JobSuccess
	case batch.Successful == 0:
		return models.JobFailed
	default:
		return models.JobDegraded
	}
}

func (s *Service) dateFor(ctx context.Context, userID string, date time.Time) time.Time {
	if !date.IsZero() {
		return models.Day(date)
	}
	if s.Calendar != nil {
		return s.Calendar.Today(ctx, userID)
	}
	return models.Day(s.Now().UTC())
}

func (s *Service) workers() int {
	if s.Workers <= 0 {
		return DefaultWorkers
	}
	return s.Workers
}
