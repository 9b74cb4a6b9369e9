package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/events"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"
)

// Thresholds that raise fire-and-forget signals after a computation.
const (
	BurnoutCriticalAbove = 70.0
	FinanceAlertBelow    = 30.0
)

// Source reads the raw behavioral facts of a user's day.
type Source interface {
	LoadFacts(ctx context.Context, scope models.Scope, date time.Time) (Facts, error)
}

// Sink persists scores. Both writes are upserts keyed on (user_id, date).
type Sink interface {
	UpsertDailyScore(ctx context.Context, score models.DailyScore) error
	UpsertDailyStats(ctx context.Context, stats models.DailyStats) error
}

type Emitter interface {
	Emit(ctx context.Context, scope models.Scope, spec events.Spec) (string, bool)
}

type Engine struct {
	source  Source
	sink    Sink
	emitter Emitter
	log     *slog.Logger
	now     func() time.Time
}

func NewEngine(source Source, sink Sink, emitter Emitter, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{source: source, sink: sink, emitter: emitter, log: log, now: time.Now}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Compute computes and upserts the user's score and stats for date.
// Recomputing the same date overwrites the earlier values.
func (e *Engine) Compute(ctx context.Context, scope models.Scope, date time.Time) (models.DailyScore, error) {
	date = models.Day(date)
	facts, err := e.source.LoadFacts(ctx, scope, date)
	if err != nil {
		return models.DailyScore{}, fmt.Errorf("load facts for %s on %s: %w", scope.UserID, date.Format(models.DateLayout), err)
	}
	facts.Date = date

	score := Compute(facts)
	score.UserID = scope.UserID
	score.WorkspaceID = scope.WorkspaceID
	score.ComputedAt = e.now().UTC()

	if err := e.sink.UpsertDailyScore(ctx, score); err != nil {
		return models.DailyScore{}, fmt.Errorf("upsert daily score: %w", err)
	}
	if err := e.sink.UpsertDailyStats(ctx, Stats(facts, score)); err != nil {
		return models.DailyScore{}, fmt.Errorf("upsert daily stats: %w", err)
	}
	e.log.Debug("score computed",
		"user_id", scope.UserID,
		"date", date.Format(models.DateLayout),
		"global", score.GlobalScore,
		"burnout", score.BurnoutIndex)

	e.signal(ctx, scope, score)
	return score, nil
}

func (e *Engine) signal(ctx context.Context, scope models.Scope, score models.DailyScore) {
	if e.emitter == nil {
		return
	}
	day := score.Date.Format(models.DateLayout)
	if score.BurnoutIndex > BurnoutCriticalAbove {
		e.emitter.Emit(ctx, scope, events.Spec{
			Entity:   "daily_score",
			EntityID: day,
			Name:     events.BurnoutCritical,
			Key:      map[string]any{"date": day},
			Payload:  map[string]any{"date": day, "burnout_index": score.BurnoutIndex},
		})
	}
	if score.FinanceScore < FinanceAlertBelow {
		e.emitter.Emit(ctx, scope, events.Spec{
			Entity:   "daily_score",
			EntityID: day,
			Name:     events.BudgetThresholdReached,
			Key:      map[string]any{"date": day},
			Payload:  map[string]any{"date": day, "finance_score": score.FinanceScore},
		})
	}
}
