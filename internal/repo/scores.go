package repo

import (
	"context"
	"errors"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/jackc/pgx/v5"
)

func (r *Repo) UpsertDailyScore(ctx context.Context, s models.DailyScore) error {
	_, err := r.Pool.Exec(ctx, `INSERT INTO daily_scores (user_id, workspace_id, date, global_score, habits_score, tasks_score,
			finance_score, health_score, momentum_index, burnout_index, consistency_factor, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (user_id, date) DO UPDATE SET
			workspace_id=EXCLUDED.workspace_id, global_score=EXCLUDED.global_score, habits_score=EXCLUDED.habits_score,
			tasks_score=EXCLUDED.tasks_score, finance_score=EXCLUDED.finance_score, health_score=EXCLUDED.health_score,
			momentum_index=EXCLUDED.momentum_index, burnout_index=EXCLUDED.burnout_index,
			consistency_factor=EXCLUDED.consistency_factor, computed_at=EXCLUDED.computed_at`,
		s.UserID, s.WorkspaceID, s.Date, s.GlobalScore, s.HabitsScore, s.TasksScore, s.FinanceScore, s.HealthScore,
		s.MomentumIndex, s.BurnoutIndex, s.ConsistencyFactor, s.ComputedAt)
	return err
}

func (r *Repo) UpsertDailyStats(ctx context.Context, s models.DailyStats) error {
	_, err := r.Pool.Exec(ctx, `INSERT INTO daily_stats (user_id, workspace_id, date, tasks_planned, tasks_completed,
			habits_completed, habits_total, focus_minutes, completion_rate, productivity_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id, date) DO UPDATE SET
			workspace_id=EXCLUDED.workspace_id, tasks_planned=EXCLUDED.tasks_planned, tasks_completed=EXCLUDED.tasks_completed,
			habits_completed=EXCLUDED.habits_completed, habits_total=EXCLUDED.habits_total, focus_minutes=EXCLUDED.focus_minutes,
			completion_rate=EXCLUDED.completion_rate, productivity_score=EXCLUDED.productivity_score`,
		s.UserID, s.WorkspaceID, s.Date, s.TasksPlanned, s.TasksCompleted, s.HabitsCompleted, s.HabitsTotal,
		s.FocusMinutes, s.CompletionRate, s.ProductivityScore)
	return err
}

func (r *Repo) DailyScore(ctx context.Context, userID string, date time.Time) (models.DailyScore, error) {
	var s models.DailyScore
	err := r.Pool.QueryRow(ctx, `SELECT user_id::text, workspace_id::text, date, global_score, habits_score, tasks_score,
			finance_score, health_score, momentum_index, burnout_index, consistency_factor, computed_at
		FROM daily_scores WHERE user_id=$1 AND date=$2`, userID, models.Day(date)).
		Scan(&s.UserID, &s.WorkspaceID, &s.Date, &s.GlobalScore, &s.HabitsScore, &s.TasksScore, &s.FinanceScore,
			&s.HealthScore, &s.MomentumIndex, &s.BurnoutIndex, &s.ConsistencyFactor, &s.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DailyScore{}, ErrNotFound
	}
	return s, err
}
