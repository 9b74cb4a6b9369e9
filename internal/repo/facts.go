package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/scoring"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const taskColumns = `id::text, user_id::text, workspace_id::text, title, priority, status, due_date, start_date,
	COALESCE(estimated_minutes, 0), completed_at, created_at`

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	var priority, status string
	err := row.Scan(&t.ID, &t.UserID, &t.WorkspaceID, &t.Title, &priority, &status, &t.DueDate, &t.StartDate,
		&t.EstimatedMinutes, &t.CompletedAt, &t.CreatedAt)
	t.Priority = models.Priority(priority)
	t.Status = models.TaskStatus(status)
	return t, err
}

func queryTasks(ctx context.Context, q dbtx, sql string, args ...any) ([]models.Task, error) {
	rows, err := q.Query(ctx, `SELECT `+taskColumns+` FROM tasks `+sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// activeHabitsFilter selects habits active at the end of the day in $2,
// counting a pause as lapsed once paused_until has passed.
const activeHabitsFilter = `h.user_id=$1 AND (h.is_active OR h.paused_until <= ($2::date + 1)::timestamptz)`

func decimalText(ctx context.Context, q dbtx, sql string, args ...any) (decimal.Decimal, error) {
	var s string
	if err := q.QueryRow(ctx, sql, args...).Scan(&s); err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

func monthSpend(ctx context.Context, q dbtx, userID string, date time.Time) (decimal.Decimal, error) {
	return decimalText(ctx, q, `SELECT COALESCE(SUM(amount), 0)::text FROM finance_transactions
		WHERE user_id=$1 AND type='expense' AND date BETWEEN date_trunc('month', $2::date)::date AND $2::date`,
		userID, date)
}

func (r *Repo) LoadFacts(ctx context.Context, scope models.Scope, date time.Time) (scoring.Facts, error) {
	date = models.Day(date)
	f := scoring.Facts{Date: date}
	windowStart := date.AddDate(0, 0, -(scoring.TrailingDays - 1))

	err := r.Pool.QueryRow(ctx, `SELECT count(*), count(*) FILTER (WHERE a.done_today), COALESCE(SUM(a.window_logs), 0)::bigint
		FROM (
			SELECT EXISTS (SELECT 1 FROM habit_logs l WHERE l.habit_id=h.id AND l.date=$2 AND l.completed) AS done_today,
				(SELECT count(*) FROM habit_logs l WHERE l.habit_id=h.id AND l.completed AND l.date BETWEEN $3 AND $2) AS window_logs
			FROM habits h WHERE `+activeHabitsFilter+`
		) a`,
		scope.UserID, date, windowStart).Scan(&f.ActiveHabits, &f.HabitsCompletedToday, &f.HabitLogsCompleted7d)
	if err != nil {
		return f, fmt.Errorf("habits: %w", err)
	}

	rows, err := r.Pool.Query(ctx, `SELECT priority, status='done' FROM tasks
		WHERE user_id=$1 AND status <> 'cancelled' AND (due_date=$2 OR start_date=$2)`, scope.UserID, date)
	if err != nil {
		return f, fmt.Errorf("tasks: %w", err)
	}
	for rows.Next() {
		var priority string
		var done bool
		if err := rows.Scan(&priority, &done); err != nil {
			rows.Close()
			return f, err
		}
		f.Tasks = append(f.Tasks, scoring.TaskFact{Priority: models.Priority(priority), Done: done})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return f, fmt.Errorf("tasks: %w", err)
	}

	err = r.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(duration_minutes), 0)::bigint FROM focus_sessions
		WHERE user_id=$1 AND date=$2`, scope.UserID, date).Scan(&f.FocusMinutes)
	if err != nil {
		return f, fmt.Errorf("focus: %w", err)
	}

	if f.MonthlyBudget, err = decimalText(ctx, r.Pool, `SELECT COALESCE(SUM(monthly_limit), 0)::text FROM budgets
		WHERE user_id=$1 AND NOT is_global`, scope.UserID); err != nil {
		return f, fmt.Errorf("budget: %w", err)
	}
	if f.MonthSpend, err = monthSpend(ctx, r.Pool, scope.UserID, date); err != nil {
		return f, fmt.Errorf("spend: %w", err)
	}

	prev, err := r.Pool.Query(ctx, `SELECT global_score FROM daily_scores
		WHERE user_id=$1 AND date >= $2 AND date < $3 ORDER BY date`, scope.UserID, windowStart, date)
	if err != nil {
		return f, fmt.Errorf("previous scores: %w", err)
	}
	defer prev.Close()
	for prev.Next() {
		var s float64
		if err := prev.Scan(&s); err != nil {
			return f, err
		}
		f.PreviousScores = append(f.PreviousScores, s)
	}
	return f, prev.Err()
}

func (r *Repo) Preferences(ctx context.Context, userID string) (models.Preferences, error) {
	p := models.Preferences{UserID: userID}
	err := r.Pool.QueryRow(ctx, `SELECT daily_capacity_minutes, timezone FROM user_preferences WHERE user_id=$1`, userID).
		Scan(&p.DailyCapacityMinutes, &p.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Preferences{}, ErrNotFound
	}
	return p, err
}

func (r *Repo) LoadState(ctx context.Context, scope models.Scope, date time.Time) (intervention.State, error) {
	date = models.Day(date)
	st := intervention.State{Scope: scope, Date: date}

	score, err := r.DailyScore(ctx, scope.UserID, date)
	switch {
	case err == nil:
		st.Score = &score
	case !errors.Is(err, ErrNotFound):
		return st, fmt.Errorf("score: %w", err)
	}

	st.TodayTasks, err = queryTasks(ctx, r.Pool, `WHERE user_id=$1 AND due_date=$2 AND status IN ('todo','doing') ORDER BY id`,
		scope.UserID, date)
	if err != nil {
		return st, fmt.Errorf("tasks: %w", err)
	}

	rows, err := r.Pool.Query(ctx, `SELECT h.id::text, h.user_id::text, h.workspace_id::text, h.name, h.current_streak, h.paused_until,
			EXISTS (SELECT 1 FROM habit_logs l WHERE l.habit_id=h.id AND l.date=$2 AND l.completed)
		FROM habits h WHERE `+activeHabitsFilter+` ORDER BY h.id`, scope.UserID, date)
	if err != nil {
		return st, fmt.Errorf("habits: %w", err)
	}
	for rows.Next() {
		h := models.Habit{IsActive: true}
		if err := rows.Scan(&h.ID, &h.UserID, &h.WorkspaceID, &h.Name, &h.CurrentStreak, &h.PausedUntil, &h.CompletedToday); err != nil {
			rows.Close()
			return st, err
		}
		st.Habits = append(st.Habits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("habits: %w", err)
	}

	if st.MonthExpense, err = monthSpend(ctx, r.Pool, scope.UserID, date); err != nil {
		return st, fmt.Errorf("spend: %w", err)
	}
	// The global budget wins; category budgets are summed otherwise.
	st.MonthlyBudgetLimit, err = decimalText(ctx, r.Pool, `SELECT COALESCE(
			NULLIF(SUM(monthly_limit) FILTER (WHERE is_global), 0),
			SUM(monthly_limit) FILTER (WHERE NOT is_global),
			0)::text
		FROM budgets WHERE user_id=$1`, scope.UserID)
	if err != nil {
		return st, fmt.Errorf("budget: %w", err)
	}
	return st, nil
}

func (r *Repo) LoadManualState(ctx context.Context, scope models.Scope, date time.Time) (intervention.ManualState, error) {
	var st intervention.ManualState
	var err error
	st.Doing, err = queryTasks(ctx, r.Pool, `WHERE user_id=$1 AND status='doing' ORDER BY id`, scope.UserID)
	if err != nil {
		return st, err
	}
	st.DueToday, err = queryTasks(ctx, r.Pool, `WHERE user_id=$1 AND status='todo' AND due_date=$2 ORDER BY id`,
		scope.UserID, models.Day(date))
	return st, err
}
