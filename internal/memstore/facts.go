package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/scoring"

	"github.com/shopspring/decimal"
)

func sameDay(t *time.Time, date time.Time) bool {
	return t != nil && models.Day(*t).Equal(date)
}

// activeHabits returns the user's habits active during date, sorted by id.
func (s *Store) activeHabits(userID string, date time.Time) []models.Habit {
	endOfDay := date.AddDate(0, 0, 1)
	var out []models.Habit
	for _, h := range s.habits {
		if h.UserID != userID || !h.ActiveAt(endOfDay) {
			continue
		}
		h.IsActive = true
		h.CompletedToday = s.habitLogs[h.ID][date]
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) monthSpend(userID string, date time.Time) decimal.Decimal {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	total := decimal.Zero
	for _, e := range s.expenses {
		if e.userID == userID && !e.date.Before(first) && !e.date.After(date) {
			total = total.Add(e.amount)
		}
	}
	return total
}

// scoring.Source

func (s *Store) LoadFacts(_ context.Context, scope models.Scope, date time.Time) (scoring.Facts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("LoadFacts"); err != nil {
		return scoring.Facts{}, err
	}
	date = models.Day(date)
	f := scoring.Facts{Date: date}

	habits := s.activeHabits(scope.UserID, date)
	f.ActiveHabits = len(habits)
	windowStart := date.AddDate(0, 0, -(scoring.TrailingDays - 1))
	for _, h := range habits {
		if h.CompletedToday {
			f.HabitsCompletedToday++
		}
		for d := range s.habitLogs[h.ID] {
			if !d.Before(windowStart) && !d.After(date) {
				f.HabitLogsCompleted7d++
			}
		}
	}

	for _, t := range s.tasks {
		if t.UserID != scope.UserID || t.Status == models.TaskCancelled {
			continue
		}
		if sameDay(t.DueDate, date) || sameDay(t.StartDate, date) {
			f.Tasks = append(f.Tasks, scoring.TaskFact{Priority: t.Priority, Done: t.Status == models.TaskDone})
		}
	}
	f.FocusMinutes = s.focus[scope.UserID][date]
	f.MonthlyBudget = s.budgets[scope.UserID].categories
	f.MonthSpend = s.monthSpend(scope.UserID, date)

	for d := windowStart; d.Before(date); d = d.AddDate(0, 0, 1) {
		if prev, ok := s.scores[dayKey(scope.UserID, d)]; ok {
			f.PreviousScores = append(f.PreviousScores, prev.GlobalScore)
		}
	}
	return f, nil
}

// scoring.Sink

func (s *Store) UpsertDailyScore(_ context.Context, score models.DailyScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertDailyScore"); err != nil {
		return err
	}
	s.scores[dayKey(score.UserID, score.Date)] = score
	return nil
}

func (s *Store) UpsertDailyStats(_ context.Context, stats models.DailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertDailyStats"); err != nil {
		return err
	}
	s.stats[dayKey(stats.UserID, stats.Date)] = stats
	return nil
}

// intervention.Store reads

func (s *Store) Preferences(_ context.Context, userID string) (models.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.preferences[userID]
	if !ok {
		return models.Preferences{}, models.ErrNotFound
	}
	return p, nil
}

func (s *Store) LoadState(_ context.Context, scope models.Scope, date time.Time) (intervention.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("LoadState"); err != nil {
		return intervention.State{}, err
	}
	date = models.Day(date)
	st := intervention.State{Scope: scope, Date: date}
	if score, ok := s.scores[dayKey(scope.UserID, date)]; ok {
		st.Score = &score
	}
	for _, t := range s.tasks {
		if t.UserID != scope.UserID || !sameDay(t.DueDate, date) {
			continue
		}
		if t.Status == models.TaskTodo || t.Status == models.TaskDoing {
			st.TodayTasks = append(st.TodayTasks, t)
		}
	}
	sort.Slice(st.TodayTasks, func(i, j int) bool { return st.TodayTasks[i].ID < st.TodayTasks[j].ID })
	st.Habits = s.activeHabits(scope.UserID, date)
	st.MonthExpense = s.monthSpend(scope.UserID, date)
	b := s.budgets[scope.UserID]
	st.MonthlyBudgetLimit = b.global
	if !b.global.IsPositive() {
		st.MonthlyBudgetLimit = b.categories
	}
	return st, nil
}

func (s *Store) LoadManualState(_ context.Context, scope models.Scope, date time.Time) (intervention.ManualState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("LoadManualState"); err != nil {
		return intervention.ManualState{}, err
	}
	var st intervention.ManualState
	for _, t := range s.tasks {
		if t.UserID != scope.UserID {
			continue
		}
		switch {
		case t.Status == models.TaskDoing:
			st.Doing = append(st.Doing, t)
		case t.Status == models.TaskTodo && sameDay(t.DueDate, date):
			st.DueToday = append(st.DueToday, t)
		}
	}
	return st, nil
}

func (s *Store) GetIntervention(_ context.Context, id string) (models.Intervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interventions[id]
	if !ok {
		return models.Intervention{}, models.ErrNotFound
	}
	return iv, nil
}

func (s *Store) ListInterventions(_ context.Context, userID string, date time.Time) ([]models.Intervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Intervention
	for _, iv := range s.interventions {
		if iv.UserID == userID && iv.Date.Equal(date) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID) })
	return out, nil
}
