// Package scoring derives a user's daily behavioral score from the day's raw
// facts and persists it.
package scoring

import (
	"math"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/shopspring/decimal"
)

// Sub-score weights of the global score.
const (
	WeightHabits  = 0.35
	WeightTasks   = 0.25
	WeightFinance = 0.20
	WeightHealth  = 0.20
)

const (
	// FocusTargetMinutes is the daily focus time worth a full health score.
	FocusTargetMinutes = 120
	// TrailingDays is the window of consistency and momentum.
	TrailingDays = 7
	NeutralMomentum = 50.0
)

type TaskFact struct {
	Priority models.Priority
	Done     bool
}

// Facts are the raw aggregates of one user's day.
type Facts struct {
	Date                 time.Time
	ActiveHabits         int
	HabitsCompletedToday int
	// HabitLogsCompleted7d counts completed logs of active habits over the
	// trailing window, the scored date included.
	HabitLogsCompleted7d int
	// Tasks due or started on the date.
	Tasks         []TaskFact
	FocusMinutes  int
	MonthlyBudget decimal.Decimal
	MonthSpend    decimal.Decimal
	// PreviousScores holds the global scores of up to six preceding days,
	// oldest first.
	PreviousScores []float64
}

// Compute is a pure function of f: equal facts give equal scores.
func Compute(f Facts) models.DailyScore {
	habits, consistency := habitsScore(f)
	tasks := round2(tasksScore(f.Tasks))
	finance := round2(financeScore(f.MonthlyBudget, f.MonthSpend))
	health := round2(healthScore(f.FocusMinutes))
	habits = round2(habits)

	global := GlobalScore(habits, tasks, finance, health)

	series := trailingSeries(f.PreviousScores, global)
	return models.DailyScore{
		Date:              models.Day(f.Date),
		GlobalScore:       global,
		HabitsScore:       habits,
		TasksScore:        tasks,
		FinanceScore:      finance,
		HealthScore:       health,
		MomentumIndex:     round2(momentum(series)),
		BurnoutIndex:      round2(burnout(tasks, habits, mean(series))),
		ConsistencyFactor: round2(consistency),
	}
}

// GlobalScore is the fixed weighted sum of the four sub-scores.
func GlobalScore(habits, tasks, finance, health float64) float64 {
	return round2(WeightHabits*habits + WeightTasks*tasks + WeightFinance*finance + WeightHealth*health)
}

// Stats is the dashboard denormalization of the same facts.
func Stats(f Facts, score models.DailyScore) models.DailyStats {
	done := 0
	for _, t := range f.Tasks {
		if t.Done {
			done++
		}
	}
	rate := 0.0
	if len(f.Tasks) > 0 {
		rate = round2(float64(done) / float64(len(f.Tasks)) * 100)
	}
	return models.DailyStats{
		UserID:            score.UserID,
		WorkspaceID:       score.WorkspaceID,
		Date:              models.Day(f.Date),
		TasksPlanned:      len(f.Tasks),
		TasksCompleted:    done,
		HabitsCompleted:   f.HabitsCompletedToday,
		HabitsTotal:       f.ActiveHabits,
		FocusMinutes:      f.FocusMinutes,
		CompletionRate:    rate,
		ProductivityScore: score.GlobalScore,
	}
}

// habitsScore returns the habit sub-score and the 7-day consistency factor.
// No active habits means nothing to fail.
func habitsScore(f Facts) (float64, float64) {
	if f.ActiveHabits <= 0 {
		return 100, 1
	}
	today := ratio(float64(f.HabitsCompletedToday), float64(f.ActiveHabits))
	consistency := ratio(float64(f.HabitLogsCompleted7d), float64(f.ActiveHabits*TrailingDays))
	return math.Min(100, today*consistency*100), consistency
}

func tasksScore(tasks []TaskFact) float64 {
	if len(tasks) == 0 {
		return 100
	}
	var total, done float64
	for _, t := range tasks {
		w := t.Priority.Weight()
		total += w
		if t.Done {
			done += w
		}
	}
	return 100 * done / total
}

func financeScore(budget, spend decimal.Decimal) float64 {
	if !budget.IsPositive() {
		return 100
	}
	left := decimal.NewFromInt(1).Sub(spend.Div(budget))
	if left.IsNegative() {
		return 0
	}
	return left.Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func healthScore(focusMinutes int) float64 {
	if focusMinutes <= 0 {
		return 0
	}
	return math.Min(100, float64(focusMinutes)/FocusTargetMinutes*100)
}

func trailingSeries(previous []float64, today float64) []float64 {
	if len(previous) > TrailingDays-1 {
		previous = previous[len(previous)-(TrailingDays-1):]
	}
	series := make([]float64, 0, len(previous)+1)
	series = append(series, previous...)
	return append(series, today)
}

// momentum compares the mean of the second half of the series with the first.
func momentum(series []float64) float64 {
	if len(series) < 2 {
		return NeutralMomentum
	}
	half := len(series) / 2
	return clamp(NeutralMomentum + mean(series[half:]) - mean(series[:half]))
}

func burnout(tasks, habits, recentAvg float64) float64 {
	return clamp(0.4*(100-tasks) + 0.3*(100-habits) + 0.3*(100-recentAvg))
}

func ratio(n, d float64) float64 {
	if d <= 0 {
		return 0
	}
	return math.Min(1, n/d)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
