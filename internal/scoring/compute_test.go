package scoring

import (
	"math/rand"
	"testing"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var scoredDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func doneTasks(n int, p models.Priority) []TaskFact {
	out := make([]TaskFact, n)
	for i := range out {
		out[i] = TaskFact{Priority: p, Done: true}
	}
	return out
}

func TestComputeScenario(t *testing.T) {
	// 75% of habits done today at a 0.6 seven-day consistency.
	f := Facts{
		Date:                 scoredDay,
		ActiveHabits:         20,
		HabitsCompletedToday: 15,
		HabitLogsCompleted7d: 84,
		Tasks:                doneTasks(5, models.PriorityMedium),
		FocusMinutes:         150,
	}

	score := Compute(f)
	assert.Equal(t, 45.0, score.HabitsScore)
	assert.Equal(t, 0.6, score.ConsistencyFactor)
	assert.Equal(t, 100.0, score.TasksScore)
	assert.Equal(t, 100.0, score.FinanceScore)
	assert.Equal(t, 100.0, score.HealthScore)
	assert.Equal(t, 80.75, score.GlobalScore)
	assert.Equal(t, NeutralMomentum, score.MomentumIndex)
	// 0.4*0 + 0.3*55 + 0.3*(100-80.75)
	assert.Equal(t, 22.28, score.BurnoutIndex)
	assert.Equal(t, scoredDay, score.Date)
}

func TestNoActiveHabitsScoresFull(t *testing.T) {
	for _, d := range []time.Time{scoredDay, scoredDay.AddDate(0, 5, 3), scoredDay.AddDate(-1, 0, 0)} {
		score := Compute(Facts{Date: d, HabitLogsCompleted7d: 12})
		assert.Equal(t, 100.0, score.HabitsScore, d)
		assert.Equal(t, 1.0, score.ConsistencyFactor, d)
	}
}

func TestHabitRatiosAreCapped(t *testing.T) {
	score := Compute(Facts{Date: scoredDay, ActiveHabits: 2, HabitsCompletedToday: 5, HabitLogsCompleted7d: 40})
	assert.Equal(t, 100.0, score.HabitsScore)
	assert.Equal(t, 1.0, score.ConsistencyFactor)
}

func TestTasksScoreWeightsByPriority(t *testing.T) {
	tasks := []TaskFact{
		{Priority: models.PriorityUrgent, Done: true},
		{Priority: models.PriorityLow, Done: false},
		{Priority: "someday", Done: false},
	}
	// 1.5 / (1.5 + 0.75 + 1.0)
	assert.InDelta(t, 46.15, Compute(Facts{Date: scoredDay, Tasks: tasks}).TasksScore, 1e-9)
	assert.Equal(t, 100.0, Compute(Facts{Date: scoredDay}).TasksScore)
}

func TestFinanceScore(t *testing.T) {
	tests := []struct {
		name          string
		budget, spent string
		expected      float64
	}{
		{"no budget", "0", "300", 100},
		{"untouched", "1000", "0", 100},
		{"a third spent", "300", "100", 66.67},
		{"overspent", "500", "800", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Facts{Date: scoredDay, MonthlyBudget: decimal.RequireFromString(tt.budget), MonthSpend: decimal.RequireFromString(tt.spent)}
			assert.Equal(t, tt.expected, Compute(f).FinanceScore)
		})
	}
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, 0.0, Compute(Facts{Date: scoredDay}).HealthScore)
	assert.Equal(t, 50.0, Compute(Facts{Date: scoredDay, FocusMinutes: 60}).HealthScore)
	assert.Equal(t, 100.0, Compute(Facts{Date: scoredDay, FocusMinutes: 600}).HealthScore)
}

func TestGlobalScoreIsWeightedSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		h, tk, f, he := rng.Float64()*100, rng.Float64()*100, rng.Float64()*100, rng.Float64()*100
		want := 0.35*h + 0.25*tk + 0.20*f + 0.20*he
		assert.InDelta(t, want, GlobalScore(h, tk, f, he), 0.01)
	}
}

func TestMomentum(t *testing.T) {
	assert.Equal(t, NeutralMomentum, momentum([]float64{70}))
	assert.Equal(t, 60.0, momentum([]float64{50, 60}))
	// first half {40, 40, 40}, second half {60, 60, 60, 60}
	assert.Equal(t, 70.0, momentum([]float64{40, 40, 40, 60, 60, 60, 60}))
	assert.Equal(t, 0.0, momentum([]float64{100, 100, 0, 0}))
}

func TestMomentumUsesTrailingWeek(t *testing.T) {
	f := Facts{Date: scoredDay, PreviousScores: []float64{0, 0, 0, 50, 50, 50, 50, 50}}
	series := trailingSeries(f.PreviousScores, 50)
	assert.Len(t, series, TrailingDays)
	assert.Equal(t, []float64{0, 50, 50, 50, 50, 50, 50}, series)
}

func TestBurnoutIsClamped(t *testing.T) {
	assert.Equal(t, 100.0, burnout(-100, 0, 0))
	assert.Equal(t, 0.0, burnout(100, 100, 200))
}

func TestComputeIsDeterministic(t *testing.T) {
	f := Facts{
		Date:                 scoredDay,
		ActiveHabits:         3,
		HabitsCompletedToday: 2,
		HabitLogsCompleted7d: 11,
		Tasks:                []TaskFact{{Priority: models.PriorityHigh, Done: true}, {Priority: models.PriorityLow}},
		FocusMinutes:         47,
		MonthlyBudget:        decimal.RequireFromString("812.40"),
		MonthSpend:           decimal.RequireFromString("377.13"),
		PreviousScores:       []float64{61.2, 58.9, 70.01},
	}
	assert.Equal(t, Compute(f), Compute(f))
}

func TestStats(t *testing.T) {
	f := Facts{
		Date:                 scoredDay,
		ActiveHabits:         4,
		HabitsCompletedToday: 3,
		Tasks:                []TaskFact{{Done: true}, {Done: false}, {Done: true}},
		FocusMinutes:         90,
	}
	score := Compute(f)
	st := Stats(f, score)
	assert.Equal(t, 3, st.TasksPlanned)
	assert.Equal(t, 2, st.TasksCompleted)
	assert.Equal(t, 3, st.HabitsCompleted)
	assert.Equal(t, 4, st.HabitsTotal)
	assert.Equal(t, 90, st.FocusMinutes)
	assert.Equal(t, 66.67, st.CompletionRate)
	assert.Equal(t, score.GlobalScore, st.ProductivityScore)

	assert.Equal(t, 0.0, Stats(Facts{Date: scoredDay}, score).CompletionRate)
}
