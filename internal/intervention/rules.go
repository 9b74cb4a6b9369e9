package intervention

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/shopspring/decimal"
)

const (
	OverloadAbove      = 1.5
	BurnoutAbove       = 70.0
	StreakMinimum      = 3
	StreakCheckHour    = 20
	FinanceWarnAbove   = 0.9
	FinanceCritAbove   = 1.0
	MaxPausedHabits    = 5
	HabitPauseDuration = 48 * time.Hour
	ReminderMinutes    = 15
)

// State is what the rules see of one user's day. Now is the user's local time.
type State struct {
	Scope           models.Scope
	Date            time.Time
	Now             time.Time
	Score           *models.DailyScore
	CapacityMinutes int
	// TodayTasks are the open (todo or doing) tasks due on Date.
	TodayTasks []models.Task
	// Habits are the active habits, CompletedToday set from Date's logs.
	Habits             []models.Habit
	MonthExpense       decimal.Decimal
	MonthlyBudgetLimit decimal.Decimal
}

func (s State) WorkloadMinutes() int {
	total := 0
	for _, t := range s.TodayTasks {
		total += t.Minutes()
	}
	return total
}

func (s State) capacity() int {
	if s.CapacityMinutes <= 0 {
		return models.DefaultCapacityMinutes
	}
	return s.CapacityMinutes
}

// OverloadIndex is estimated workload divided by daily capacity.
func (s State) OverloadIndex() float64 {
	return float64(s.WorkloadMinutes()) / float64(s.capacity())
}

// Decision is a rule's verdict before ids and timestamps are attached.
type Decision struct {
	Type     models.InterventionType
	Severity models.Severity
	Title    string
	Reason   string
	Impact   models.Impact
	Mutation models.Mutation
	Changes  []models.ChangeEvent
	Undo     *UndoSpec
}

// UndoSpec names the target and prior state of a reversible decision. An
// empty EntityID means the undo covers several rows of Entity and is keyed on
// the intervention itself.
type UndoSpec struct {
	Entity   string
	EntityID string
	Payload  models.UndoPayload
}

// Rule evaluates one trigger. newID supplies ids for rows the decision creates.
type Rule struct {
	Name     string
	Type     models.InterventionType
	Evaluate func(s State, newID func() string) *Decision
}

// Rules run in this order; later rules observe the mutations of earlier ones.
var Rules = []Rule{
	{Name: "overload", Type: models.InterventionLoadReduction, Evaluate: evaluateOverload},
	{Name: "burnout", Type: models.InterventionBurnoutPause, Evaluate: evaluateBurnout},
	{Name: "streak", Type: models.InterventionStreakProtection, Evaluate: evaluateStreak},
	{Name: "finance", Type: models.InterventionFinancialAlert, Evaluate: evaluateFinance},
}

func evaluateOverload(s State, _ func() string) *Decision {
	before := s.OverloadIndex()
	if before <= OverloadAbove {
		return nil
	}
	var eligible []models.Task
	for _, t := range s.TodayTasks {
		if t.Status != models.TaskTodo || t.Priority == models.PriorityUrgent || t.Priority == models.PriorityHigh {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil
	}
	moving := lowestFirst(eligible, (len(eligible)+1)/2)

	tomorrow := s.Date.AddDate(0, 0, 1)
	moves := make([]models.TaskMove, 0, len(moving))
	changes := make([]models.ChangeEvent, 0, len(moving))
	ids := make([]string, 0, len(moving))
	freed := 0
	for _, t := range moving {
		from := models.DatePtr(s.Date)
		if t.DueDate != nil {
			from = models.DatePtr(*t.DueDate)
		}
		moves = append(moves, models.TaskMove{TaskID: t.ID, From: from, To: models.DatePtr(tomorrow)})
		changes = append(changes, models.ChangeEvent{
			Entity:   "task",
			EntityID: t.ID,
			Action:   "rescheduled",
			Before:   map[string]any{"due_date": from.Format(models.DateLayout)},
			After:    map[string]any{"due_date": tomorrow.Format(models.DateLayout)},
		})
		ids = append(ids, t.ID)
		freed += t.Minutes()
	}
	after := float64(s.WorkloadMinutes()-freed) / float64(s.capacity())

	return &Decision{
		Type:     models.InterventionLoadReduction,
		Severity: models.SeverityWarning,
		Title:    "Today's load was reduced",
		Reason: fmt.Sprintf("Planned work is %.0f%% of your daily capacity; %d task(s) moved to tomorrow.",
			before*100, len(moving)),
		Impact: models.LoadReductionImpact{
			TasksMoved:     len(moving),
			TaskIDs:        ids,
			MinutesFreed:   freed,
			OverloadBefore: round2(before),
			OverloadAfter:  round2(after),
		},
		Mutation: models.RescheduleTasks{Moves: moves},
		Changes:  changes,
		Undo:     &UndoSpec{Entity: "tasks", Payload: models.DueDatesUndo{Moves: moves}},
	}
}

func evaluateBurnout(s State, _ func() string) *Decision {
	if s.Score == nil || s.Score.BurnoutIndex <= BurnoutAbove {
		return nil
	}
	var eligible []models.Habit
	for _, h := range s.Habits {
		if !h.IsActive || strings.Contains(strings.ToLower(h.Name), "critical") {
			continue
		}
		eligible = append(eligible, h)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].CurrentStreak != eligible[j].CurrentStreak {
			return eligible[i].CurrentStreak < eligible[j].CurrentStreak
		}
		return eligible[i].ID < eligible[j].ID
	})
	if len(eligible) == 0 {
		return nil
	}
	if len(eligible) > MaxPausedHabits {
		eligible = eligible[:MaxPausedHabits]
	}

	until := s.Now.Add(HabitPauseDuration).UTC()
	d := &Decision{
		Type:     models.InterventionBurnoutPause,
		Severity: models.SeverityCritical,
		Title:    "Burnout risk is critical",
		Reason:   fmt.Sprintf("Burnout index is %.2f; %d habit(s) paused for 48h.", s.Score.BurnoutIndex, len(eligible)),
		Impact: models.BurnoutPauseImpact{
			HabitsPaused: len(eligible),
			HabitIDs:     habitIDs(eligible),
			PausedUntil:  until,
			BurnoutIndex: s.Score.BurnoutIndex,
		},
	}
	for _, h := range eligible {
		d.Changes = append(d.Changes, models.ChangeEvent{
			Entity:   "habit",
			EntityID: h.ID,
			Action:   "paused",
			Before:   map[string]any{"is_active": true},
			After:    map[string]any{"is_active": false, "paused_until": until.Format(time.RFC3339)},
		})
	}
	d.Mutation = models.PauseHabits{HabitIDs: habitIDs(eligible), Until: until}
	d.Undo = &UndoSpec{Entity: "habits", Payload: models.PausedHabitsUndo{HabitIDs: habitIDs(eligible)}}
	return d
}

func evaluateStreak(s State, newID func() string) *Decision {
	if !models.Day(s.Now).Equal(s.Date) || s.Now.Hour() < StreakCheckHour {
		return nil
	}
	var atRisk []models.Habit
	for _, h := range s.Habits {
		if h.IsActive && h.CurrentStreak >= StreakMinimum && !h.CompletedToday {
			atRisk = append(atRisk, h)
		}
	}
	if len(atRisk) == 0 {
		return nil
	}
	sort.SliceStable(atRisk, func(i, j int) bool {
		if atRisk[i].CurrentStreak != atRisk[j].CurrentStreak {
			return atRisk[i].CurrentStreak > atRisk[j].CurrentStreak
		}
		return atRisk[i].Name < atRisk[j].Name
	})
	names := make([]string, 0, len(atRisk))
	for _, h := range atRisk {
		names = append(names, h.Name)
	}

	task := models.Task{
		ID:               newID(),
		UserID:           s.Scope.UserID,
		WorkspaceID:      s.Scope.WorkspaceID,
		Title:            "Protect your streak: " + strings.Join(names, ", "),
		Priority:         models.PriorityHigh,
		Status:           models.TaskTodo,
		DueDate:          models.DatePtr(s.Date),
		EstimatedMinutes: ReminderMinutes,
	}
	return &Decision{
		Type:     models.InterventionStreakProtection,
		Severity: models.SeverityAdvisory,
		Title:    "A streak is at risk",
		Reason:   fmt.Sprintf("%d habit streak(s) not completed yet today: %s.", len(atRisk), strings.Join(names, ", ")),
		Impact: models.StreakProtectionImpact{
			ReminderTaskID: task.ID,
			HabitIDs:       habitIDs(atRisk),
			HabitNames:     names,
		},
		Mutation: models.CreateTask{Task: task},
		Changes: []models.ChangeEvent{{
			Entity:   "task",
			EntityID: task.ID,
			Action:   "created",
			Before:   map[string]any{},
			After: map[string]any{
				"title":    task.Title,
				"priority": string(task.Priority),
				"due_date": s.Date.Format(models.DateLayout),
			},
		}},
		Undo: &UndoSpec{Entity: "task", EntityID: task.ID, Payload: models.CreatedTaskUndo{TaskID: task.ID}},
	}
}

func evaluateFinance(s State, _ func() string) *Decision {
	if !s.MonthlyBudgetLimit.IsPositive() {
		return nil
	}
	ratio := s.MonthExpense.Div(s.MonthlyBudgetLimit).InexactFloat64()
	if ratio <= FinanceWarnAbove {
		return nil
	}
	severity := models.SeverityWarning
	if ratio > FinanceCritAbove {
		severity = models.SeverityCritical
	}
	return &Decision{
		Type:     models.InterventionFinancialAlert,
		Severity: severity,
		Title:    "Monthly budget almost spent",
		Reason: fmt.Sprintf("You have spent %s of your %s monthly budget (%.0f%%).",
			s.MonthExpense.StringFixed(2), s.MonthlyBudgetLimit.StringFixed(2), ratio*100),
		Impact: models.FinancialAlertImpact{
			Ratio:  round2(ratio),
			Spent:  s.MonthExpense.StringFixed(2),
			Budget: s.MonthlyBudgetLimit.StringFixed(2),
		},
	}
}

func habitIDs(habits []models.Habit) []string {
	ids := make([]string, 0, len(habits))
	for _, h := range habits {
		ids = append(ids, h.ID)
	}
	return ids
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
