package intervention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/idempotency"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"
)

var (
	ErrInterventionNotFound = errors.New("intervention not found")
	ErrForbidden            = models.ErrForbidden
	// ErrNotApplicable is returned for interventions the user has reverted.
	ErrNotApplicable        = models.ErrNotApplicable
)

const (
	MaxManualTasks     = 3
	MicroCommitMinutes = 5
)

// ManualState is the slice of a user's tasks the manual actions touch.
type ManualState struct {
	// Doing are the tasks currently in progress.
	Doing []models.Task
	// DueToday are the todo tasks due on the evaluated date.
	DueToday []models.Task
}

// AcceptPlan is everything accepting one intervention writes.
type AcceptPlan struct {
	Scope          models.Scope
	InterventionID string
	AcceptedAt     time.Time
	Mutations      []models.Mutation
	Changes        []models.ChangeEvent
	Audit          models.AuditEntry
}

type ApplyResult struct {
	InterventionID string   `json:"intervention_id"`
	AlreadyApplied bool     `json:"already_applied"`
	Actions        []string `json:"actions"`
}

// Apply accepts a coach-created intervention on behalf of its owner and runs
// the action of its type. Applying an accepted intervention again is a no-op.
func (e *Engine) Apply(ctx context.Context, userID, interventionID string) (ApplyResult, error) {
	res := ApplyResult{InterventionID: interventionID, Actions: []string{}}
	iv, err := e.store.GetIntervention(ctx, interventionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return res, ErrInterventionNotFound
		}
		return res, fmt.Errorf("get intervention: %w", err)
	}
	if iv.UserID != userID {
		return res, ErrForbidden
	}
	if iv.UserAction == models.UserActionAccepted {
		res.AlreadyApplied = true
		return res, nil
	}
	if iv.State == models.StateReverted {
		return res, ErrNotApplicable
	}

	scope := models.Scope{UserID: iv.UserID, WorkspaceID: iv.WorkspaceID}
	prefs := e.preferences(ctx, userID)
	now := e.now()
	today := models.Day(now.In(location(prefs.Timezone)))

	state, err := e.store.LoadManualState(ctx, scope, today)
	if err != nil {
		return res, fmt.Errorf("load tasks: %w", err)
	}

	plan, actions := e.manualPlan(iv, scope, state, today, now.UTC())
	auditID, err := idempotency.Key("intervention", iv.ID, "accepted", scope.UserID, scope.WorkspaceID, map[string]any{"type": string(iv.Type)})
	if err != nil {
		return res, err
	}
	plan.Audit = models.AuditEntry{
		ID:        e.newID(),
		EventID:   auditID,
		ActorID:   userID,
		Action:    "intervention.accepted",
		Entity:    "intervention",
		EntityID:  iv.ID,
		NewValue:  map[string]any{"type": string(iv.Type), "actions": actions},
		CreatedAt: now.UTC(),
	}

	applied, err := e.store.AcceptIntervention(ctx, plan)
	if err != nil {
		return res, fmt.Errorf("accept intervention: %w", err)
	}
	if !applied {
		res.AlreadyApplied = true
		return res, nil
	}
	e.log.Info("intervention accepted", "user_id", userID, "intervention_id", iv.ID, "type", iv.Type)
	res.Actions = actions
	return res, nil
}

func (e *Engine) manualPlan(iv models.Intervention, scope models.Scope, state ManualState, today, now time.Time) (AcceptPlan, []string) {
	plan := AcceptPlan{Scope: scope, InterventionID: iv.ID, AcceptedAt: now}
	tomorrow := today.AddDate(0, 0, 1)

	switch iv.Type {
	case models.InterventionRestructure:
		tasks := lowestFirst(filterTasks(state.Doing, func(t models.Task) bool {
			return t.Priority == models.PriorityMedium || t.Priority == models.PriorityLow
		}), MaxManualTasks)
		if len(tasks) == 0 {
			return plan, []string{"no in-progress tasks to restructure"}
		}
		ids := taskIDs(tasks)
		plan.Mutations = append(plan.Mutations, models.SetTaskStatus{TaskIDs: ids, From: models.TaskDoing, To: models.TaskTodo})
		for _, id := range ids {
			plan.Changes = append(plan.Changes, e.change(scope, id, "status_changed",
				map[string]any{"status": string(models.TaskDoing)},
				map[string]any{"status": string(models.TaskTodo)}, now))
		}
		return plan, []string{fmt.Sprintf("moved %d task(s) back to todo", len(ids))}

	case models.InterventionMotivation:
		tasks := lowestFirst(filterTasks(state.DueToday, func(t models.Task) bool {
			return t.Priority != models.PriorityUrgent
		}), MaxManualTasks)
		if len(tasks) == 0 {
			return plan, []string{"no tasks to postpone"}
		}
		moves := make([]models.TaskMove, 0, len(tasks))
		for _, t := range tasks {
			moves = append(moves, models.TaskMove{TaskID: t.ID, From: models.DatePtr(today), To: models.DatePtr(tomorrow)})
			plan.Changes = append(plan.Changes, e.change(scope, t.ID, "rescheduled",
				map[string]any{"due_date": today.Format(models.DateLayout)},
				map[string]any{"due_date": tomorrow.Format(models.DateLayout)}, now))
		}
		plan.Mutations = append(plan.Mutations, models.RescheduleTasks{Moves: moves})
		return plan, []string{fmt.Sprintf("postponed %d task(s) to tomorrow", len(moves))}

	case models.InterventionChallenge:
		task := models.Task{
			ID:               e.newID(),
			UserID:           scope.UserID,
			WorkspaceID:      scope.WorkspaceID,
			Title:            "Micro-commitment: five focused minutes on one task",
			Priority:         models.PriorityMedium,
			Status:           models.TaskTodo,
			DueDate:          models.DatePtr(today),
			EstimatedMinutes: MicroCommitMinutes,
			CreatedAt:        now,
		}
		plan.Mutations = append(plan.Mutations, models.CreateTask{Task: task})
		plan.Changes = append(plan.Changes, e.change(scope, task.ID, "created",
			map[string]any{}, map[string]any{"title": task.Title}, now))
		return plan, []string{"created micro-commitment task " + task.ID}

	case models.InterventionPraise:
		plan.Mutations = append(plan.Mutations, models.RecordSignal{Signal: e.signal(scope, iv, "praise_received", models.SentimentPositive, now)})
		return plan, []string{"recorded positive signal"}

	default:
		plan.Mutations = append(plan.Mutations, models.RecordSignal{Signal: e.signal(scope, iv, "intervention_acknowledged", models.SentimentNeutral, now)})
		return plan, []string{"acknowledged"}
	}
}

func (e *Engine) change(scope models.Scope, taskID, action string, before, after map[string]any, now time.Time) models.ChangeEvent {
	return models.ChangeEvent{
		ID:          e.newID(),
		Entity:      "task",
		EntityID:    taskID,
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		Action:      action,
		Before:      before,
		After:       after,
		CreatedAt:   now,
	}
}

func (e *Engine) signal(scope models.Scope, iv models.Intervention, kind string, sentiment models.Sentiment, now time.Time) models.BehaviorSignal {
	return models.BehaviorSignal{
		ID:          e.newID(),
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		Kind:        kind,
		Sentiment:   sentiment,
		Detail:      map[string]any{"intervention_id": iv.ID, "type": string(iv.Type)},
		CreatedAt:   now,
	}
}

func filterTasks(tasks []models.Task, keep func(models.Task) bool) []models.Task {
	var out []models.Task
	for _, t := range tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func lowestFirst(tasks []models.Task, limit int) []models.Task {
	sort.SliceStable(tasks, func(i, j int) bool {
		wi, wj := tasks[i].Priority.Weight(), tasks[j].Priority.Weight()
		if wi != wj {
			return wi < wj
		}
		return tasks[i].ID < tasks[j].ID
	})
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks
}

func taskIDs(tasks []models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
