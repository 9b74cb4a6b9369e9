package intervention_test

import (
	"context"
	"testing"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/memstore"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coachIntervention(store *memstore.Store, id string, t models.InterventionType) {
	store.PutIntervention(models.Intervention{
		ID:          id,
		EventID:     "coach_" + id,
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		Date:        day,
		Type:        t,
		Severity:    models.SeverityAdvisory,
		Reason:      "suggested by coach",
		Impact:      models.GenericImpact{},
		State:       models.StatePending,
		CreatedAt:   day,
	})
}

func doing(id string, p models.Priority) models.Task {
	task := todo(id, p, 30)
	task.Status = models.TaskDoing
	return task
}

func status(t *testing.T, store *memstore.Store, id string) models.TaskStatus {
	t.Helper()
	task, ok := store.Task(id)
	require.True(t, ok)
	return task.Status
}

func TestApplyRestructureMovesLowestPriorityDoingTasks(t *testing.T) {
	store := memstore.New()
	for _, task := range []models.Task{
		doing("d-urgent", models.PriorityUrgent),
		doing("d-high", models.PriorityHigh),
		doing("d-med1", models.PriorityMedium),
		doing("d-med2", models.PriorityMedium),
		doing("d-low1", models.PriorityLow),
		doing("d-low2", models.PriorityLow),
	} {
		store.AddTask(task)
	}
	coachIntervention(store, "iv-1", models.InterventionRestructure)
	engine := newEngine(store, morning)

	res, err := engine.Apply(context.Background(), scope.UserID, "iv-1")
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.Equal(t, []string{"moved 3 task(s) back to todo"}, res.Actions)

	for _, id := range []string{"d-low1", "d-low2", "d-med1"} {
		assert.Equal(t, models.TaskTodo, status(t, store, id), id)
	}
	for _, id := range []string{"d-med2", "d-high", "d-urgent"} {
		assert.Equal(t, models.TaskDoing, status(t, store, id), id)
	}

	iv, err := store.GetIntervention(context.Background(), "iv-1")
	require.NoError(t, err)
	assert.Equal(t, models.UserActionAccepted, iv.UserAction)
	require.NotNil(t, iv.AcceptedAt)

	audits := store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, "intervention.accepted", audits[0].Action)
	assert.Equal(t, scope.UserID, audits[0].ActorID)
}

func TestApplyTwiceIsNoOp(t *testing.T) {
	store := memstore.New()
	store.AddTask(doing("d-low", models.PriorityLow))
	store.AddTask(doing("d-low2", models.PriorityLow))
	coachIntervention(store, "iv-1", models.InterventionRestructure)
	engine := newEngine(store, morning)

	_, err := engine.Apply(context.Background(), scope.UserID, "iv-1")
	require.NoError(t, err)
	store.AddTask(doing("d-late", models.PriorityLow))

	res, err := engine.Apply(context.Background(), scope.UserID, "iv-1")
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)
	assert.Empty(t, res.Actions)
	assert.Equal(t, models.TaskDoing, status(t, store, "d-late"))
	assert.Len(t, store.Audits(), 1)
}

func TestApplyMotivationPostponesNonUrgentTasks(t *testing.T) {
	store := memstore.New()
	for _, task := range []models.Task{
		todo("m-urgent", models.PriorityUrgent, 30),
		todo("m-high", models.PriorityHigh, 30),
		todo("m-med", models.PriorityMedium, 30),
		todo("m-low", models.PriorityLow, 30),
		todo("m-low2", models.PriorityLow, 30),
	} {
		store.AddTask(task)
	}
	coachIntervention(store, "iv-2", models.InterventionMotivation)

	res, err := newEngine(store, morning).Apply(context.Background(), scope.UserID, "iv-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"postponed 3 task(s) to tomorrow"}, res.Actions)

	for _, id := range []string{"m-low", "m-low2", "m-med"} {
		assert.Equal(t, tomorrow, dueDate(t, store, id), id)
	}
	assert.Equal(t, day, dueDate(t, store, "m-high"))
	assert.Equal(t, day, dueDate(t, store, "m-urgent"))
}

func TestApplyChallengeCreatesMicroCommitment(t *testing.T) {
	store := memstore.New()
	coachIntervention(store, "iv-3", models.InterventionChallenge)

	res, err := newEngine(store, morning).Apply(context.Background(), scope.UserID, "iv-3")
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)

	tasks := store.Tasks(scope.UserID)
	require.Len(t, tasks, 1)
	assert.Equal(t, intervention.MicroCommitMinutes, tasks[0].EstimatedMinutes)
	assert.Equal(t, models.TaskTodo, tasks[0].Status)
	assert.Equal(t, day, *tasks[0].DueDate)
	assert.Contains(t, res.Actions[0], tasks[0].ID)
}

func TestApplySignals(t *testing.T) {
	tests := []struct {
		name      string
		typ       models.InterventionType
		sentiment models.Sentiment
	}{
		{"praise", models.InterventionPraise, models.SentimentPositive},
		{"unknown type", models.InterventionType("check_in"), models.SentimentNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			coachIntervention(store, "iv-4", tt.typ)

			_, err := newEngine(store, morning).Apply(context.Background(), scope.UserID, "iv-4")
			require.NoError(t, err)
			signals := store.Signals(scope.UserID)
			require.Len(t, signals, 1)
			assert.Equal(t, tt.sentiment, signals[0].Sentiment)
			assert.Equal(t, "iv-4", signals[0].Detail["intervention_id"])
		})
	}
}

func TestApplyRejectsOtherUsers(t *testing.T) {
	store := memstore.New()
	coachIntervention(store, "iv-5", models.InterventionPraise)

	_, err := newEngine(store, morning).Apply(context.Background(), "intruder", "iv-5")
	assert.ErrorIs(t, err, intervention.ErrForbidden)
	assert.Empty(t, store.Signals(scope.UserID))
}

func TestApplyUnknownIntervention(t *testing.T) {
	_, err := newEngine(memstore.New(), morning).Apply(context.Background(), scope.UserID, "missing")
	assert.ErrorIs(t, err, intervention.ErrInterventionNotFound)
}

func TestApplyRevertedInterventionIsRejected(t *testing.T) {
	store := memstore.New()
	store.PutIntervention(models.Intervention{
		ID:          "iv-auto",
		EventID:     "auto_iv-auto",
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		Date:        day,
		Type:        models.InterventionLoadReduction,
		Severity:    models.SeverityWarning,
		Impact:      models.LoadReductionImpact{},
		AutoApplied: true,
		State:       models.StateReverted,
		CreatedAt:   day,
	})

	_, err := newEngine(store, morning).Apply(context.Background(), scope.UserID, "iv-auto")
	require.ErrorIs(t, err, intervention.ErrNotApplicable)

	iv, err := store.GetIntervention(context.Background(), "iv-auto")
	require.NoError(t, err)
	assert.Equal(t, models.StateReverted, iv.State)
	assert.Empty(t, iv.UserAction)
	assert.Empty(t, store.Signals(scope.UserID))
	assert.Empty(t, store.Audits())

	// A revert landing between the read and the write is caught by the store.
	applied, err := store.AcceptIntervention(context.Background(), intervention.AcceptPlan{
		Scope:          scope,
		InterventionID: "iv-auto",
		AcceptedAt:     morning,
	})
	assert.False(t, applied)
	assert.ErrorIs(t, err, models.ErrNotApplicable)
}
