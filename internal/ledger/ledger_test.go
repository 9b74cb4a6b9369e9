package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/ledger"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/logging"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/memstore"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day     = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	applied = day.Add(9 * time.Hour)
	scope   = models.Scope{UserID: "user-1", WorkspaceID: "ws-1"}
)

// overloaded seeds a day whose load reduction moves two tasks and returns
// the resulting undo entry.
func overloaded(t *testing.T, store *memstore.Store) models.UndoEntry {
	t.Helper()
	store.SetPreferences(models.Preferences{UserID: scope.UserID, DailyCapacityMinutes: 60, Timezone: "UTC"})
	for _, id := range []string{"t1", "t2", "t3"} {
		store.AddTask(models.Task{
			ID: id, UserID: scope.UserID, WorkspaceID: scope.WorkspaceID,
			Priority: models.PriorityLow, Status: models.TaskTodo,
			DueDate: models.DatePtr(day), EstimatedMinutes: 40,
		})
	}
	engine := intervention.NewEngine(store, logging.Nop()).WithClock(func() time.Time { return applied })
	_, err := engine.EvaluateAndApply(context.Background(), scope, day)
	require.NoError(t, err)

	entries := store.UndoEntries(scope.UserID)
	require.Len(t, entries, 1)
	return entries[0]
}

func ledgerAt(store ledger.Store, now time.Time) *ledger.Ledger {
	return ledger.New(store, logging.Nop()).WithClock(func() time.Time { return now })
}

func dueDates(store *memstore.Store) map[string]time.Time {
	out := map[string]time.Time{}
	for _, task := range store.Tasks(scope.UserID) {
		out[task.ID] = *task.DueDate
	}
	return out
}

func TestRevertBeforeExpiryRestoresState(t *testing.T) {
	store := memstore.New()
	entry := overloaded(t, store)
	require.NotEqual(t, day, dueDates(store)["t1"])

	res, err := ledgerAt(store, applied.Add(23*time.Hour)).Revert(context.Background(), scope.UserID, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.InterventionID, res.InterventionID)
	assert.Equal(t, models.UndoRestoreDueDates, res.Action)

	for id, due := range dueDates(store) {
		assert.Equal(t, day, due, id)
	}
	iv, err := store.GetIntervention(context.Background(), entry.InterventionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReverted, iv.State)
	require.NotNil(t, iv.RevertedAt)

	audits := store.Audits()
	require.Len(t, audits, 2)
	assert.Equal(t, "intervention.reverted", audits[1].Action)
	assert.Equal(t, scope.UserID, audits[1].ActorID)
}

func TestSecondRevertIsRejected(t *testing.T) {
	store := memstore.New()
	entry := overloaded(t, store)
	l := ledgerAt(store, applied.Add(time.Hour))

	_, err := l.Revert(context.Background(), scope.UserID, entry.ID)
	require.NoError(t, err)

	_, err = l.Revert(context.Background(), scope.UserID, entry.ID)
	require.ErrorIs(t, err, ledger.ErrNotRevertible)
	assert.ErrorIs(t, err, ledger.ErrConsumed)
}

func TestRevertAfterExpiryIsRejected(t *testing.T) {
	store := memstore.New()
	entry := overloaded(t, store)
	before := dueDates(store)

	_, err := ledgerAt(store, entry.ExpiresAt).Revert(context.Background(), scope.UserID, entry.ID)
	require.ErrorIs(t, err, ledger.ErrNotRevertible)
	assert.ErrorIs(t, err, ledger.ErrExpired)
	assert.Equal(t, before, dueDates(store))
}

func TestRevertDistinguishesMissingAndForeignEntries(t *testing.T) {
	store := memstore.New()
	entry := overloaded(t, store)
	l := ledgerAt(store, applied.Add(time.Hour))

	_, err := l.Revert(context.Background(), scope.UserID, "no-such-entry")
	assert.ErrorIs(t, err, ledger.ErrNothingToRevert)

	_, err = l.Revert(context.Background(), "someone-else", entry.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestRevertStoreFailureIsNotMistakenForNothingToRevert(t *testing.T) {
	store := memstore.New()
	entry := overloaded(t, store)
	store.FailOn("RevertUndo", errors.New("connection refused"))

	_, err := ledgerAt(store, applied.Add(time.Hour)).Revert(context.Background(), scope.UserID, entry.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrNothingToRevert)
	assert.NotErrorIs(t, err, ledger.ErrNotRevertible)
}

func TestActiveListsOnlyRevertibleEntries(t *testing.T) {
	store := memstore.New()
	entry := overloaded(t, store)

	active, err := ledgerAt(store, applied.Add(time.Hour)).Active(context.Background(), scope.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, entry.ID, active[0].ID)

	active, err = ledgerAt(store, applied.Add(25*time.Hour)).Active(context.Background(), scope.UserID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestAuditDeduplicatesOnEventID(t *testing.T) {
	store := memstore.New()
	l := ledgerAt(store, applied)
	entry := models.AuditEntry{EventID: "task_complete_abc", ActorID: scope.UserID, Action: "task.complete", Entity: "task", EntityID: "t1"}

	require.NoError(t, l.Audit(context.Background(), entry))
	require.NoError(t, l.Audit(context.Background(), entry))
	audits := store.Audits()
	require.Len(t, audits, 1)
	assert.NotEmpty(t, audits[0].ID)
	assert.Equal(t, applied, audits[0].CreatedAt)
}

func TestAuditRequiresEventID(t *testing.T) {
	err := ledgerAt(memstore.New(), applied).Audit(context.Background(), models.AuditEntry{Action: "x"})
	assert.Error(t, err)
}
