package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/events"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/idempotency"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/logging"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/memstore"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	scope = models.Scope{UserID: "user-1", WorkspaceID: "ws-1"}
	at    = time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
)

func burnout(date string) events.Spec {
	return events.Spec{
		Entity:   "daily_score",
		EntityID: scope.UserID,
		Name:     events.BurnoutCritical,
		Key:      map[string]any{"date": date},
		Payload:  map[string]any{"burnout_index": 82.5},
	}
}

func TestEmitWritesOncePerIdentity(t *testing.T) {
	store := memstore.New()
	e := events.NewEmitter(store, logging.Nop()).WithClock(func() time.Time { return at })

	id, written := e.Emit(context.Background(), scope, burnout("2026-03-10"))
	require.True(t, written)
	require.NotEmpty(t, id)

	again, written := e.Emit(context.Background(), scope, burnout("2026-03-10"))
	assert.False(t, written)
	assert.Equal(t, id, again)

	other, written := e.Emit(context.Background(), scope, burnout("2026-03-11"))
	assert.True(t, written)
	assert.NotEqual(t, id, other)

	evs := store.Events(idempotency.TableJourneyEvents)
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, events.BurnoutCritical, ev.Name)
		assert.Equal(t, scope.WorkspaceID, ev.WorkspaceID)
		assert.Equal(t, at, ev.OccurredAt)
	}
}

func TestEmitSwallowsStoreFailure(t *testing.T) {
	store := memstore.New()
	store.FailOn("InsertEvent", errors.New("connection reset"))
	e := events.NewEmitter(store, logging.Nop())

	id, written := e.Emit(context.Background(), scope, burnout("2026-03-10"))
	assert.False(t, written)
	assert.NotEmpty(t, id)
	assert.Empty(t, store.Events(idempotency.TableJourneyEvents))
}

func TestEmitLookupFailureStillInsertsOnce(t *testing.T) {
	store := memstore.New()
	store.FailOn("EventExists", errors.New("timeout"))
	e := events.NewEmitter(store, logging.Nop())

	_, first := e.Emit(context.Background(), scope, burnout("2026-03-10"))
	_, second := e.Emit(context.Background(), scope, burnout("2026-03-10"))
	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, store.Events(idempotency.TableJourneyEvents), 1)
}
