// Package events writes product events to the event-sourced journey table.
// Emission is fire-and-forget: failures are logged, never returned.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/idempotency"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/google/uuid"
)

const (
	BurnoutCritical        = "burnout.critical"
	BudgetThresholdReached = "budget.threshold_reached"
	InterventionReverted   = "intervention.reverted"
)

type Store interface {
	idempotency.EventStore
	// InsertEvent stores ev unless its event_id already exists and reports
	// whether a row was written.
	InsertEvent(ctx context.Context, table string, ev models.Event) (bool, error)
}

type Emitter struct {
	store   Store
	checker *idempotency.Checker
	log     *slog.Logger
	now     func() time.Time
}

func NewEmitter(store Store, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{
		store:   store,
		checker: idempotency.NewChecker(store, log),
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the timestamp source.
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

// Spec describes one event. Identity fields and Key determine the event id;
// Payload is stored with the row.
type Spec struct {
	Entity   string
	EntityID string
	Name     string
	Key      map[string]any
	Payload  map[string]any
}

// Emit records the event once per distinct identity. It returns the event id
// and whether a new row was written.
func (e *Emitter) Emit(ctx context.Context, scope models.Scope, spec Spec) (string, bool) {
	eventID, err := idempotency.Key(spec.Entity, spec.EntityID, spec.Name, scope.UserID, scope.WorkspaceID, spec.Key)
	if err != nil {
		e.log.Error("event key", "event", spec.Name, "error", err)
		return "", false
	}
	if e.checker.IsProcessed(ctx, idempotency.TableJourneyEvents, eventID) {
		return eventID, false
	}
	written, err := e.store.InsertEvent(ctx, idempotency.TableJourneyEvents, models.Event{
		ID:          uuid.Must(uuid.NewV7()).String(),
		EventID:     eventID,
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		Name:        spec.Name,
		Payload:     spec.Payload,
		OccurredAt:  e.now().UTC(),
	})
	if err != nil {
		e.log.Warn("emit event failed", "event", spec.Name, "event_id", eventID, "user_id", scope.UserID, "error", err)
		return eventID, false
	}
	if written {
		e.log.Info("event emitted", "event", spec.Name, "event_id", eventID, "user_id", scope.UserID)
	}
	return eventID, written
}
