// Package ledger keeps the append-only audit trail and reverses automated
// changes from their undo entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/idempotency"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNothingToRevert = errors.New("nothing to revert")
	ErrForbidden       = models.ErrForbidden
	ErrNotRevertible   = models.ErrNotRevertible
	ErrExpired         = fmt.Errorf("%w: undo window expired", models.ErrNotRevertible)
	ErrConsumed        = fmt.Errorf("%w: already reverted", models.ErrNotRevertible)
)

type Store interface {
	// InsertAudit appends entry and reports false if its event id exists.
	InsertAudit(ctx context.Context, entry models.AuditEntry) (bool, error)
	GetUndo(ctx context.Context, id string) (models.UndoEntry, error)
	ListActiveUndo(ctx context.Context, userID string, now time.Time) ([]models.UndoEntry, error)
	// RevertUndo consumes the entry, applies the mutation, marks the
	// intervention reverted and appends the audit row in one transaction. It
	// returns models.ErrNotRevertible when the entry was consumed or expired
	// in the meantime.
	RevertUndo(ctx context.Context, plan RevertPlan) error
}

type RevertPlan struct {
	Entry    models.UndoEntry
	Mutation models.Mutation
	Now      time.Time
	Audit    models.AuditEntry
}

type RevertResult struct {
	UndoID         string    `json:"undo_id"`
	InterventionID string    `json:"intervention_id"`
	Action         string    `json:"action"`
	RevertedAt     time.Time `json:"reverted_at"`
}

type Ledger struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func New(store Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, log: log, now: time.Now}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Audit appends an entry. Entries are deduplicated on EventID, which callers
// derive with idempotency.Key.
func (l *Ledger) Audit(ctx context.Context, entry models.AuditEntry) error {
	if entry.EventID == "" {
		return fmt.Errorf("%w: event_id", idempotency.ErrMissingField)
	}
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	inserted, err := l.store.InsertAudit(ctx, entry)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	if !inserted {
		l.log.Debug("audit entry already recorded", "event_id", entry.EventID)
	}
	return nil
}

// Revert restores the state captured in an undo entry. An entry reverts at
// most once and only before it expires.
func (l *Ledger) Revert(ctx context.Context, userID, undoID string) (RevertResult, error) {
	entry, err := l.store.GetUndo(ctx, undoID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return RevertResult{}, ErrNothingToRevert
		}
		return RevertResult{}, fmt.Errorf("get undo entry: %w", err)
	}
	if entry.UserID != userID {
		return RevertResult{}, ErrForbidden
	}
	now := l.now().UTC()
	if entry.ConsumedAt != nil {
		return RevertResult{}, ErrConsumed
	}
	if !now.Before(entry.ExpiresAt) {
		return RevertResult{}, ErrExpired
	}
	if entry.OldValue == nil {
		return RevertResult{}, fmt.Errorf("undo entry %s has no prior state", entry.ID)
	}

	auditValue := map[string]any{"undo_id": entry.ID, "action": entry.Action}
	auditID, err := idempotency.Key("intervention", entry.InterventionID, "reverted", entry.UserID, entry.WorkspaceID, auditValue)
	if err != nil {
		return RevertResult{}, err
	}
	plan := RevertPlan{
		Entry:    entry,
		Mutation: entry.OldValue.Inverse(),
		Now:      now,
		Audit: models.AuditEntry{
			ID:        uuid.Must(uuid.NewV7()).String(),
			EventID:   auditID,
			ActorID:   userID,
			Action:    "intervention.reverted",
			Entity:    "intervention",
			EntityID:  entry.InterventionID,
			NewValue:  auditValue,
			CreatedAt: now,
		},
	}
	if err := l.store.RevertUndo(ctx, plan); err != nil {
		if errors.Is(err, models.ErrNotRevertible) {
			return RevertResult{}, ErrConsumed
		}
		return RevertResult{}, fmt.Errorf("revert: %w", err)
	}
	l.log.Info("intervention reverted",
		"user_id", userID,
		"undo_id", entry.ID,
		"intervention_id", entry.InterventionID,
		"action", entry.Action)
	return RevertResult{
		UndoID:         entry.ID,
		InterventionID: entry.InterventionID,
		Action:         entry.Action,
		RevertedAt:     now,
	}, nil
}

// Active lists the user's entries that can still be reverted.
func (l *Ledger) Active(ctx context.Context, userID string) ([]models.UndoEntry, error) {
	entries, err := l.store.ListActiveUndo(ctx, userID, l.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list undo entries: %w", err)
	}
	return entries, nil
}
