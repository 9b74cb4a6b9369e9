package repo

import (
	"context"
	"errors"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/ledger"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/jackc/pgx/v5"
)

func insertAudit(ctx context.Context, q dbtx, e models.AuditEntry) (bool, error) {
	value, err := jsonb(e.NewValue)
	if err != nil {
		return false, err
	}
	cmd, err := q.Exec(ctx, `INSERT INTO audit_logs (id, event_id, actor_id, action, entity, entity_id, new_value, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (event_id) DO NOTHING`,
		e.ID, e.EventID, e.ActorID, e.Action, e.Entity, e.EntityID, value, e.CreatedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *Repo) InsertAudit(ctx context.Context, entry models.AuditEntry) (bool, error) {
	return insertAudit(ctx, r.Pool, entry)
}

const undoColumns = `id::text, intervention_id::text, user_id::text, workspace_id::text, entity, entity_id, action,
	old_value, expires_at, consumed_at, created_at`

func scanUndo(row pgx.Row) (models.UndoEntry, error) {
	var u models.UndoEntry
	var old []byte
	err := row.Scan(&u.ID, &u.InterventionID, &u.UserID, &u.WorkspaceID, &u.Entity, &u.EntityID, &u.Action,
		&old, &u.ExpiresAt, &u.ConsumedAt, &u.CreatedAt)
	if err != nil {
		return u, err
	}
	u.OldValue, err = models.DecodeUndo(u.Action, old)
	return u, err
}

func (r *Repo) GetUndo(ctx context.Context, id string) (models.UndoEntry, error) {
	u, err := scanUndo(r.Pool.QueryRow(ctx, `SELECT `+undoColumns+` FROM undo_entries WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UndoEntry{}, ErrNotFound
	}
	return u, err
}

func (r *Repo) ListActiveUndo(ctx context.Context, userID string, now time.Time) ([]models.UndoEntry, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+undoColumns+` FROM undo_entries
		WHERE user_id=$1 AND consumed_at IS NULL AND expires_at > $2 ORDER BY expires_at, id`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.UndoEntry
	for rows.Next() {
		u, err := scanUndo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// RevertUndo consumes the entry with a guarded update; a concurrent revert
// or an expired entry leaves zero rows and yields ErrNotRevertible.
func (r *Repo) RevertUndo(ctx context.Context, plan ledger.RevertPlan) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var userID, interventionID string
	err = tx.QueryRow(ctx, `UPDATE undo_entries SET consumed_at=$1
		WHERE id=$2 AND consumed_at IS NULL AND expires_at > $1
		RETURNING user_id::text, intervention_id::text`, plan.Now, plan.Entry.ID).Scan(&userID, &interventionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotRevertible
	}
	if err != nil {
		return err
	}
	if err := applyMutation(ctx, tx, userID, plan.Mutation); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE interventions SET state=$1, reverted_at=$2 WHERE id=$3`,
		string(models.StateReverted), plan.Now, interventionID); err != nil {
		return err
	}
	if _, err := insertAudit(ctx, tx, plan.Audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
