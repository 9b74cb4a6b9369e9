package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/jackc/pgx/v5"
)

// CommitPlan writes the intervention first so a concurrent duplicate fails on
// the event_id constraint before any mutation runs.
func (r *Repo) CommitPlan(ctx context.Context, plan intervention.Plan) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertIntervention(ctx, tx, plan.Intervention); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert intervention: %w", err)
	}
	if err := applyMutation(ctx, tx, plan.Scope.UserID, plan.Mutation); err != nil {
		return err
	}
	if err := insertChanges(ctx, tx, plan.Changes); err != nil {
		return err
	}
	if plan.Undo != nil {
		if err := insertUndo(ctx, tx, *plan.Undo); err != nil {
			return err
		}
	}
	if err := insertNotification(ctx, tx, plan.Notification); err != nil {
		return err
	}
	if _, err := insertAudit(ctx, tx, plan.Audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AcceptIntervention claims the intervention with a conditional update, so of
// two concurrent acceptances only one applies its mutations.
func (r *Repo) AcceptIntervention(ctx context.Context, plan intervention.AcceptPlan) (bool, error) {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `UPDATE interventions
		SET user_action=$1, accepted_at=$2, state=$3, applied_at=COALESCE(applied_at, $2)
		WHERE id=$4 AND user_id=$5 AND user_action <> $1 AND state <> $6`,
		models.UserActionAccepted, plan.AcceptedAt, string(models.StateApplied), plan.InterventionID, plan.Scope.UserID,
		string(models.StateReverted))
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() == 0 {
		var action, state string
		err := tx.QueryRow(ctx, `SELECT user_action, state FROM interventions WHERE id=$1`, plan.InterventionID).Scan(&action, &state)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		if err != nil {
			return false, err
		}
		if action != string(models.UserActionAccepted) && state == string(models.StateReverted) {
			return false, models.ErrNotApplicable
		}
		return false, nil
	}
	for _, m := range plan.Mutations {
		if err := applyMutation(ctx, tx, plan.Scope.UserID, m); err != nil {
			return false, err
		}
	}
	if err := insertChanges(ctx, tx, plan.Changes); err != nil {
		return false, err
	}
	if _, err := insertAudit(ctx, tx, plan.Audit); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

const interventionColumns = `id::text, event_id, user_id::text, workspace_id::text, date, type, severity, reason, impact,
	auto_applied, applied_at, state, user_action, accepted_at, reverted_at, created_at`

func scanIntervention(row pgx.Row) (models.Intervention, error) {
	var iv models.Intervention
	var typ, severity, state string
	var impact []byte
	err := row.Scan(&iv.ID, &iv.EventID, &iv.UserID, &iv.WorkspaceID, &iv.Date, &typ, &severity, &iv.Reason, &impact,
		&iv.AutoApplied, &iv.AppliedAt, &state, &iv.UserAction, &iv.AcceptedAt, &iv.RevertedAt, &iv.CreatedAt)
	if err != nil {
		return iv, err
	}
	iv.Type = models.InterventionType(typ)
	iv.Severity = models.Severity(severity)
	iv.State = models.InterventionState(state)
	iv.Impact, err = models.DecodeImpact(iv.Type, impact)
	return iv, err
}

func (r *Repo) GetIntervention(ctx context.Context, id string) (models.Intervention, error) {
	iv, err := scanIntervention(r.Pool.QueryRow(ctx, `SELECT `+interventionColumns+` FROM interventions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Intervention{}, ErrNotFound
	}
	return iv, err
}

func (r *Repo) ListInterventions(ctx context.Context, userID string, date time.Time) ([]models.Intervention, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+interventionColumns+` FROM interventions
		WHERE user_id=$1 AND date=$2 ORDER BY created_at, id`, userID, models.Day(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func insertIntervention(ctx context.Context, q dbtx, iv models.Intervention) error {
	impact, err := jsonb(iv.Impact)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO interventions (id, event_id, user_id, workspace_id, date, type, severity, reason, impact,
			auto_applied, applied_at, state, user_action, accepted_at, reverted_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		iv.ID, iv.EventID, iv.UserID, iv.WorkspaceID, iv.Date, string(iv.Type), string(iv.Severity), iv.Reason, impact,
		iv.AutoApplied, iv.AppliedAt, string(iv.State), iv.UserAction, iv.AcceptedAt, iv.RevertedAt, iv.CreatedAt)
	return err
}

func insertChanges(ctx context.Context, q dbtx, changes []models.ChangeEvent) error {
	for _, c := range changes {
		before, err := jsonb(c.Before)
		if err != nil {
			return err
		}
		after, err := jsonb(c.After)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `INSERT INTO change_events (id, entity, entity_id, user_id, workspace_id, action, before, after, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			c.ID, c.Entity, c.EntityID, c.UserID, c.WorkspaceID, c.Action, before, after, c.CreatedAt); err != nil {
			return fmt.Errorf("insert change %s: %w", c.ID, err)
		}
	}
	return nil
}

func insertUndo(ctx context.Context, q dbtx, u models.UndoEntry) error {
	old, err := jsonb(u.OldValue)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO undo_entries (id, intervention_id, user_id, workspace_id, entity, entity_id, action,
			old_value, expires_at, consumed_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.InterventionID, u.UserID, u.WorkspaceID, u.Entity, u.EntityID, u.Action, old, u.ExpiresAt, u.ConsumedAt, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert undo: %w", err)
	}
	return nil
}

func insertNotification(ctx context.Context, q dbtx, n models.Notification) error {
	_, err := q.Exec(ctx, `INSERT INTO notifications (id, user_id, workspace_id, title, message, urgency, source_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.UserID, n.WorkspaceID, n.Title, n.Message, string(n.Urgency), n.SourceID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// applyMutation only touches rows owned by userID. Rows changed since the
// mutation was planned are left alone.
func applyMutation(ctx context.Context, q dbtx, userID string, m models.Mutation) error {
	var err error
	switch m := m.(type) {
	case nil:
	case models.RescheduleTasks:
		for _, mv := range m.Moves {
			_, err = q.Exec(ctx, `UPDATE tasks SET due_date=$1, updated_at=now()
				WHERE id=$2 AND user_id=$3 AND due_date IS NOT DISTINCT FROM $4::date`,
				mv.To, mv.TaskID, userID, mv.From)
			if err != nil {
				break
			}
		}
	case models.PauseHabits:
		_, err = q.Exec(ctx, `UPDATE habits SET is_active=false, paused_until=$1 WHERE id = ANY($2::uuid[]) AND user_id=$3`,
			m.Until, m.HabitIDs, userID)
	case models.ResumeHabits:
		_, err = q.Exec(ctx, `UPDATE habits SET is_active=true, paused_until=NULL WHERE id = ANY($1::uuid[]) AND user_id=$2`,
			m.HabitIDs, userID)
	case models.CreateTask:
		t := m.Task
		if t.UserID != userID {
			return fmt.Errorf("task %s belongs to another user", t.ID)
		}
		_, err = q.Exec(ctx, `INSERT INTO tasks (id, user_id, workspace_id, title, priority, status, due_date, start_date,
				estimated_minutes, completed_at, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			t.ID, t.UserID, t.WorkspaceID, t.Title, string(t.Priority), string(t.Status), t.DueDate, t.StartDate,
			t.EstimatedMinutes, t.CompletedAt, t.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", t.ID, ErrConflict)
		}
	case models.DeleteTask:
		_, err = q.Exec(ctx, `DELETE FROM tasks WHERE id=$1 AND user_id=$2`, m.TaskID, userID)
	case models.SetTaskStatus:
		_, err = q.Exec(ctx, `UPDATE tasks SET status=$1, updated_at=now() WHERE id = ANY($2::uuid[]) AND user_id=$3 AND status=$4`,
			string(m.To), m.TaskIDs, userID, string(m.From))
	case models.RecordSignal:
		s := m.Signal
		detail, jerr := jsonb(s.Detail)
		if jerr != nil {
			return jerr
		}
		_, err = q.Exec(ctx, `INSERT INTO behavior_signals (id, user_id, workspace_id, kind, sentiment, detail, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			s.ID, userID, s.WorkspaceID, s.Kind, string(s.Sentiment), detail, s.CreatedAt)
	default:
		return fmt.Errorf("unsupported mutation %s", m.MutationKind())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", mutationKind(m), err)
	}
	return nil
}

func mutationKind(m models.Mutation) string {
	if m == nil {
		return "none"
	}
	return m.MutationKind()
}
