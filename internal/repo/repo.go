package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/idempotency"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = models.ErrNotFound
	ErrConflict  = models.ErrConflict
	ErrDuplicate = models.ErrDuplicate
)

const uniqueViolation = "23505"

type Repo struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repo {
	return &Repo{Pool: pool}
}

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// eventTables are the tables with a unique event_id column. Table names are
// interpolated into SQL, so only these are accepted.
var eventTables = map[string]bool{
	idempotency.TableJourneyEvents: true,
	idempotency.TableAuditLogs:     true,
	idempotency.TableInterventions: true,
}

func (r *Repo) EventExists(ctx context.Context, table, eventID string) (bool, error) {
	if !eventTables[table] {
		return false, fmt.Errorf("table %q has no event_id column", table)
	}
	var exists bool
	err := r.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE event_id=$1)`, eventID).Scan(&exists)
	return exists, err
}

func (r *Repo) InsertEvent(ctx context.Context, table string, ev models.Event) (bool, error) {
	if table != idempotency.TableJourneyEvents {
		return false, fmt.Errorf("table %q does not store events", table)
	}
	payload, err := jsonb(ev.Payload)
	if err != nil {
		return false, err
	}
	cmd, err := r.Pool.Exec(ctx, `INSERT INTO journey_events (id, event_id, user_id, workspace_id, name, payload, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, ev.EventID, ev.UserID, ev.WorkspaceID, ev.Name, payload, ev.OccurredAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ListUserIDs returns every known user: registered users and workspace members.
func (r *Repo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.Pool.Query(ctx, `SELECT id::text FROM users UNION SELECT user_id::text FROM memberships ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) RecordJobRun(ctx context.Context, run models.JobRun) error {
	_, err := r.Pool.Exec(ctx, `INSERT INTO job_runs (id, job, run_date, status, processed, successful, failed, duration_ms, message, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, run.Job, run.RunDate, string(run.Status), run.Processed, run.Successful, run.Failed,
		run.Duration.Milliseconds(), run.Message, run.StartedAt, run.FinishedAt)
	return err
}

func jsonb(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return b, nil
}
