package repo

import (
	"context"
	"errors"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/jackc/pgx/v5"
)

func (r *Repo) WorkspaceForUser(ctx context.Context, userID string) (string, error) {
	var workspaceID string
	err := r.Pool.QueryRow(ctx, `SELECT workspace_id::text FROM memberships WHERE user_id=$1`, userID).Scan(&workspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return workspaceID, err
}

// BootstrapWorkspace maps a unique violation on memberships.user_id to
// ErrConflict so the resolver can re-read the winner.
func (r *Repo) BootstrapWorkspace(ctx context.Context, ws models.Workspace, limits models.UsageLimits) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO workspaces (id, owner_id, plan, created_at) VALUES ($1,$2,$3,$4)`,
		ws.ID, ws.OwnerID, ws.Plan, ws.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO memberships (user_id, workspace_id, role, created_at) VALUES ($1,$2,$3,$4)`,
		ws.OwnerID, ws.ID, models.RoleOwner, ws.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO usage_limits (workspace_id, ai_requests_limit, ai_requests_used, automations_limit, automations_used, team_members_limit, storage_mb_limit)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		limits.WorkspaceID, limits.AIRequestsLimit, limits.AIRequestsUsed, limits.AutomationsLimit,
		limits.AutomationsUsed, limits.TeamMembersLimit, limits.StorageMBLimit); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT DO NOTHING`, ws.OwnerID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
