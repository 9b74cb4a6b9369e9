// Package workspace maps every user to exactly one workspace, creating it on
// first use.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var ErrMissingUser = errors.New("workspace: missing user id")

// ResolveTimeout bounds a shared lookup and bootstrap. The shared call is
// detached from the first caller's cancellation.
const ResolveTimeout = 10 * time.Second

type Store interface {
	// WorkspaceForUser returns models.ErrNotFound when the user has no membership.
	WorkspaceForUser(ctx context.Context, userID string) (string, error)
	// BootstrapWorkspace atomically creates the workspace, the owner
	// membership and the usage limits. It returns models.ErrConflict when a
	// membership for the owner already exists.
	BootstrapWorkspace(ctx context.Context, ws models.Workspace, limits models.UsageLimits) error
}

type Resolver struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
	group singleflight.Group
}

func NewResolver(store Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, log: log, now: time.Now}
}

// Resolve returns the user's workspace id, never an empty one.
func (r *Resolver) Resolve(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrMissingUser
	}
	ch := r.group.DoChan(userID, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), ResolveTimeout)
		defer cancel()
		return r.resolve(shared, userID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Scope resolves the workspace and returns the pair used by downstream calls.
func (r *Resolver) Scope(ctx context.Context, userID string) (models.Scope, error) {
	workspaceID, err := r.Resolve(ctx, userID)
	if err != nil {
		return models.Scope{}, err
	}
	return models.Scope{UserID: userID, WorkspaceID: workspaceID}, nil
}

func (r *Resolver) resolve(ctx context.Context, userID string) (string, error) {
	workspaceID, err := r.store.WorkspaceForUser(ctx, userID)
	if err == nil {
		return r.checked(userID, workspaceID)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("lookup membership for %s: %w", userID, err)
	}

	ws := models.Workspace{
		ID:        uuid.Must(uuid.NewV7()).String(),
		OwnerID:   userID,
		Plan:      models.PlanFree,
		CreatedAt: r.now().UTC(),
	}
	err = r.store.BootstrapWorkspace(ctx, ws, models.DefaultUsageLimits(ws.ID))
	switch {
	case err == nil:
		r.log.Info("workspace bootstrapped", "user_id", userID, "workspace_id", ws.ID)
		return ws.ID, nil
	case errors.Is(err, models.ErrConflict):
		// Another caller created the membership first; use theirs.
		workspaceID, err = r.store.WorkspaceForUser(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("re-read membership for %s: %w", userID, err)
		}
		r.log.Debug("workspace bootstrap lost race", "user_id", userID, "workspace_id", workspaceID)
		return r.checked(userID, workspaceID)
	default:
		return "", fmt.Errorf("bootstrap workspace for %s: %w", userID, err)
	}
}

func (r *Resolver) checked(userID, workspaceID string) (string, error) {
	if workspaceID == "" {
		return "", fmt.Errorf("membership for %s has empty workspace id", userID)
	}
	return workspaceID, nil
}
