package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/auth"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/events"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/ledger"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/go-chi/chi/v5"
)

type computeRequest struct {
	Date   string `json:"date"`
	UserID string `json:"user_id"`
}

type applyRequest struct {
	InterventionID string `json:"interventionId"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.Ping != nil {
		if err := a.Ping(r.Context()); err != nil {
			a.log().Warn("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseDate reads YYYY-MM-DD. An empty value yields the zero time, which
// the job service resolves to each user's local today.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return models.ParseDate(s)
}

// userDate reads YYYY-MM-DD, defaulting to the user's local today.
func (a *API) userDate(ctx context.Context, userID, s string) (time.Time, error) {
	date, err := parseDate(s)
	if err != nil || !date.IsZero() {
		return date, err
	}
	if a.Interventions != nil {
		return a.Interventions.Today(ctx, userID), nil
	}
	return models.Day(a.now().UTC()), nil
}

// userPrincipal returns the caller's user id. Routes acting on the caller's
// own data reject the service key.
func userPrincipal(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user")
		return "", false
	}
	if p.UserID == "" {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "User token required")
		return "", false
	}
	return p.UserID, true
}

func (a *API) handleComputeScores(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user")
		return
	}
	var req computeRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid date")
		return
	}

	var userIDs []string
	switch {
	case req.UserID != "":
		if !p.CanActFor(req.UserID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Cannot compute scores for another user")
			return
		}
		userIDs = []string{req.UserID}
	case p.Service:
		// every user
	default:
		userIDs = []string{p.UserID}
	}

	res, err := a.Jobs.Run(r.Context(), date, userIDs...)
	if err != nil {
		a.log().Error("score job failed", "date", req.Date, "error", err)
		writeError(w, http.StatusInternalServerError, "JOB_FAILED", "Score computation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleGetScore(w http.ResponseWriter, r *http.Request) {
	userID, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	date, err := a.userDate(r.Context(), userID, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid date")
		return
	}
	score, err := a.Scores.DailyScore(r.Context(), userID, date)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "No score for date")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load score")
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (a *API) handleListInterventions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	date, err := a.userDate(r.Context(), userID, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid date")
		return
	}
	items, err := a.Interventions.List(r.Context(), userID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list interventions")
		return
	}
	if items == nil {
		items = []models.Intervention{}
	}
	writeJSON(w, http.StatusOK, listResponse[models.Intervention]{Items: items})
}

func (a *API) handleApplyIntervention(w http.ResponseWriter, r *http.Request) {
	userID, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.InterventionID) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "interventionId required")
		return
	}
	res, err := a.Interventions.Apply(r.Context(), userID, req.InterventionID)
	if err != nil {
		switch {
		case errors.Is(err, intervention.ErrInterventionNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Intervention not found")
		case errors.Is(err, intervention.ErrForbidden):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Not allowed")
		case errors.Is(err, intervention.ErrNotApplicable):
			writeError(w, http.StatusConflict, "NOT_APPLICABLE", "Intervention was reverted")
		default:
			a.log().Error("apply intervention", "intervention_id", req.InterventionID, "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to apply intervention")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleListUndo(w http.ResponseWriter, r *http.Request) {
	userID, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	items, err := a.Ledger.Active(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list undo entries")
		return
	}
	if items == nil {
		items = []models.UndoEntry{}
	}
	writeJSON(w, http.StatusOK, listResponse[models.UndoEntry]{Items: items})
}

func (a *API) handleRevert(w http.ResponseWriter, r *http.Request) {
	userID, ok := userPrincipal(w, r)
	if !ok {
		return
	}
	undoID := chi.URLParam(r, "id")
	res, err := a.Ledger.Revert(r.Context(), userID, undoID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNothingToRevert):
			writeError(w, http.StatusNotFound, "NOTHING_TO_REVERT", "Nothing to revert")
		case errors.Is(err, ledger.ErrForbidden):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Not allowed")
		case errors.Is(err, ledger.ErrNotRevertible):
			writeError(w, http.StatusConflict, "NOT_REVERTIBLE", err.Error())
		default:
			a.log().Error("revert", "undo_id", undoID, "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revert")
		}
		return
	}
	a.emitReverted(r, userID, res)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) emitReverted(r *http.Request, userID string, res ledger.RevertResult) {
	if a.Events == nil || a.Resolver == nil {
		return
	}
	scope, err := a.Resolver.Scope(r.Context(), userID)
	if err != nil {
		a.log().Warn("resolve workspace for revert event", "user_id", userID, "error", err)
		return
	}
	a.Events.Emit(r.Context(), scope, events.Spec{
		Entity:   "undo_entry",
		EntityID: res.UndoID,
		Name:     events.InterventionReverted,
		Key:      map[string]any{"undo_id": res.UndoID},
		Payload:  map[string]any{"intervention_id": res.InterventionID, "action": res.Action},
	})
}
