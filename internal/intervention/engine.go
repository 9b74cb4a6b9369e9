// Package intervention evaluates a user's computed day against fixed
// thresholds and applies the resulting automated interventions.
//
// Evaluation is pure: each rule turns a State into a Plan that lists every
// record the intervention produces (the mutation, change events, the
// intervention row, an undo entry, a notification and an audit row). The
// engine hands each Plan to the store, which commits it in one transaction.
package intervention

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

const systemActor = "system:interventions"

type Store interface {
	idempotency.EventStore
	Preferences(ctx context.Context, userID string) (models.Preferences, error)
	// LoadState fills the State fields read from storage; Now and
	// CapacityMinutes are set by the engine.
	LoadState(ctx context.Context, scope models.Scope, date time.Time) (State, error)
	// CommitPlan applies the plan atomically. It returns models.ErrDuplicate
	// when an intervention with the same event id exists.
	CommitPlan(ctx context.Context, plan Plan) error
	GetIntervention(ctx context.Context, id string) (models.Intervention, error)
	ListInterventions(ctx context.Context, userID string, date time.Time) ([]models.Intervention, error)
	LoadManualState(ctx context.Context, scope models.Scope, date time.Time) (ManualState, error)
	// AcceptIntervention applies the plan unless the intervention is already
	// accepted and reports whether it did.
	AcceptIntervention(ctx context.Context, plan AcceptPlan) (bool, error)
}

// Plan is the outbox of one fired rule.
type Plan struct {
	Scope        models.Scope
	Intervention models.Intervention
	Mutation     models.Mutation
	Changes      []models.ChangeEvent
	Undo         *models.UndoEntry
	Notification models.Notification
	Audit        models.AuditEntry
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

type RuleResult struct {
	Rule           string  `json:"rule"`
	Outcome        Outcome `json:"outcome"`
	InterventionID string  `json:"intervention_id,omitempty"`
	Error          string  `json:"error,omitempty"`
}

type Report struct {
	Interventions []models.Intervention `json:"interventions"`
	Results       []RuleResult          `json:"results"`
}

func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

type Engine struct {
	store   Store
	checker *idempotency.Checker
	rules   []Rule
	log     *slog.Logger
	now     func() time.Time
	newID   func() string

	// defaultTZ applies to users without a configured timezone.
	defaultTZ string
}

func NewEngine(store Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   store,
		checker: idempotency.NewChecker(store, log),
		rules:   Rules,
		log:     log,
		now:     time.Now,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) WithDefaultTimezone(name string) *Engine {
	e.defaultTZ = name
	return e
}

// EvaluateAndApply runs every rule in order for the user's date. A failing
// rule is reported and does not stop the rules after it; the returned error
// joins all rule failures.
func (e *Engine) EvaluateAndApply(ctx context.Context, scope models.Scope, date time.Time) (Report, error) {
	date = models.Day(date)
	prefs := e.preferences(ctx, scope.UserID)
	loc := location(prefs.Timezone)

	var report Report
	var errs []error
	for _, rule := range e.rules {
		res, iv, err := e.applyRule(ctx, rule, scope, date, prefs, loc)
		res.Rule = rule.Name
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
			e.log.Warn("intervention rule failed", "rule", rule.Name, "user_id", scope.UserID, "error", err)
		}
		if iv != nil {
			report.Interventions = append(report.Interventions, *iv)
		}
		report.Results = append(report.Results, res)
	}
	return report, errors.Join(errs...)
}

func (e *Engine) applyRule(ctx context.Context, rule Rule, scope models.Scope, date time.Time, prefs models.Preferences, loc *time.Location) (RuleResult, *models.Intervention, error) {
	if err := ctx.Err(); err != nil {
		return RuleResult{}, nil, err
	}
	eventID, err := interventionKey(scope, date, rule.Type)
	if err != nil {
		return RuleResult{}, nil, err
	}
	if e.checker.IsProcessed(ctx, idempotency.TableInterventions, eventID) {
		return RuleResult{Outcome: OutcomeDuplicate}, nil, nil
	}

	state, err := e.store.LoadState(ctx, scope, date)
	if err != nil {
		return RuleResult{}, nil, fmt.Errorf("load state: %w", err)
	}
	state.Scope = scope
	state.Date = date
	state.Now = e.now().In(loc)
	state.CapacityMinutes = prefs.DailyCapacityMinutes

	decision := rule.Evaluate(state, e.newID)
	if decision == nil {
		return RuleResult{Outcome: OutcomeSkipped}, nil, nil
	}
	plan, err := BuildPlan(*decision, scope, date, eventID, e.now().UTC(), e.newID)
	if err != nil {
		return RuleResult{}, nil, err
	}
	if err := e.store.CommitPlan(ctx, plan); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return RuleResult{Outcome: OutcomeDuplicate}, nil, nil
		}
		return RuleResult{}, nil, fmt.Errorf("commit: %w", err)
	}
	e.log.Info("intervention applied",
		"rule", rule.Name,
		"user_id", scope.UserID,
		"intervention_id", plan.Intervention.ID,
		"severity", plan.Intervention.Severity)
	iv := plan.Intervention
	return RuleResult{Outcome: OutcomeApplied, InterventionID: iv.ID}, &iv, nil
}

// BuildPlan attaches ids, timestamps and the derived records to a decision.
func BuildPlan(d Decision, scope models.Scope, date time.Time, eventID string, now time.Time, newID func() string) (Plan, error) {
	appliedAt := now
	iv := models.Intervention{
		ID:          newID(),
		EventID:     eventID,
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		Date:        date,
		Type:        d.Type,
		Severity:    d.Severity,
		Reason:      d.Reason,
		Impact:      d.Impact,
		AutoApplied: true,
		AppliedAt:   &appliedAt,
		State:       models.StateApplied,
		CreatedAt:   now,
	}

	changes := make([]models.ChangeEvent, 0, len(d.Changes))
	for _, c := range d.Changes {
		c.ID = newID()
		c.UserID = scope.UserID
		c.WorkspaceID = scope.WorkspaceID
		c.CreatedAt = now
		changes = append(changes, c)
	}

	var undo *models.UndoEntry
	if d.Undo != nil {
		entityID := d.Undo.EntityID
		if entityID == "" {
			entityID = iv.ID
		}
		undo = &models.UndoEntry{
			ID:             newID(),
			InterventionID: iv.ID,
			UserID:         scope.UserID,
			WorkspaceID:    scope.WorkspaceID,
			Entity:         d.Undo.Entity,
			EntityID:       entityID,
			Action:         d.Undo.Payload.UndoAction(),
			OldValue:       d.Undo.Payload,
			ExpiresAt:      now.Add(models.UndoWindow),
			CreatedAt:      now,
		}
	}

	auditValue := map[string]any{
		"type":     string(d.Type),
		"severity": string(d.Severity),
		"impact":   d.Impact,
	}
	auditID, err := idempotency.Key("intervention", iv.ID, "applied", scope.UserID, scope.WorkspaceID, auditValue)
	if err != nil {
		return Plan{}, err
	}

	return Plan{
		Scope:        scope,
		Intervention: iv,
		Mutation:     d.Mutation,
		Changes:      changes,
		Undo:         undo,
		Notification: models.Notification{
			ID:          newID(),
			UserID:      scope.UserID,
			WorkspaceID: scope.WorkspaceID,
			Title:       d.Title,
			Message:     d.Reason,
			Urgency:     d.Severity.Urgency(),
			SourceID:    iv.ID,
			CreatedAt:   now,
		},
		Audit: models.AuditEntry{
			ID:        newID(),
			EventID:   auditID,
			ActorID:   systemActor,
			Action:    "intervention.applied",
			Entity:    "intervention",
			EntityID:  iv.ID,
			NewValue:  auditValue,
			CreatedAt: now,
		},
	}, nil
}

// List returns the user's interventions for date.
func (e *Engine) List(ctx context.Context, userID string, date time.Time) ([]models.Intervention, error) {
	return e.store.ListInterventions(ctx, userID, models.Day(date))
}

// interventionKey makes automatic interventions at-most-once per user, date
// and type.
func interventionKey(scope models.Scope, date time.Time, t models.InterventionType) (string, error) {
	day := date.Format(models.DateLayout)
	return idempotency.Key("intervention", day, string(t), scope.UserID, scope.WorkspaceID, map[string]any{"date": day})
}

func (e *Engine) preferences(ctx context.Context, userID string) models.Preferences {
	prefs, err := e.store.Preferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			e.log.Warn("load preferences, using defaults", "user_id", userID, "error", err)
		}
		prefs = models.DefaultPreferences(userID)
		prefs.Timezone = ""
	}
	if prefs.DailyCapacityMinutes <= 0 {
		prefs.DailyCapacityMinutes = models.DefaultCapacityMinutes
	}
	if prefs.Timezone == "" {
		prefs.Timezone = e.defaultTZ
	}
	return prefs
}

// Today returns the user's current calendar date in their timezone.
func (e *Engine) Today(ctx context.Context, userID string) time.Time {
	prefs := e.preferences(ctx, userID)
	return models.Day(e.now().In(location(prefs.Timezone)))
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
