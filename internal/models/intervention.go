package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type InterventionType string

const (
	InterventionLoadReduction    InterventionType = "load_reduction"
	InterventionBurnoutPause     InterventionType = "burnout_pause"
	InterventionStreakProtection InterventionType = "streak_protection"
	InterventionFinancialAlert   InterventionType = "financial_alert"

	// Coach-created interventions, applied through the manual path.
	InterventionRestructure InterventionType = "restructure"
	InterventionMotivation  InterventionType = "motivation"
	InterventionChallenge   InterventionType = "challenge"
	InterventionPraise      InterventionType = "praise"
)

type Severity string

const (
	SeverityAdvisory Severity = "advisory"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Urgency maps a severity onto the notification urgency scale.
func (s Severity) Urgency() Urgency {
	switch s {
	case SeverityCritical:
		return UrgencyHigh
	case SeverityWarning:
		return UrgencyNormal
	default:
		return UrgencyLow
	}
}

type InterventionState string

const (
	StatePending  InterventionState = "pending"
	StateApplied  InterventionState = "applied"
	StateReverted InterventionState = "reverted"
)

const UserActionAccepted = "accepted"

type Intervention struct {
	ID          string            `json:"id"`
	EventID     string            `json:"event_id"`
	UserID      string            `json:"user_id"`
	WorkspaceID string            `json:"workspace_id"`
	Date        time.Time         `json:"date"`
	Type        InterventionType  `json:"type"`
	Severity    Severity          `json:"severity"`
	Reason      string            `json:"reason"`
	Impact      Impact            `json:"impact"`
	AutoApplied bool              `json:"auto_applied"`
	AppliedAt   *time.Time        `json:"applied_at"`
	State       InterventionState `json:"state"`
	UserAction  string            `json:"user_action"`
	AcceptedAt  *time.Time        `json:"accepted_at"`
	RevertedAt  *time.Time        `json:"reverted_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// UnmarshalJSON restores the concrete Impact of the intervention's type.
func (iv *Intervention) UnmarshalJSON(b []byte) error {
	type plain Intervention
	var raw struct {
		plain
		Impact json.RawMessage `json:"impact"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*iv = Intervention(raw.plain)
	impact, err := DecodeImpact(iv.Type, raw.Impact)
	if err != nil {
		return err
	}
	iv.Impact = impact
	return nil
}

// Impact is the per-type summary of what an intervention changed.
type Impact interface {
	ImpactType() InterventionType
}

type LoadReductionImpact struct {
	TasksMoved     int      `json:"tasks_moved"`
	TaskIDs        []string `json:"task_ids"`
	MinutesFreed   int      `json:"minutes_freed"`
	OverloadBefore float64  `json:"overload_before"`
	OverloadAfter  float64  `json:"overload_after"`
}

func (LoadReductionImpact) ImpactType() InterventionType { return InterventionLoadReduction }

type BurnoutPauseImpact struct {
	HabitsPaused int       `json:"habits_paused"`
	HabitIDs     []string  `json:"habit_ids"`
	PausedUntil  time.Time `json:"paused_until"`
	BurnoutIndex float64   `json:"burnout_index"`
}

func (BurnoutPauseImpact) ImpactType() InterventionType { return InterventionBurnoutPause }

type StreakProtectionImpact struct {
	ReminderTaskID string   `json:"reminder_task_id"`
	HabitIDs       []string `json:"habit_ids"`
	HabitNames     []string `json:"habit_names"`
}

func (StreakProtectionImpact) ImpactType() InterventionType { return InterventionStreakProtection }

type FinancialAlertImpact struct {
	Ratio  float64 `json:"ratio"`
	Spent  string  `json:"spent"`
	Budget string  `json:"budget"`
}

func (FinancialAlertImpact) ImpactType() InterventionType { return InterventionFinancialAlert }

// GenericImpact carries the impact of types without a dedicated schema.
type GenericImpact map[string]any

func (GenericImpact) ImpactType() InterventionType { return "" }

// DecodeImpact restores the concrete impact stored for an intervention type.
func DecodeImpact(t InterventionType, raw []byte) (Impact, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return GenericImpact{}, nil
	}
	var dst Impact
	switch t {
	case InterventionLoadReduction:
		var v LoadReductionImpact
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s impact: %w", t, err)
		}
		dst = v
	case InterventionBurnoutPause:
		var v BurnoutPauseImpact
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s impact: %w", t, err)
		}
		dst = v
	case InterventionStreakProtection:
		var v StreakProtectionImpact
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s impact: %w", t, err)
		}
		dst = v
	case InterventionFinancialAlert:
		var v FinancialAlertImpact
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s impact: %w", t, err)
		}
		dst = v
	default:
		v := GenericImpact{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s impact: %w", t, err)
		}
		dst = v
	}
	return dst, nil
}

const (
	UndoRestoreDueDates = "restore_due_dates"
	UndoResumeHabits    = "resume_habits"
	UndoDeleteTask      = "delete_task"
)

// UndoPayload holds the minimal prior state needed to reverse a mutation.
type UndoPayload interface {
	UndoAction() string
	Inverse() Mutation
}

type DueDatesUndo struct {
	Moves []TaskMove `json:"moves"`
}

func (DueDatesUndo) UndoAction() string { return UndoRestoreDueDates }

func (u DueDatesUndo) Inverse() Mutation {
	back := make([]TaskMove, 0, len(u.Moves))
	for _, m := range u.Moves {
		back = append(back, TaskMove{TaskID: m.TaskID, From: m.To, To: m.From})
	}
	return RescheduleTasks{Moves: back}
}

type PausedHabitsUndo struct {
	HabitIDs []string `json:"habit_ids"`
}

func (PausedHabitsUndo) UndoAction() string { return UndoResumeHabits }

func (u PausedHabitsUndo) Inverse() Mutation { return ResumeHabits{HabitIDs: u.HabitIDs} }

type CreatedTaskUndo struct {
	TaskID string `json:"task_id"`
}

func (CreatedTaskUndo) UndoAction() string { return UndoDeleteTask }

func (u CreatedTaskUndo) Inverse() Mutation { return DeleteTask{TaskID: u.TaskID} }

func DecodeUndo(action string, raw []byte) (UndoPayload, error) {
	switch action {
	case UndoRestoreDueDates:
		var v DueDatesUndo
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s undo: %w", action, err)
		}
		return v, nil
	case UndoResumeHabits:
		var v PausedHabitsUndo
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s undo: %w", action, err)
		}
		return v, nil
	case UndoDeleteTask:
		var v CreatedTaskUndo
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s undo: %w", action, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown undo action %q", action)
	}
}

// UndoWindow is how long an automated change stays reversible.
const UndoWindow = 24 * time.Hour

type UndoEntry struct {
	ID             string      `json:"id"`
	InterventionID string      `json:"intervention_id"`
	UserID         string      `json:"user_id"`
	WorkspaceID    string      `json:"workspace_id"`
	Entity         string      `json:"entity"`
	EntityID       string      `json:"entity_id"`
	Action         string      `json:"action"`
	OldValue       UndoPayload `json:"old_value"`
	ExpiresAt      time.Time   `json:"expires_at"`
	ConsumedAt     *time.Time  `json:"consumed_at"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Revertible reports whether the entry can still be consumed at now.
func (u UndoEntry) Revertible(now time.Time) bool {
	return u.ConsumedAt == nil && now.Before(u.ExpiresAt)
}
