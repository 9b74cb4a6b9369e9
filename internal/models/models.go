package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrDuplicate     = errors.New("duplicate event")
	ErrNotRevertible = errors.New("not revertible")
	ErrForbidden     = errors.New("forbidden")
	ErrNotApplicable = errors.New("not applicable")
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date in t's location and returns it as
// midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// Scope threads the acting user and their workspace through every call.
type Scope struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
}

type Workspace struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

type Membership struct {
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	PlanFree  = "free"
	RoleOwner = "owner"
)

type UsageLimits struct {
	WorkspaceID      string `json:"workspace_id"`
	AIRequestsLimit  int    `json:"ai_requests_limit"`
	AIRequestsUsed   int    `json:"ai_requests_used"`
	AutomationsLimit int    `json:"automations_limit"`
	AutomationsUsed  int    `json:"automations_used"`
	TeamMembersLimit int    `json:"team_members_limit"`
	StorageMBLimit   int    `json:"storage_mb_limit"`
}

// DefaultUsageLimits returns the free-tier limits seeded with a new workspace.
func DefaultUsageLimits(workspaceID string) UsageLimits {
	return UsageLimits{
		WorkspaceID:      workspaceID,
		AIRequestsLimit:  50,
		AutomationsLimit: 5,
		TeamMembersLimit: 1,
		StorageMBLimit:   100,
	}
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight is the priority multiplier used by the task sub-score.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityUrgent:
		return 1.5
	case PriorityHigh:
		return 1.25
	case PriorityLow:
		return 0.75
	default:
		return 1.0
	}
}

type TaskStatus string

const (
	TaskTodo      TaskStatus = "todo"
	TaskDoing     TaskStatus = "doing"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
)

// DefaultTaskMinutes is assumed for tasks without an estimate.
const DefaultTaskMinutes = 30

type Task struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	WorkspaceID      string     `json:"workspace_id"`
	Title            string     `json:"title"`
	Priority         Priority   `json:"priority"`
	Status           TaskStatus `json:"status"`
	DueDate          *time.Time `json:"due_date"`
	StartDate        *time.Time `json:"start_date"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	CompletedAt      *time.Time `json:"completed_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (t Task) Minutes() int {
	if t.EstimatedMinutes <= 0 {
		return DefaultTaskMinutes
	}
	return t.EstimatedMinutes
}

type Habit struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	WorkspaceID    string     `json:"workspace_id"`
	Name           string     `json:"name"`
	IsActive       bool       `json:"is_active"`
	CurrentStreak  int        `json:"current_streak"`
	PausedUntil    *time.Time `json:"paused_until"`
	CompletedToday bool       `json:"completed_today"`
}

// ActiveAt reports whether the habit counts as active at t. A pause lapses
// once PausedUntil has passed.
func (h Habit) ActiveAt(t time.Time) bool {
	return h.IsActive || (h.PausedUntil != nil && !h.PausedUntil.After(t))
}

type DailyScore struct {
	UserID            string    `json:"user_id"`
	WorkspaceID       string    `json:"workspace_id"`
	Date              time.Time `json:"date"`
	GlobalScore       float64   `json:"global_score"`
	HabitsScore       float64   `json:"habits_score"`
	TasksScore        float64   `json:"tasks_score"`
	FinanceScore      float64   `json:"finance_score"`
	HealthScore       float64   `json:"health_score"`
	MomentumIndex     float64   `json:"momentum_index"`
	BurnoutIndex      float64   `json:"burnout_index"`
	ConsistencyFactor float64   `json:"consistency_factor"`
	ComputedAt        time.Time `json:"computed_at"`
}

type DailyStats struct {
	UserID            string    `json:"user_id"`
	WorkspaceID       string    `json:"workspace_id"`
	Date              time.Time `json:"date"`
	TasksPlanned      int       `json:"tasks_planned"`
	TasksCompleted    int       `json:"tasks_completed"`
	HabitsCompleted   int       `json:"habits_completed"`
	HabitsTotal       int       `json:"habits_total"`
	FocusMinutes      int       `json:"focus_minutes"`
	CompletionRate    float64   `json:"completion_rate"`
	ProductivityScore float64   `json:"productivity_score"`
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

type Notification struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Urgency     Urgency   `json:"urgency"`
	SourceID    string    `json:"source_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type BehaviorSignal struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	WorkspaceID string         `json:"workspace_id"`
	Kind        string         `json:"kind"`
	Sentiment   Sentiment      `json:"sentiment"`
	Detail      map[string]any `json:"detail"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ChangeEvent records the before/after of an automated task or habit change.
type ChangeEvent struct {
	ID          string         `json:"id"`
	Entity      string         `json:"entity"`
	EntityID    string         `json:"entity_id"`
	UserID      string         `json:"user_id"`
	WorkspaceID string         `json:"workspace_id"`
	Action      string         `json:"action"`
	Before      map[string]any `json:"before"`
	After       map[string]any `json:"after"`
	CreatedAt   time.Time      `json:"created_at"`
}

type AuditEntry struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	NewValue  any       `json:"new_value"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a row of an event-sourced table carrying a unique event_id.
type Event struct {
	ID          string         `json:"id"`
	EventID     string         `json:"event_id"`
	UserID      string         `json:"user_id"`
	WorkspaceID string         `json:"workspace_id"`
	Name        string         `json:"name"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

type JobStatus string

const (
	JobSuccess   JobStatus = "success"
	JobDegraded  JobStatus = "degraded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

type JobRun struct {
	ID         string        `json:"id"`
	Job        string        `json:"job"`
	RunDate    time.Time     `json:"run_date"`
	Status     JobStatus     `json:"status"`
	Processed  int           `json:"processed"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Message    string        `json:"message"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Default preferences applied when a user has not configured any.
const (
	DefaultCapacityMinutes = 480
	DefaultTimezone        = "UTC"
)

type Preferences struct {
	UserID               string `json:"user_id"`
	DailyCapacityMinutes int    `json:"daily_capacity_minutes"`
	Timezone             string `json:"timezone"`
}

func DefaultPreferences(userID string) Preferences {
	return Preferences{UserID: userID, DailyCapacityMinutes: DefaultCapacityMinutes, Timezone: DefaultTimezone}
}
