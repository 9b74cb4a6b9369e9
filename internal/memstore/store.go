// Package memstore is an in-memory implementation of every store interface of
// the pipeline. It backs unit tests and the STORE=memory development mode; all
// data is lost on exit.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/idempotency"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"

	"github.com/shopspring/decimal"
)

type expense struct {
	userID string
	date   time.Time
	amount decimal.Decimal
}

type budget struct {
	categories decimal.Decimal
	global     decimal.Decimal
}

// Store guards all state with one mutex, so each method is atomic.
type Store struct {
	mu sync.Mutex

	users       map[string]bool
	workspaces  map[string]models.Workspace
	memberships map[string]models.Membership
	limits      map[string]models.UsageLimits
	preferences map[string]models.Preferences

	tasks     map[string]models.Task
	habits    map[string]models.Habit
	habitLogs map[string]map[time.Time]bool
	focus     map[string]map[time.Time]int
	budgets   map[string]budget
	expenses  []expense

	scores map[string]models.DailyScore
	stats  map[string]models.DailyStats

	events        map[string]map[string]models.Event
	audits        map[string]models.AuditEntry
	auditOrder    []string
	interventions map[string]models.Intervention
	undo          map[string]models.UndoEntry
	notifications []models.Notification
	signals       []models.BehaviorSignal
	changes       []models.ChangeEvent
	jobRuns       []models.JobRun

	failures map[string]error
}

func New() *Store {
	return &Store{
		users:         make(map[string]bool),
		workspaces:    make(map[string]models.Workspace),
		memberships:   make(map[string]models.Membership),
		limits:        make(map[string]models.UsageLimits),
		preferences:   make(map[string]models.Preferences),
		tasks:         make(map[string]models.Task),
		habits:        make(map[string]models.Habit),
		habitLogs:     make(map[string]map[time.Time]bool),
		focus:         make(map[string]map[time.Time]int),
		budgets:       make(map[string]budget),
		scores:        make(map[string]models.DailyScore),
		stats:         make(map[string]models.DailyStats),
		events:        make(map[string]map[string]models.Event),
		audits:        make(map[string]models.AuditEntry),
		interventions: make(map[string]models.Intervention),
		undo:          make(map[string]models.UndoEntry),
		failures:      make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) fail(method string) error {
	return s.failures[method]
}

func dayKey(userID string, date time.Time) string {
	return userID + "|" + date.Format(models.DateLayout)
}

// Seeding.

func (s *Store) AddUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = true
}

func (s *Store) AddTask(t models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[t.UserID] = true
	s.tasks[t.ID] = t
}

func (s *Store) AddHabit(h models.Habit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[h.UserID] = true
	s.habits[h.ID] = h
}

// LogHabit records a completed log of the habit on date.
func (s *Store) LogHabit(habitID string, date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.habitLogs[habitID] == nil {
		s.habitLogs[habitID] = make(map[time.Time]bool)
	}
	s.habitLogs[habitID][models.Day(date)] = true
}

func (s *Store) AddFocus(userID string, date time.Time, minutes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.focus[userID] == nil {
		s.focus[userID] = make(map[time.Time]int)
	}
	s.focus[userID][models.Day(date)] += minutes
}

// SetBudgets sets the sum of the user's monthly category budgets and the
// global monthly limit.
func (s *Store) SetBudgets(userID string, categories, global decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[userID] = budget{categories: categories, global: global}
}

func (s *Store) AddExpense(userID string, date time.Time, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses = append(s.expenses, expense{userID: userID, date: models.Day(date), amount: amount})
}

func (s *Store) SetPreferences(p models.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[p.UserID] = p
}

// PutIntervention stores an intervention created outside the engine, such as
// a coach suggestion awaiting acceptance.
func (s *Store) PutIntervention(iv models.Intervention) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interventions[iv.ID] = iv
}

// Reads used by tests and the API.

func (s *Store) Task(id string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *Store) Habit(id string) (models.Habit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.habits[id]
	return h, ok
}

func (s *Store) Tasks(userID string) []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	for _, t := range s.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Workspaces() []models.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		out = append(out, ws)
	}
	return out
}

func (s *Store) UsageLimits(workspaceID string) (models.UsageLimits, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limits[workspaceID]
	return l, ok
}

func (s *Store) DailyScore(_ context.Context, userID string, date time.Time) (models.DailyScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.scores[dayKey(userID, models.Day(date))]
	if !ok {
		return models.DailyScore{}, models.ErrNotFound
	}
	return score, nil
}

func (s *Store) DailyStats(userID string, date time.Time) (models.DailyStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[dayKey(userID, models.Day(date))]
	return st, ok
}

func (s *Store) Notifications(userID string) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) Signals(userID string) []models.BehaviorSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BehaviorSignal
	for _, sig := range s.signals {
		if sig.UserID == userID {
			out = append(out, sig)
		}
	}
	return out
}

func (s *Store) Changes(userID string) []models.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChangeEvent
	for _, c := range s.changes {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) Audits() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditEntry, 0, len(s.auditOrder))
	for _, id := range s.auditOrder {
		out = append(out, s.audits[id])
	}
	return out
}

func (s *Store) Events(table string) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, 0, len(s.events[table]))
	for _, ev := range s.events[table] {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func (s *Store) UndoEntries(userID string) []models.UndoEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UndoEntry
	for _, u := range s.undo {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) JobRuns() []models.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobRun(nil), s.jobRuns...)
}

// idempotency.EventStore

func (s *Store) EventExists(_ context.Context, table, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("EventExists"); err != nil {
		return false, err
	}
	switch table {
	case idempotency.TableAuditLogs:
		_, ok := s.audits[eventID]
		return ok, nil
	case idempotency.TableInterventions:
		for _, iv := range s.interventions {
			if iv.EventID == eventID {
				return true, nil
			}
		}
		return false, nil
	default:
		_, ok := s.events[table][eventID]
		return ok, nil
	}
}

// events.Store

func (s *Store) InsertEvent(_ context.Context, table string, ev models.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertEvent"); err != nil {
		return false, err
	}
	if s.events[table] == nil {
		s.events[table] = make(map[string]models.Event)
	}
	if _, ok := s.events[table][ev.EventID]; ok {
		return false, nil
	}
	s.events[table][ev.EventID] = ev
	return true, nil
}

// workspace.Store

func (s *Store) WorkspaceForUser(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("WorkspaceForUser"); err != nil {
		return "", err
	}
	m, ok := s.memberships[userID]
	if !ok {
		return "", models.ErrNotFound
	}
	return m.WorkspaceID, nil
}

func (s *Store) BootstrapWorkspace(_ context.Context, ws models.Workspace, limits models.UsageLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("BootstrapWorkspace"); err != nil {
		return err
	}
	if _, ok := s.memberships[ws.OwnerID]; ok {
		return models.ErrConflict
	}
	s.users[ws.OwnerID] = true
	s.workspaces[ws.ID] = ws
	s.memberships[ws.OwnerID] = models.Membership{
		UserID:      ws.OwnerID,
		WorkspaceID: ws.ID,
		Role:        models.RoleOwner,
		CreatedAt:   ws.CreatedAt,
	}
	s.limits[ws.ID] = limits
	return nil
}

// service.Store

func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListUserIDs"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) RecordJobRun(_ context.Context, run models.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordJobRun"); err != nil {
		return err
	}
	s.jobRuns = append(s.jobRuns, run)
	return nil
}
