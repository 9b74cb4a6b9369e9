package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/intervention"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/ledger"
	"github.com/zakaria-benledra/second-cerveau-hub-sub000/internal/models"
)

// CommitPlan writes every record of the plan or none of them.
func (s *Store) CommitPlan(_ context.Context, plan intervention.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CommitPlan"); err != nil {
		return err
	}
	for _, iv := range s.interventions {
		if iv.EventID == plan.Intervention.EventID {
			return models.ErrDuplicate
		}
	}
	if err := s.checkMutation(plan.Scope.UserID, plan.Mutation); err != nil {
		return err
	}
	s.applyMutation(plan.Scope.UserID, plan.Mutation)
	s.changes = append(s.changes, plan.Changes...)
	s.interventions[plan.Intervention.ID] = plan.Intervention
	if plan.Undo != nil {
		s.undo[plan.Undo.ID] = *plan.Undo
	}
	s.notifications = append(s.notifications, plan.Notification)
	s.appendAudit(plan.Audit)
	return nil
}

// AcceptIntervention reports false without writing if the intervention was
// already accepted.
func (s *Store) AcceptIntervention(_ context.Context, plan intervention.AcceptPlan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AcceptIntervention"); err != nil {
		return false, err
	}
	iv, ok := s.interventions[plan.InterventionID]
	if !ok {
		return false, models.ErrNotFound
	}
	if iv.UserAction == models.UserActionAccepted {
		return false, nil
	}
	if iv.State == models.StateReverted {
		return false, models.ErrNotApplicable
	}
	for _, m := range plan.Mutations {
		if err := s.checkMutation(plan.Scope.UserID, m); err != nil {
			return false, err
		}
	}
	for _, m := range plan.Mutations {
		s.applyMutation(plan.Scope.UserID, m)
	}
	at := plan.AcceptedAt
	iv.UserAction = models.UserActionAccepted
	iv.AcceptedAt = &at
	iv.State = models.StateApplied
	if iv.AppliedAt == nil {
		iv.AppliedAt = &at
	}
	s.interventions[iv.ID] = iv
	s.changes = append(s.changes, plan.Changes...)
	s.appendAudit(plan.Audit)
	return true, nil
}

// ledger.Store

func (s *Store) InsertAudit(_ context.Context, entry models.AuditEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertAudit"); err != nil {
		return false, err
	}
	return s.appendAudit(entry), nil
}

func (s *Store) GetUndo(_ context.Context, id string) (models.UndoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.undo[id]
	if !ok {
		return models.UndoEntry{}, models.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListActiveUndo(_ context.Context, userID string, now time.Time) ([]models.UndoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UndoEntry
	for _, u := range s.undo {
		if u.UserID == userID && u.Revertible(now) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *Store) RevertUndo(_ context.Context, plan ledger.RevertPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RevertUndo"); err != nil {
		return err
	}
	u, ok := s.undo[plan.Entry.ID]
	if !ok {
		return models.ErrNotFound
	}
	if !u.Revertible(plan.Now) {
		return models.ErrNotRevertible
	}
	if err := s.checkMutation(u.UserID, plan.Mutation); err != nil {
		return err
	}
	at := plan.Now
	u.ConsumedAt = &at
	s.undo[u.ID] = u
	s.applyMutation(u.UserID, plan.Mutation)
	if iv, ok := s.interventions[u.InterventionID]; ok {
		iv.State = models.StateReverted
		iv.RevertedAt = &at
		s.interventions[iv.ID] = iv
	}
	s.appendAudit(plan.Audit)
	return nil
}

func (s *Store) appendAudit(entry models.AuditEntry) bool {
	if _, ok := s.audits[entry.EventID]; ok {
		return false
	}
	s.audits[entry.EventID] = entry
	s.auditOrder = append(s.auditOrder, entry.EventID)
	return true
}

// checkMutation rejects mutations that cannot be applied, so a failed commit
// writes nothing.
func (s *Store) checkMutation(userID string, m models.Mutation) error {
	switch m := m.(type) {
	case nil, models.RescheduleTasks, models.PauseHabits, models.ResumeHabits, models.SetTaskStatus, models.DeleteTask:
		return nil
	case models.CreateTask:
		if _, ok := s.tasks[m.Task.ID]; ok {
			return fmt.Errorf("task %s: %w", m.Task.ID, models.ErrConflict)
		}
		if m.Task.UserID != userID {
			return fmt.Errorf("task %s belongs to another user", m.Task.ID)
		}
		return nil
	case models.RecordSignal:
		return nil
	default:
		return fmt.Errorf("unsupported mutation %s", m.MutationKind())
	}
}

// applyMutation only touches rows owned by userID. Rows changed since the
// mutation was planned are left alone.
func (s *Store) applyMutation(userID string, m models.Mutation) {
	switch m := m.(type) {
	case models.RescheduleTasks:
		for _, mv := range m.Moves {
			t, ok := s.tasks[mv.TaskID]
			if !ok || t.UserID != userID || !sameDate(t.DueDate, mv.From) {
				continue
			}
			t.DueDate = copyDate(mv.To)
			s.tasks[t.ID] = t
		}
	case models.PauseHabits:
		until := m.Until
		for _, id := range m.HabitIDs {
			h, ok := s.habits[id]
			if !ok || h.UserID != userID {
				continue
			}
			h.IsActive = false
			h.PausedUntil = &until
			s.habits[id] = h
		}
	case models.ResumeHabits:
		for _, id := range m.HabitIDs {
			h, ok := s.habits[id]
			if !ok || h.UserID != userID {
				continue
			}
			h.IsActive = true
			h.PausedUntil = nil
			s.habits[id] = h
		}
	case models.CreateTask:
		s.tasks[m.Task.ID] = m.Task
	case models.DeleteTask:
		if t, ok := s.tasks[m.TaskID]; ok && t.UserID == userID {
			delete(s.tasks, m.TaskID)
		}
	case models.SetTaskStatus:
		for _, id := range m.TaskIDs {
			t, ok := s.tasks[id]
			if !ok || t.UserID != userID || t.Status != m.From {
				continue
			}
			t.Status = m.To
			s.tasks[id] = t
		}
	case models.RecordSignal:
		s.signals = append(s.signals, m.Signal)
	}
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return models.Day(*a).Equal(models.Day(*b))
}

func copyDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := *t
	return &d
}
