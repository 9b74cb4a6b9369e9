package models

import "time"

// Mutation is a change to user-owned tasks, habits or signals that a store
// applies inside the transaction of an intervention, acceptance or revert.
type Mutation interface {
	MutationKind() string
}

// TaskMove changes a task's due date from From to To. Stores only move tasks
// whose current due date still equals From.
type TaskMove struct {
	TaskID string     `json:"task_id"`
	From   *time.Time `json:"from"`
	To     *time.Time `json:"to"`
}

type RescheduleTasks struct {
	Moves []TaskMove
}

func (RescheduleTasks) MutationKind() string { return "reschedule_tasks" }

type PauseHabits struct {
	HabitIDs []string
	Until    time.Time
}

func (PauseHabits) MutationKind() string { return "pause_habits" }

type ResumeHabits struct {
	HabitIDs []string
}

func (ResumeHabits) MutationKind() string { return "resume_habits" }

type CreateTask struct {
	Task Task
}

func (CreateTask) MutationKind() string { return "create_task" }

type DeleteTask struct {
	TaskID string
}

func (DeleteTask) MutationKind() string { return "delete_task" }

// SetTaskStatus moves tasks currently in From to To.
type SetTaskStatus struct {
	TaskIDs []string
	From    TaskStatus
	To      TaskStatus
}

func (SetTaskStatus) MutationKind() string { return "set_task_status" }

type RecordSignal struct {
	Signal BehaviorSignal
}

func (RecordSignal) MutationKind() string { return "record_signal" }

func DatePtr(t time.Time) *time.Time {
	d := Day(t)
	return &d
}
