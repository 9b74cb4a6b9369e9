package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterventionJSONKeepsImpactType(t *testing.T) {
	in := Intervention{
		ID:   "iv-1",
		Type: InterventionLoadReduction,
		Impact: LoadReductionImpact{
			TasksMoved: 2, TaskIDs: []string{"t1", "t2"}, MinutesFreed: 60,
			OverloadBefore: 1.51, OverloadAfter: 0.91,
		},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Intervention
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.Impact, out.Impact)
	assert.Equal(t, "iv-1", out.ID)
}

func TestInterventionJSONUnknownTypeIsGeneric(t *testing.T) {
	var out Intervention
	require.NoError(t, json.Unmarshal([]byte(`{"id":"iv-2","type":"praise","impact":{"note":"great week"}}`), &out))
	assert.Equal(t, GenericImpact{"note": "great week"}, out.Impact)
}

func TestUndoInverse(t *testing.T) {
	today := Day(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	tomorrow := today.AddDate(0, 0, 1)
	undo := DueDatesUndo{Moves: []TaskMove{{TaskID: "t1", From: &today, To: &tomorrow}}}

	raw, err := json.Marshal(undo)
	require.NoError(t, err)
	decoded, err := DecodeUndo(undo.UndoAction(), raw)
	require.NoError(t, err)

	inverse, ok := decoded.Inverse().(RescheduleTasks)
	require.True(t, ok)
	require.Len(t, inverse.Moves, 1)
	assert.Equal(t, tomorrow, *inverse.Moves[0].From)
	assert.Equal(t, today, *inverse.Moves[0].To)

	_, err = DecodeUndo("drop_table", raw)
	assert.Error(t, err)
}

func TestHabitActiveAt(t *testing.T) {
	until := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	paused := Habit{IsActive: false, PausedUntil: &until}

	assert.False(t, paused.ActiveAt(until.Add(-time.Second)))
	assert.True(t, paused.ActiveAt(until))
	assert.False(t, Habit{}.ActiveAt(until))
	assert.True(t, Habit{IsActive: true}.ActiveAt(until))
}

func TestUndoEntryRevertible(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	u := UndoEntry{ExpiresAt: now.Add(UndoWindow)}

	assert.True(t, u.Revertible(now.Add(23*time.Hour)))
	assert.False(t, u.Revertible(u.ExpiresAt))
	u.ConsumedAt = &now
	assert.False(t, u.Revertible(now))
}
