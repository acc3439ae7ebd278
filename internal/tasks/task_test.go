package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)

func TestNewTaskIsPending(t *testing.T) {
	task := New("morning", t0.Add(time.Hour), false, t0)
	assert.Equal(t, StatusPending, task.Status)
	assert.Len(t, task.ID, 36)
	assert.NoError(t, task.Validate())

	other := New("morning", t0.Add(time.Hour), false, t0)
	assert.NotEqual(t, task.ID, other.ID)
}

func TestValidate(t *testing.T) {
	assert.Error(t, New(" ", t0, false, t0).Validate())
	assert.Error(t, New("x", time.Time{}, false, t0).Validate())

	bad := New("x", t0, false, t0)
	bad.Status = "DONE"
	assert.Error(t, bad.Validate())
}

func TestLifecycle(t *testing.T) {
	task := New("x", t0, false, t0)
	later := t0.Add(time.Second)

	require.NoError(t, task.Transition(StatusReady, later))
	require.NoError(t, task.Transition(StatusRunning, later))
	require.NoError(t, task.Transition(StatusExecuted, later))
	assert.True(t, task.Status.Terminal())
	assert.Equal(t, later, task.UpdatedAt)

	err := task.Transition(StatusPending, later)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusExecuted, te.From)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusReady, true},
		{StatusPending, StatusOutdated, true},
		{StatusPending, StatusRunning, false},
		{StatusReady, StatusRunning, true},
		{StatusReady, StatusFailed, true},
		{StatusReady, StatusOutdated, false},
		{StatusRunning, StatusExecuted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPending, false},
		{StatusOutdated, StatusReady, false},
		{StatusFailed, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestCheckTransitionsRejectsIncompleteTable(t *testing.T) {
	err := checkTransitions(Statuses, map[Status][]Status{StatusPending: {StatusReady}})
	assert.Error(t, err)

	err = checkTransitions([]Status{StatusPending}, map[Status][]Status{StatusPending: {"LOST"}})
	assert.Error(t, err)

	assert.NoError(t, checkTransitions(Statuses, transitions))
}

func TestDeletableAndClearable(t *testing.T) {
	cases := []struct {
		status    Status
		deletable bool
		clearable bool
	}{
		{StatusPending, true, true},
		{StatusOutdated, true, true},
		{StatusReady, false, false},
		{StatusRunning, false, false},
		{StatusExecuted, false, true},
		{StatusFailed, false, true},
	}
	for _, tc := range cases {
		task := TimerTask{Status: tc.status}
		assert.Equal(t, tc.deletable, task.Deletable(), string(tc.status))
		assert.Equal(t, tc.clearable, task.Clearable(), string(tc.status))
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" pending ")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}
