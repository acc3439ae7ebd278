package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusReady    Status = "READY"
	StatusRunning  Status = "RUNNING"
	StatusExecuted Status = "EXECUTED"
	StatusOutdated Status = "OUTDATED"
	StatusFailed   Status = "FAILED"
)

// Statuses is the closed set of task states, in lifecycle order.
var Statuses = []Status{StatusPending, StatusReady, StatusRunning, StatusExecuted, StatusOutdated, StatusFailed}

// transitions lists the legal successors of every state. READY -> FAILED
// covers a task that was queued when the process died.
var transitions = map[Status][]Status{
	StatusPending:  {StatusReady, StatusOutdated},
	StatusReady:    {StatusRunning, StatusFailed},
	StatusRunning:  {StatusExecuted, StatusFailed},
	StatusExecuted: nil,
	StatusOutdated: nil,
	StatusFailed:   nil,
}

func init() {
	if err := checkTransitions(Statuses, transitions); err != nil {
		panic(err)
	}
}

func checkTransitions(states []Status, table map[Status][]Status) error {
	known := make(map[Status]bool, len(states))
	for _, s := range states {
		known[s] = true
		if _, ok := table[s]; !ok {
			return fmt.Errorf("tasks: no transitions declared for state %s", s)
		}
	}
	for from, tos := range table {
		if !known[from] {
			return fmt.Errorf("tasks: transition table names unknown state %s", from)
		}
		for _, to := range tos {
			if !known[to] {
				return fmt.Errorf("tasks: %s -> %s targets an unknown state", from, to)
			}
		}
	}
	return nil
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if err := st.Validate(); err != nil {
		return "", err
	}
	return st, nil
}

func (s Status) Validate() error {
	if _, ok := transitions[s]; !ok {
		return fmt.Errorf("unknown task status %q", string(s))
	}
	return nil
}

// Terminal reports whether s has no successors.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid task transition")

type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// TimerTask is a request to run the reservation pipeline at ExecuteTime.
type TimerTask struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ExecuteTime time.Time `json:"execute_time"`
	Status      Status    `json:"status"`
	Silent      bool      `json:"silent"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func New(name string, executeTime time.Time, silent bool, now time.Time) TimerTask {
	return TimerTask{
		ID:          uuid.NewString(),
		Name:        name,
		ExecuteTime: executeTime,
		Status:      StatusPending,
		Silent:      silent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (t TimerTask) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name required")
	}
	if t.ExecuteTime.IsZero() {
		return fmt.Errorf("execute_time required")
	}
	return t.Status.Validate()
}

// Transition moves t to the given state or returns a *TransitionError.
func (t *TimerTask) Transition(to Status, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return &TransitionError{From: t.Status, To: to}
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// Deletable is true while the task has not been picked up for execution.
func (t TimerTask) Deletable() bool {
	return t.Status == StatusPending || t.Status == StatusOutdated
}

// Clearable is true for every state except the in-flight ones.
func (t TimerTask) Clearable() bool {
	return t.Status != StatusReady && t.Status != StatusRunning
}

// Run is one execution attempt of a task.
type Run struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
}
