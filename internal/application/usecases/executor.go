package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/domain/reservation"
	"github.com/example/seat-scheduler/internal/lock"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/trace"
)

var (
	ErrOutsideServiceHours = errors.New("automated runs are only allowed between " + reservation.OpeningTime + " and " + reservation.RunWindowEnd)
	ErrNoUsers             = errors.New("users file has no enabled users")
)

const runLockKey = "run"

// TaskExecutor runs the whole users file once per call. It refuses outside
// service hours and holds the run lock for the duration.
type TaskExecutor struct {
	Runner  *Runner
	Users   func() (config.UsersFile, error)
	Locker  lock.Locker
	LockTTL time.Duration
	Now     func() time.Time
	Trace   trace.Sink
}

func (e *TaskExecutor) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// RunOnce performs one run and returns its summary.
func (e *TaskExecutor) RunOnce(ctx context.Context) (Summary, error) {
	if !reservation.WithinServiceHours(e.now()) {
		trace.Tracef(e.Trace, traceSource, "%v", ErrOutsideServiceHours)
		return Summary{}, ErrOutsideServiceHours
	}

	ttl := e.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	release, err := e.Locker.Acquire(ctx, runLockKey, ttl)
	if err != nil {
		return Summary{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer release()

	uf, err := e.Users()
	if err != nil {
		return Summary{}, err
	}
	trace.Tracef(e.Trace, traceSource, "run started")
	sum := e.Runner.RunGroups(ctx, uf.Groups)
	if sum.Users == 0 {
		return sum, ErrNoUsers
	}
	return sum, nil
}

// Execute adapts RunOnce to the scheduler. A run in which no user succeeded
// fails the task.
func (e *TaskExecutor) Execute(ctx context.Context, task tasks.TimerTask) (string, error) {
	trace.Tracef(e.Trace, traceSource, "timer task %q fired", task.Name)
	sum, err := e.RunOnce(ctx)
	if err != nil {
		return sum.String(), err
	}
	if sum.Success == 0 {
		return sum.String(), fmt.Errorf("no user succeeded: %s", sum)
	}
	return sum.String(), nil
}
