package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/seat-scheduler/internal/db"
	"github.com/example/seat-scheduler/internal/metrics"
	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/trace"
)

const (
	DefaultInterval = 500 * time.Millisecond
	// DefaultSyncInterval is how often the store is re-read for tasks
	// added or deleted by other processes.
	DefaultSyncInterval = 5 * time.Second
	// Grace is how late a PENDING task may be noticed and still run.
	Grace = 5 * time.Second
)

const traceSource = "scheduler"

var (
	ErrNotFound     = errors.New("task not found")
	ErrTaskInFlight = errors.New("task is queued or running")
	ErrNotDeletable = errors.New("finished tasks can only be cleared")
)

// Executor runs one task to completion. The returned text is kept as the
// run's output.
type Executor interface {
	Execute(ctx context.Context, task tasks.TimerTask) (string, error)
}

type ExecutorFunc func(ctx context.Context, task tasks.TimerTask) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, task tasks.TimerTask) (string, error) {
	return f(ctx, task)
}

// Store persists tasks and their runs; tasks.Repo implements it.
type Store interface {
	List(ctx context.Context) ([]tasks.TimerTask, error)
	Create(ctx context.Context, t tasks.TimerTask) error
	Save(ctx context.Context, t tasks.TimerTask) error
	Delete(ctx context.Context, id string) error
	RecordRun(ctx context.Context, run tasks.Run) error
}

type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	InQueue  int `json:"in_queue"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Outdated int `json:"outdated"`
}

type result struct {
	id       string
	started  time.Time
	finished time.Time
	output   string
	err      error
}

// Scheduler owns the task list. A poll loop promotes due tasks and a single
// worker goroutine executes them one at a time, earliest execute_time first.
type Scheduler struct {
	Interval     time.Duration
	SyncInterval time.Duration
	Grace        time.Duration
	Now          func() time.Time

	Executor Executor
	Store    Store
	Notifier notify.Notifier
	Trace    trace.Sink
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	mu      sync.Mutex
	tasks   map[string]*tasks.TimerTask
	running string

	// dispatch holds at most the one task that is RUNNING.
	dispatch chan tasks.TimerTask
	results  chan result

	wg       sync.WaitGroup
	notifyWG sync.WaitGroup
}

func New(exec Executor) *Scheduler {
	return &Scheduler{
		Interval:     DefaultInterval,
		SyncInterval: DefaultSyncInterval,
		Grace:        Grace,
		Now:          time.Now,
		Executor:     exec,
		Logger:       zap.NewNop(),
		tasks:        make(map[string]*tasks.TimerTask),
		dispatch:     make(chan tasks.TimerTask, 1),
		results:      make(chan result, 1),
	}
}

// Load restores persisted tasks. Tasks left READY or RUNNING by a previous
// process are marked FAILED and never re-run.
func (s *Scheduler) Load(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	list, err := s.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	now := s.Now()
	for _, t := range list {
		t := t
		if t.Status == tasks.StatusReady || t.Status == tasks.StatusRunning {
			if err := t.Transition(tasks.StatusFailed, now); err != nil {
				return err
			}
			t.LastError = "interrupted by restart"
			s.record(ctx, t)
		}
		s.mu.Lock()
		s.tasks[t.ID] = &t
		s.mu.Unlock()
	}
	s.Logger.Sugar().Infow("tasks loaded", "count", len(list))
	return nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	var syncC <-chan time.Time
	if s.Store != nil {
		interval := s.SyncInterval
		if interval <= 0 {
			interval = DefaultSyncInterval
		}
		st := time.NewTicker(interval)
		defer st.Stop()
		syncC = st.C
	}

	s.wg.Add(1)
	go s.work(ctx)
	s.Logger.Sugar().Infow("scheduler started", "interval", s.Interval)

	s.tick(ctx, s.Now())

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			select {
			case res := <-s.results:
				s.complete(context.WithoutCancel(ctx), res)
			default:
			}
			s.notifyWG.Wait()
			s.Logger.Sugar().Infow("scheduler stopped")
			return ctx.Err()
		case <-t.C:
			s.tick(ctx, s.Now())
		case <-syncC:
			if err := s.Sync(ctx); err != nil {
				s.Logger.Sugar().Warnw("task sync failed", "error", err)
			}
		case res := <-s.results:
			s.complete(ctx, res)
			s.tick(ctx, s.Now())
		}
	}
}

func (s *Scheduler) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.dispatch:
			// no mid-flight cancellation: the run outlives shutdown
			s.results <- s.execute(context.WithoutCancel(ctx), task)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, task tasks.TimerTask) (res result) {
	res = result{id: task.ID, started: s.Now()}
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("executor panic: %v", r)
		}
		res.finished = s.Now()
	}()
	trace.Tracef(s.Trace, traceSource, "running task %q", task.Name)
	res.output, res.err = s.Executor.Execute(ctx, task)
	return res
}

func (s *Scheduler) grace() time.Duration {
	if s.Grace <= 0 {
		return Grace
	}
	return s.Grace
}

// tick promotes due PENDING tasks and hands the earliest READY task to the
// worker when nothing is running. Promotions are persisted before dispatch;
// a task whose row is gone was deleted elsewhere and is dropped unrun.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var promoted []tasks.TimerTask
	deadline := now.Add(-s.grace())
	for _, t := range s.sortedLocked() {
		if t.Status != tasks.StatusPending {
			continue
		}
		to := tasks.StatusReady
		switch {
		case !t.ExecuteTime.After(deadline):
			to = tasks.StatusOutdated
		case t.ExecuteTime.After(now):
			continue
		}
		if err := t.Transition(to, now); err != nil {
			s.Logger.Sugar().Errorw("task transition rejected", "task_id", t.ID, "error", err)
			continue
		}
		promoted = append(promoted, *t)
	}
	s.mu.Unlock()

	for _, t := range promoted {
		if s.record(ctx, t) {
			s.forget(t)
		}
	}

	s.mu.Lock()
	var started *tasks.TimerTask
	if s.running == "" {
		for _, t := range s.sortedLocked() {
			if t.Status != tasks.StatusReady {
				continue
			}
			if err := t.Transition(tasks.StatusRunning, now); err != nil {
				s.Logger.Sugar().Errorw("task transition rejected", "task_id", t.ID, "error", err)
				break
			}
			s.running = t.ID
			snapshot := *t
			started = &snapshot
			s.dispatch <- snapshot
			break
		}
	}
	inQueue := s.inQueueLocked()
	s.mu.Unlock()

	if started != nil {
		s.record(ctx, *started)
	}
	s.Metrics.SetInQueue(inQueue)
}

// forget drops a task whose row was deleted by another process.
func (s *Scheduler) forget(t tasks.TimerTask) {
	s.mu.Lock()
	if cur, ok := s.tasks[t.ID]; ok && cur.Status != tasks.StatusRunning {
		delete(s.tasks, t.ID)
	}
	s.mu.Unlock()
	trace.Tracef(s.Trace, traceSource, "task %q was deleted from the store, dropped", t.Name)
}

// Sync reconciles the in-memory list with the store. Tasks created by other
// processes are picked up; PENDING, OUTDATED and finished tasks whose rows
// are gone are dropped. READY and RUNNING tasks are never touched, on
// either side.
func (s *Scheduler) Sync(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	listedAt := s.Now()
	list, err := s.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("sync tasks: %w", err)
	}
	stored := make(map[string]bool, len(list))
	for _, t := range list {
		stored[t.ID] = true
	}

	var added, dropped []string
	s.mu.Lock()
	for id, t := range s.tasks {
		// created after the listing started: not missing, just not listed
		if stored[id] || inFlight(t.Status) || !t.CreatedAt.Before(listedAt) {
			continue
		}
		delete(s.tasks, id)
		dropped = append(dropped, t.Name)
	}
	for _, t := range list {
		if _, ok := s.tasks[t.ID]; ok || inFlight(t.Status) {
			continue
		}
		t := t
		s.tasks[t.ID] = &t
		added = append(added, t.Name)
	}
	inQueue := s.inQueueLocked()
	s.mu.Unlock()

	for _, name := range added {
		trace.Tracef(s.Trace, traceSource, "task %q picked up from the store", name)
	}
	for _, name := range dropped {
		trace.Tracef(s.Trace, traceSource, "task %q was deleted from the store, dropped", name)
	}
	s.Metrics.SetInQueue(inQueue)
	return nil
}

func inFlight(st tasks.Status) bool {
	return st == tasks.StatusReady || st == tasks.StatusRunning
}

func (s *Scheduler) complete(ctx context.Context, res result) {
	s.mu.Lock()
	if s.running == res.id {
		s.running = ""
	}
	t, ok := s.tasks[res.id]
	if !ok {
		s.mu.Unlock()
		s.Logger.Sugar().Warnw("completed task vanished", "task_id", res.id)
		return
	}
	to := tasks.StatusExecuted
	if res.err != nil {
		to = tasks.StatusFailed
		t.LastError = res.err.Error()
	}
	if err := t.Transition(to, res.finished); err != nil {
		s.Logger.Sugar().Errorw("task transition rejected", "task_id", t.ID, "error", err)
	}
	snapshot := *t
	s.mu.Unlock()

	s.record(ctx, snapshot)
	s.Metrics.Run(res.err == nil, res.finished.Sub(res.started).Seconds())

	output := res.output
	if res.err != nil {
		output = res.err.Error()
	}
	if s.Store != nil {
		run := tasks.Run{TaskID: snapshot.ID, StartedAt: res.started, FinishedAt: res.finished, Success: res.err == nil, Output: output}
		if err := s.Store.RecordRun(ctx, run); err != nil {
			s.Logger.Sugar().Errorw("record run failed", "task_id", snapshot.ID, "error", err)
		}
	}
	if !snapshot.Silent && s.Notifier != nil {
		s.notifyWG.Add(1)
		go func() {
			defer s.notifyWG.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			msg := notify.Message{
				Subject: fmt.Sprintf("Task %s %s", snapshot.Name, snapshot.Status),
				Body:    output,
			}
			if err := s.Notifier.Notify(nctx, msg); err != nil {
				s.Logger.Sugar().Warnw("notify failed", "task_id", snapshot.ID, "error", err)
			}
		}()
	}
}

// record traces, counts and persists a task that just changed state. It
// reports whether the task's row no longer exists.
func (s *Scheduler) record(ctx context.Context, t tasks.TimerTask) (gone bool) {
	if t.LastError != "" && t.Status == tasks.StatusFailed {
		trace.Tracef(s.Trace, traceSource, "task %q is now %s: %s", t.Name, t.Status, t.LastError)
	} else {
		trace.Tracef(s.Trace, traceSource, "task %q is now %s", t.Name, t.Status)
	}
	s.Metrics.Transition(string(t.Status))
	if s.Store == nil {
		return false
	}
	if err := s.Store.Save(ctx, t); err != nil {
		if db.IsNotFound(err) {
			return true
		}
		s.Logger.Sugar().Errorw("persist task failed", "task_id", t.ID, "status", t.Status, "error", err)
	}
	return false
}

// Add schedules a new PENDING task.
func (s *Scheduler) Add(ctx context.Context, name string, executeTime time.Time, silent bool) (tasks.TimerTask, error) {
	t := tasks.New(name, executeTime, silent, s.Now())
	if err := t.Validate(); err != nil {
		return tasks.TimerTask{}, err
	}
	if s.Store != nil {
		if err := s.Store.Create(ctx, t); err != nil {
			return tasks.TimerTask{}, err
		}
	}
	s.mu.Lock()
	stored := t
	s.tasks[t.ID] = &stored
	s.mu.Unlock()

	trace.Tracef(s.Trace, traceSource, "task %q scheduled for %s", t.Name, t.ExecuteTime.Format("2006-01-02 15:04:05"))
	return t, nil
}

// Delete removes a PENDING or OUTDATED task.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if !t.Deletable() {
		status := t.Status
		s.mu.Unlock()
		if status == tasks.StatusReady || status == tasks.StatusRunning {
			return ErrTaskInFlight
		}
		return ErrNotDeletable
	}
	delete(s.tasks, id)
	s.mu.Unlock()

	if s.Store != nil {
		if err := s.Store.Delete(ctx, id); err != nil && !db.IsNotFound(err) {
			s.mu.Lock()
			s.tasks[id] = t
			s.mu.Unlock()
			return err
		}
	}
	trace.Tracef(s.Trace, traceSource, "task %q deleted", t.Name)
	return nil
}

// ClearAll removes every task that is not READY or RUNNING and reports how
// many were removed and how many in-flight tasks were kept.
func (s *Scheduler) ClearAll(ctx context.Context) (removed, preserved int, err error) {
	s.mu.Lock()
	var ids []string
	for id, t := range s.tasks {
		if t.Clearable() {
			ids = append(ids, id)
			delete(s.tasks, id)
		} else {
			preserved++
		}
	}
	s.mu.Unlock()

	if s.Store != nil {
		for _, id := range ids {
			if derr := s.Store.Delete(ctx, id); derr != nil && !db.IsNotFound(derr) && err == nil {
				err = derr
			}
		}
	}
	removed = len(ids)
	if preserved > 0 {
		trace.Tracef(s.Trace, traceSource, "cleared %d tasks, kept %d queued or running", removed, preserved)
	} else {
		trace.Tracef(s.Trace, traceSource, "cleared %d tasks", removed)
	}
	return removed, preserved, err
}

// List returns copies of all tasks, earliest execute_time first.
func (s *Scheduler) List() []tasks.TimerTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedLocked()
	out := make([]tasks.TimerTask, len(sorted))
	for i, t := range sorted {
		out[i] = *t
	}
	return out
}

func (s *Scheduler) Get(id string) (tasks.TimerTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return tasks.TimerTask{}, ErrNotFound
	}
	return *t, nil
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.tasks)}
	for _, t := range s.tasks {
		switch t.Status {
		case tasks.StatusPending:
			st.Pending++
		case tasks.StatusReady, tasks.StatusRunning:
			st.InQueue++
		case tasks.StatusExecuted:
			st.Executed++
		case tasks.StatusFailed:
			st.Failed++
		case tasks.StatusOutdated:
			st.Outdated++
		}
	}
	return st
}

func (s *Scheduler) sortedLocked() []*tasks.TimerTask {
	out := make([]*tasks.TimerTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExecuteTime.Equal(out[j].ExecuteTime) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ExecuteTime.Before(out[j].ExecuteTime)
	})
	return out
}

func (s *Scheduler) inQueueLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t.Status == tasks.StatusReady || t.Status == tasks.StatusRunning {
			n++
		}
	}
	return n
}
