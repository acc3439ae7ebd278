package tasks

import (
	"context"
	"fmt"

	"github.com/example/seat-scheduler/internal/db"
)

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

const taskColumns = `id,name,execute_time,status,silent,last_error,created_at,updated_at`

func (r *Repo) Create(ctx context.Context, t TimerTask) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `
INSERT INTO timer_tasks(`+taskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.Name, t.ExecuteTime, string(t.Status), t.Silent, t.LastError, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (TimerTask, error) {
	row := r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM timer_tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if err != nil {
		return TimerTask{}, db.WrapNotFound(err)
	}
	return t, nil
}

// List returns every task, earliest execute_time first.
func (r *Repo) List(ctx context.Context) ([]TimerTask, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM timer_tasks ORDER BY execute_time ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimerTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Save persists the mutable fields of t.
func (r *Repo) Save(ctx context.Context, t TimerTask) error {
	n, err := r.db.Exec(ctx, `UPDATE timer_tasks SET status=$2, last_error=$3, updated_at=$4 WHERE id=$1`,
		t.ID, string(t.Status), t.LastError, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	n, err := r.db.Exec(ctx, `DELETE FROM timer_tasks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *Repo) RecordRun(ctx context.Context, run Run) error {
	_, err := r.db.Exec(ctx, `INSERT INTO task_runs(task_id,started_at,finished_at,success,output) VALUES ($1,$2,$3,$4,$5)`,
		run.TaskID, run.StartedAt, run.FinishedAt, run.Success, run.Output)
	return err
}

func (r *Repo) ListRuns(ctx context.Context, taskID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
SELECT id,task_id,started_at,finished_at,success,output
FROM task_runs
WHERE task_id=$1
ORDER BY started_at DESC
LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.TaskID, &run.StartedAt, &run.FinishedAt, &run.Success, &run.Output); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanTask(row db.Row) (TimerTask, error) {
	var t TimerTask
	var status string
	if err := row.Scan(&t.ID, &t.Name, &t.ExecuteTime, &status, &t.Silent, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return TimerTask{}, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return TimerTask{}, fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Status = st
	return t, nil
}
