package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/db"
	"github.com/example/seat-scheduler/internal/migrate"
	"github.com/example/seat-scheduler/internal/tasks"
)

// A running server picks up tasks changed here on its next store sync.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage timer tasks stored in Postgres (non-UI)",
	}
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskDeleteCmd())
	cmd.AddCommand(newTaskClearCmd())
	return cmd
}

func withRepo(ctx context.Context, fn func(*tasks.Repo) error) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := migrate.Up(ctx, d); err != nil {
		return err
	}
	return fn(tasks.NewRepo(d))
}

// parseWhen accepts RFC3339 or a local "YYYY-MM-DD HH:MM".
func parseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q (want RFC3339 or YYYY-MM-DD HH:MM)", s)
	}
	return t, nil
}

func newTaskAddCmd() *cobra.Command {
	var (
		name   string
		at     string
		silent bool
	)
	c := &cobra.Command{
		Use:   "add",
		Short: "Schedule a run of the users file",
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseWhen(at)
			if err != nil {
				return err
			}
			now := time.Now()
			if !when.After(now) {
				return fmt.Errorf("--at %s is not in the future", when.Format(time.RFC3339))
			}
			t := tasks.New(name, when, silent, now)
			if err := t.Validate(); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(r *tasks.Repo) error {
				if err := r.Create(cmd.Context(), t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created task id=%s execute_time=%s\n", t.ID, t.ExecuteTime.Format(time.RFC3339))
				return nil
			})
		},
	}
	c.Flags().StringVar(&name, "name", "", "task name")
	c.Flags().StringVar(&at, "at", "", "execute time (RFC3339 or local YYYY-MM-DD HH:MM)")
	c.Flags().BoolVar(&silent, "silent", false, "do not send a completion notification")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("at")
	return c
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks, earliest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(r *tasks.Repo) error {
				ts, err := r.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tEXECUTE TIME\tSTATUS\tSILENT\tLAST ERROR")
				for _, t := range ts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
						t.ID, t.Name, t.ExecuteTime.Local().Format("2006-01-02 15:04:05"), t.Status, t.Silent, t.LastError)
				}
				return tw.Flush()
			})
		},
	}
}

func newTaskDeleteCmd() *cobra.Command {
	var id string
	c := &cobra.Command{
		Use:   "delete",
		Short: "Delete a PENDING or OUTDATED task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(r *tasks.Repo) error {
				t, err := r.Get(cmd.Context(), id)
				if err != nil {
					if errors.Is(err, db.ErrNotFound) {
						return fmt.Errorf("task %s not found", id)
					}
					return err
				}
				if !t.Deletable() {
					return fmt.Errorf("task %s is %s and cannot be deleted", id, t.Status)
				}
				if err := r.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted task %s\n", id)
				return nil
			})
		},
	}
	c.Flags().StringVar(&id, "id", "", "task id")
	_ = c.MarkFlagRequired("id")
	return c
}

func newTaskClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every task that is not queued or running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(r *tasks.Repo) error {
				ts, err := r.List(cmd.Context())
				if err != nil {
					return err
				}
				removed, kept := 0, 0
				for _, t := range ts {
					if !t.Clearable() {
						kept++
						continue
					}
					if err := r.Delete(cmd.Context(), t.ID); err != nil && !db.IsNotFound(err) {
						return err
					}
					removed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d tasks, kept %d queued or running\n", removed, kept)
				return nil
			})
		},
	}
}
