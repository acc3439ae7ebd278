package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/seat-scheduler/internal/auth"
	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/db"
	"github.com/example/seat-scheduler/internal/migrate"
	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/scheduler"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the task scheduler and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if err := cfg.RequireServer(); err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			notifier, err := notify.New(cfg.Notify, a.logger)
			if err != nil {
				return err
			}
			exec, err := a.executor()
			if err != nil {
				return err
			}

			repo := tasks.NewRepo(d)
			s := scheduler.New(exec)
			s.Interval = cfg.Scheduler.PollInterval
			s.Store = repo
			s.Notifier = notifier
			s.Trace = a.hub
			s.Logger = a.logger.Named("scheduler")
			s.Metrics = a.metrics
			if err := s.Load(ctx); err != nil {
				return fmt.Errorf("load tasks: %w", err)
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				if err := s.Run(ctx); err != nil && ctx.Err() == nil {
					a.logger.Error("scheduler stopped", zap.Error(err))
				}
			}()

			ws := &web.Server{
				Auth:      auth.NewStore(cfg.Operator, cfg.CookieHashKey, cfg.CookieBlockKey),
				Scheduler: s,
				Runs:      repo,
				Hub:       a.hub,
				Metrics:   a.metrics,
				Logger:    a.logger.Named("web"),
			}
			err = web.Start(ctx, cfg.ListenAddr, ws.Routes(), a.logger)
			cancel()
			<-done
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
