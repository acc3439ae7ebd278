package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/seat-scheduler/internal/application/usecases"
	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/domain/history"
	"github.com/example/seat-scheduler/internal/domain/reservation"
	"github.com/example/seat-scheduler/internal/timeutil"
)

func newCheckCmd() *cobra.Command {
	var username string

	c := &cobra.Command{
		Use:   "check",
		Short: "Report whether a user could reserve for their configured date and check in today",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			uf, err := a.loadUsers()
			if err != nil {
				return err
			}
			u, ok := uf.FindUser(username)
			if !ok {
				return fmt.Errorf("user %q not found in %s", username, cfg.UsersFile)
			}
			if u.Err != nil {
				return u.Err
			}

			now := time.Now()
			req, _, err := reservation.Normalize(u.ReserveInfo, now)
			if err != nil {
				return err
			}

			lib, err := a.library()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if err := lib.Login(ctx, usecases.Credentials{Username: u.Username, Password: u.Password}); err != nil {
				return fmt.Errorf("login %s: %w", u.Username, err)
			}
			defer func() {
				err = errors.Join(err, lib.Logout(context.WithoutCancel(ctx)))
			}()

			sc := history.NewScanner(a.hub)
			out := cmd.OutOrStdout()

			canReserve, err := sc.CanReserve(ctx, req.Date, lib)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "can reserve %s: %t\n", req.Date.Format(timeutil.DateLayout), canReserve)

			rec, canCheckIn, err := sc.CanCheckIn(ctx, now, lib)
			if err != nil {
				return err
			}
			if canCheckIn {
				fmt.Fprintf(out, "can check in: true (%s-%s)\n", timeutil.ToClock(rec.Begin), timeutil.ToClock(rec.End))
			} else {
				fmt.Fprintln(out, "can check in: false")
			}
			return nil
		},
	}
	c.Flags().StringVar(&username, "user", "", "username from the users file")
	_ = c.MarkFlagRequired("user")
	return c
}
