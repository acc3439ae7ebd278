package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/trace"
)

func newRunCmd() *cobra.Command {
	var mode int

	c := &cobra.Command{
		Use:   "run",
		Short: "Run every enabled user of the users file once, now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				if mode <= 0 || mode > config.ModeReserve|config.ModeCheckIn|config.ModeRenew {
					return fmt.Errorf("invalid --mode %d", mode)
				}
				cfg.RunMode = mode
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			events, stop := a.hub.Subscribe(256)
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				printEvents(cmd, events)
			}()

			exec, err := a.executor()
			if err != nil {
				stop()
				<-printed
				return err
			}
			sum, runErr := exec.RunOnce(ctx)
			stop()
			<-printed

			fmt.Fprintf(cmd.OutOrStdout(), "summary: %s\n", sum)
			return runErr
		},
	}
	c.Flags().IntVar(&mode, "mode", 0, "override RUN_MODE (1 reserve, 2 check-in, 4 renew; sum to combine)")
	return c
}

func printEvents(cmd *cobra.Command, events <-chan trace.Event) {
	for ev := range events {
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", ev.Time.Format("15:04:05"), ev.Source, ev.Message)
	}
}
