package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kitchej/pychat/pkg/loadtest"
)

func loadtestCmd() *cobra.Command {
	opts := loadtest.Options{}

	cmd := &cobra.Command{
		Use:   "loadtest [address]",
		Short: "Flood a server with simulated clients",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Server = "127.0.0.1:5000"
			if len(args) == 1 {
				opts.Server = args[0]
			}
			opts.Logger = log.New(os.Stdout, "", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err := loadtest.Run(ctx, opts)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.Clients, "clients", 10, "Number of concurrent clients")
	flags.DurationVar(&opts.Duration, "duration", time.Minute, "Test duration")
	flags.DurationVar(&opts.MinDelay, "min-delay", 100*time.Millisecond, "Minimum delay between posts")
	flags.DurationVar(&opts.MaxDelay, "max-delay", time.Second, "Maximum delay between posts")
	flags.DurationVar(&opts.RampUp, "ramp-up", 0, "Time to spread connections over (default a quarter of the duration)")

	return cmd
}
