package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pgaskin/dalston"
	"github.com/pgaskin/dalston/storage"
	"github.com/spf13/cobra"
)

var barCmd = &cobra.Command{
	Use:   "bar",
	Short: "Run the status line (use as the i3bar status_command)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig(v)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bar := &dalston.Bar{
			TickRate: cfg.Tick,
			Logger:   logger,
			In:       os.Stdin,
			Out:      os.Stdout,
		}
		err := bar.Run(ctx,
			Storage{
				Paths:    cfg.StoragePaths,
				Parents:  storage.DefaultParents(),
				Interval: cfg.StorageInterval,
			},
			Volume{
				Step: cfg.VolumeStep,
			},
			Brightness{
				Display: cfg.Display,
				Ramp:    cfg.RampInterval,
				Presets: cfg.BrightnessPresets,
			},
			Battery{
				LowThreshold: cfg.LowThreshold,
			},
		)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(barCmd)
}
