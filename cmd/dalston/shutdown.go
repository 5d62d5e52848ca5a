package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pgaskin/dalston/shutdown"
	"github.com/pgaskin/dalston/upower"
	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Count down to powering off, unless the notification is dismissed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig(v)

		session, err := dbus.SessionBus()
		if err != nil {
			return err
		}
		n, err := shutdown.NewDBusNotifier(session)
		if err != nil {
			return err
		}
		defer n.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = shutdown.Countdown{
			Summary: "Turning off",
			Seconds: cfg.ShutdownCountdown,
			Second:  time.Second,
			Logger:  logger,
		}.Run(ctx, n)
		if errors.Is(err, shutdown.ErrDismissed) {
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		}
		if err != nil {
			return err
		}

		system, err := dbus.SystemBus()
		if err != nil {
			return err
		}
		return upower.PowerOff(system)
	},
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
}
