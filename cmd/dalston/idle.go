package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/pgaskin/dalston/idle"
	"github.com/spf13/cobra"
)

var idleCmd = &cobra.Command{
	Use:   "idle",
	Short: "Suspend when the session has been idle for idle.suspend_after",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig(v)

		session, err := dbus.SessionBus()
		if err != nil {
			return err
		}
		system, err := dbus.SystemBus()
		if err != nil {
			return err
		}

		m := idle.NewManager(idle.DBusSuspender{
			Session: session,
			System:  system,
		}, cfg.SuspendAfter, logger)

		watchConfig(v, func(cfg config) {
			m.SetSuspendAfter(cfg.SuspendAfter)
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("idle: watching session presence", "suspend_after", cfg.SuspendAfter)
		if err := m.Watch(ctx, session); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(idleCmd)
}
