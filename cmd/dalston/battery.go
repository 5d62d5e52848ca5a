// # battery
//
// Shows the battery charge and state from UPower. Turns urgent when
// discharging below the low threshold. Left-click toggles the time remaining.
// Middle-click starts gnome-power-statistics. Hidden if there is no battery.
package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pgaskin/dalston"
	"github.com/pgaskin/dalston/barproto"
	"github.com/pgaskin/dalston/upower"
	"github.com/spf13/cobra"
)

type Battery struct {
	LowThreshold float64
}

func (c Battery) Run(i dalston.Instance) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	dev, err := upower.Open(conn, i.Logger())
	if err != nil {
		if errors.Is(err, upower.ErrNoBattery) {
			i.Logger().Info("no battery, hiding battery")
			for range i.Event() {
			}
			return nil
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		statusCh = make(chan upower.Status, 1)
		errCh    = make(chan error, 1)
	)
	go func() {
		errCh <- dev.Watch(ctx, func(s upower.Status) {
			select {
			case <-statusCh:
			default:
			}
			statusCh <- s
		})
	}()

	var (
		status   upower.Status
		ok       bool
		detailed bool
	)
	for now := false; ; {
		if ok {
			i.Update(now, func(render dalston.Renderer) {
				render(c.block(status, detailed))
			})
		}
		select {
		case err := <-errCh:
			return err
		case status = <-statusCh:
			ok, now = true, false
		case event := <-i.Event():
			switch event.Button {
			case barproto.ButtonLeft:
				detailed = !detailed
				now = true
			case barproto.ButtonMiddle:
				go i3msg(`exec --no-startup-id gnome-power-statistics`)
			}
		}
	}
}

func (c Battery) block(s upower.Status, detailed bool) barproto.Block {
	icon := "\uf240"
	switch {
	case s.State == upower.StateCharging:
		icon = "\uf0e7"
	case s.Percentage < 25:
		icon = "\uf243"
	case s.Percentage < 50:
		icon = "\uf242"
	case s.Percentage < 75:
		icon = "\uf241"
	}
	b := barproto.Block{
		FullText:  fmt.Sprintf("%s %.0f%%", icon, s.Percentage),
		ShortText: fmt.Sprintf("%.0f%%", s.Percentage),
		Separator: true,
	}
	if !s.Present {
		b.FullText = icon + " -"
		b.Color = 0xFF0000FF
		return b
	}
	if detailed {
		switch s.State {
		case upower.StateCharging:
			b.FullText += " " + formatRemaining(s.TimeToFull) + " to full"
		case upower.StateDischarging:
			b.FullText += " " + formatRemaining(s.TimeToEmpty) + " left"
		default:
			b.FullText += " " + s.State.String()
		}
	}
	if s.State == upower.StateDischarging && s.Percentage < c.LowThreshold {
		b.Urgent = true
		b.Color = 0xFF0000FF
	}
	return b
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "?"
	}
	d = d.Round(time.Minute)
	return fmt.Sprintf("%d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Show the battery status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dbus.SystemBus()
		if err != nil {
			return err
		}
		dev, err := upower.Open(conn, logger)
		if err != nil {
			return err
		}
		show := func(s upower.Status) {
			fmt.Fprintf(cmd.OutOrStdout(), "%.0f%% %s\n", s.Percentage, s.State)
		}
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := dev.Watch(ctx, show); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}
		s, err := dev.Status()
		if err != nil {
			return err
		}
		show(s)
		return nil
	},
}

func init() {
	batteryCmd.Flags().Bool("watch", false, "print the status whenever it changes")
	rootCmd.AddCommand(batteryCmd)
}
