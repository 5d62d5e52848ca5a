// # brightness
//
// Shows the backlight brightness of the built-in panel using the XRandR
// BACKLIGHT output property. Scroll to step the brightness, left-click to
// cycle through presets. Hidden if there is no backlight.
package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pgaskin/dalston"
	"github.com/pgaskin/dalston/barproto"
	"github.com/pgaskin/dalston/xrandr"
	"github.com/spf13/cobra"
)

type Brightness struct {
	Display string
	Ramp    time.Duration
	Presets []int
}

func (c Brightness) Run(i dalston.Instance) error {
	x, err := xrandr.NewX11(c.Display, i.Logger())
	if err != nil {
		return err
	}
	defer x.Close()

	ctl := xrandr.New(x, xrandr.WithLogger(i.Logger()), xrandr.WithRampInterval(c.Ramp))
	defer ctl.Close()

	if !ctl.HasHardware() {
		i.Logger().Info("no backlight, hiding brightness")
		for range i.Event() {
		}
		return nil
	}

	changed := make(chan struct{}, 1)
	defer ctl.Subscribe(func(int) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})()

	for now := false; ; {
		pct, err := ctl.Get()
		i.Update(now, func(render dalston.Renderer) {
			if err != nil {
				render.Err(err)
				return
			}
			render(barproto.Block{
				FullText:       "\uf185 " + strconv.Itoa(pct) + "%",
				MinWidthString: "\uf185 100%",
				Separator:      true,
			})
		})
		select {
		case <-changed:
			now = false
		case event := <-i.Event():
			switch event.Button {
			case barproto.ButtonScrollUp:
				_, err = ctl.Increment()
			case barproto.ButtonScrollDown:
				_, err = ctl.Decrement()
			case barproto.ButtonLeft:
				_, err = ctl.Set(nextPreset(pct, c.Presets))
			default:
				continue
			}
			if err != nil {
				i.Logger().Warn("failed to change brightness", "error", err)
			}
			now = true
		}
	}
}

// nextPreset returns the first preset above cur, wrapping around to the
// first preset.
func nextPreset(cur int, presets []int) int {
	if len(presets) == 0 {
		return cur
	}
	for _, p := range presets {
		if p > cur {
			return p
		}
	}
	return presets[0]
}

var brightnessCmd = &cobra.Command{
	Use:       "brightness [get|set N|up|down|watch]",
	Short:     "Get or change the backlight brightness",
	Args:      cobra.RangeArgs(0, 2),
	ValidArgs: []string{"get", "set", "up", "down", "watch"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig(v)

		x, err := xrandr.NewX11(cfg.Display, logger)
		if err != nil {
			return err
		}
		defer x.Close()

		ctl := xrandr.New(x, xrandr.WithLogger(logger), xrandr.WithRampInterval(cfg.RampInterval))
		defer ctl.Close()

		if !ctl.HasHardware() {
			return xrandr.ErrUnsupported
		}

		op := "get"
		if len(args) != 0 {
			op = args[0]
		}
		switch op {
		case "get":
		case "set":
			if len(args) != 2 {
				return fmt.Errorf("set: expected a percentage")
			}
			pct, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("set: invalid percentage: %w", err)
			}
			if _, err := ctl.Set(pct); err != nil {
				return err
			}
		case "up":
			if _, err := ctl.Increment(); err != nil {
				return err
			}
		case "down":
			if _, err := ctl.Decrement(); err != nil {
				return err
			}
		case "watch":
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			defer ctl.Subscribe(func(pct int) {
				fmt.Fprintln(cmd.OutOrStdout(), pct)
			})()
			<-ctx.Done()
			return nil
		default:
			return fmt.Errorf("unknown operation %q", op)
		}

		pct, err := ctl.Get()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pct)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(brightnessCmd)
}
