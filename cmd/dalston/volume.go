// # volume
//
// Shows the volume of the default PulseAudio sink. Scroll to change the
// volume, left-click to toggle mute. Middle-click starts pavucontrol.
package main

import (
	"fmt"
	"strconv"

	"github.com/pgaskin/dalston"
	"github.com/pgaskin/dalston/barproto"
	"github.com/pgaskin/dalston/volume"
	"github.com/spf13/cobra"
)

type Volume struct {
	Step int
}

func (c Volume) Run(i dalston.Instance) error {
	m, err := volume.Dial("", i.Logger())
	if err != nil {
		return err
	}
	defer m.Close()

	for now := false; ; {
		lvl, err := m.Get()
		if err != nil {
			return err
		}
		i.Update(now, func(render dalston.Renderer) {
			render(volumeBlock(lvl))
		})
		select {
		case <-m.Updates():
			now = false
		case event := <-i.Event():
			switch event.Button {
			case barproto.ButtonScrollUp:
				_, err = m.Step(c.Step)
			case barproto.ButtonScrollDown:
				_, err = m.Step(-c.Step)
			case barproto.ButtonLeft:
				_, err = m.ToggleMute()
			case barproto.ButtonMiddle:
				go i3msg(`exec --no-startup-id pavucontrol`)
				continue
			default:
				continue
			}
			if err != nil {
				return err
			}
			now = true
		}
	}
}

func volumeBlock(lvl volume.Level) barproto.Block {
	icon := "\uf028"
	switch {
	case lvl.Muted:
		icon = "\uf6a9"
	case lvl.Percent == 0:
		icon = "\uf026"
	case lvl.Percent < 50:
		icon = "\uf027"
	}
	b := barproto.Block{
		FullText:       icon + " " + strconv.Itoa(lvl.Percent) + "%",
		MinWidthString: "\uf028 100%",
		Separator:      true,
	}
	if lvl.Muted {
		b.Color = 0x888888FF
	}
	return b
}

var volumeCmd = &cobra.Command{
	Use:       "volume [get|set N|mute]",
	Short:     "Get or change the volume of the default sink",
	Args:      cobra.RangeArgs(0, 2),
	ValidArgs: []string{"get", "set", "mute"},
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := volume.Dial("", logger)
		if err != nil {
			return err
		}
		defer m.Close()

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
			if err := m.Set(pct); err != nil {
				return err
			}
		case "mute":
			if _, err := m.ToggleMute(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown operation %q", op)
		}

		lvl, err := m.Get()
		if err != nil {
			return err
		}
		if lvl.Muted {
			fmt.Fprintf(cmd.OutOrStdout(), "%d muted\n", lvl.Percent)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), lvl.Percent)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(volumeCmd)
}
