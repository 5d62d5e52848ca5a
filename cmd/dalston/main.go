// Command dalston is a brightness, battery, volume, and storage status line
// for netbooks running i3, plus the idle-suspend and shutdown helpers which
// go with it.
//
// All applets use scrolling to change values, left-clicks to trigger actions,
// right-clicks to change views, and middle-clicks to open an external
// application with more details.
package main

/*
	bar {
		status_command exec dalston bar
		font pango:DejaVu Sans Mono 8, Font Awesome 5 Free Solid 8
	}

	exec --no-startup-id dalston idle
*/

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dalston:", err)
		os.Exit(1)
	}
}
