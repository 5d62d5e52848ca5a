package main

import (
	"strings"

	"go.i3wm.org/i3/v4"
)

func i3msg(msg string) error {
	_, err := i3.RunCommand(msg)
	if err != nil {
		logger.Warn("i3: command failed", "command", msg, "error", err)
	}
	return err
}

// quoteI3 quotes s as a single argument for an i3 exec command.
func quoteI3(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
