// # storage
//
// Shows the free space of the configured filesystems and any removable media
// mounted under /media or /run/media, marking devices which contain photos,
// music, or videos. Updates on mount changes and polls capacity at the
// configured interval. Right-click toggles the total size. Middle-click opens
// the device in the file manager.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/godbus/dbus/v5"
	"github.com/pgaskin/dalston"
	"github.com/pgaskin/dalston/barproto"
	"github.com/pgaskin/dalston/storage"
	"github.com/spf13/cobra"
)

type Storage struct {
	Paths    []string
	Parents  []string
	Interval time.Duration
}

type storageEntry struct {
	dev       storage.Device
	desc      storage.Description
	err       error
	removable bool
	mounted   bool
	media     bool
}

// update refreshes the capacity. Removable media is only read once the
// filesystem is actually mounted on the directory created for it.
func (e *storageEntry) update(logger *slog.Logger) {
	if e.removable && !e.mounted {
		mounted, err := storage.IsMountPoint(e.dev.Path)
		if err != nil || !mounted {
			e.err = err
			return
		}
		e.mounted = true

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		e.media, err = storage.HasMedia(ctx, e.dev.Path)
		cancel()
		if err != nil {
			logger.Debug("media search failed", "path", e.dev.Path, "error", err)
		}
		if conn, err := dbus.SystemBus(); err != nil {
			logger.Debug("no system bus for udisks", "error", err)
		} else if e.desc, err = storage.Describe(conn, e.dev.Path); err != nil {
			logger.Debug("udisks lookup failed", "path", e.dev.Path, "error", err)
		}
	}
	e.err = e.dev.Update()
}

func (e *storageEntry) ready() bool {
	return !e.removable || e.mounted
}

func (c Storage) Run(i dalston.Instance) error {
	w, err := storage.NewWatcher(c.Parents, i.Logger())
	if err != nil {
		return err
	}
	defer w.Close()

	i.Tick(c.Interval)

	var (
		entries  = map[string]*storageEntry{}
		expanded bool
	)
	add := func(path string, removable bool) {
		e := &storageEntry{
			dev:       storage.Device{Path: path},
			removable: removable,
		}
		e.update(i.Logger())
		entries[path] = e
	}
	for _, p := range c.Paths {
		add(p, false)
	}
	for _, p := range storage.Mounts(c.Parents) {
		add(p, true)
	}

	for now := false; ; {
		i.Update(now, func(render dalston.Renderer) {
			for _, path := range slices.Sorted(maps.Keys(entries)) {
				if e := entries[path]; e.ready() {
					render(storageBlock(e, expanded))
				}
			}
		})
		var retry <-chan time.Time // while waiting for a mount
		for _, e := range entries {
			if !e.ready() {
				retry = time.After(time.Second)
				break
			}
		}
		select {
		case <-i.Ticked():
			if i.IsStopped() {
				continue
			}
			for _, e := range entries {
				e.update(i.Logger())
			}
			now = false
		case <-retry:
			for _, e := range entries {
				if !e.ready() {
					e.update(i.Logger())
				}
			}
			now = true
		case <-i.Stopped():
			now = false
		case ev, ok := <-w.Events():
			if !ok {
				return fmt.Errorf("storage watcher stopped")
			}
			switch ev.Type {
			case storage.Added:
				add(ev.Path, true)
			case storage.Removed:
				delete(entries, ev.Path)
			}
			now = true
		case event := <-i.Event():
			switch event.Button {
			case barproto.ButtonRight:
				expanded = !expanded
				now = true
			case barproto.ButtonMiddle:
				go i3msg(`exec --no-startup-id xdg-open ` + quoteI3(event.Instance))
			}
		}
	}
}

func storageBlock(e *storageEntry, expanded bool) barproto.Block {
	b := barproto.Block{
		Instance:  e.dev.Path,
		Separator: true,
	}
	label := e.desc.Name()
	switch {
	case label != "":
	case e.dev.Path == "/":
		label = "/"
	default:
		label = filepath.Base(e.dev.Path)
	}
	if e.err != nil {
		b.FullText = "\uf0a0 " + label + " ?"
		b.Color = 0xFF0000FF
		return b
	}
	if expanded {
		b.FullText = "\uf0a0 " + label + " " + e.dev.String()
		if drive := e.desc.Drive(); drive != "" {
			b.FullText += " (" + drive + ")"
		}
	} else {
		b.FullText = "\uf0a0 " + label + " " + humanize.IBytes(e.dev.Available)
	}
	if e.media {
		b.FullText += " \uf03e"
	}
	return b
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show free space on the configured filesystems and removable media",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig(v)
		mounts := storage.Mounts(storage.DefaultParents())
		for _, p := range slices.Concat(cfg.StoragePaths, mounts) {
			if slices.Contains(mounts, p) {
				if ok, err := storage.IsMountPoint(p); err == nil && !ok {
					continue
				}
			}
			d := storage.Device{Path: p}
			if err := d.Update(); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", p, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%.0f%% used)", p, d, d.UsedPercent())
			if slices.Contains(mounts, p) {
				media, err := storage.HasMedia(cmd.Context(), p)
				if err != nil {
					logger.Debug("media search failed", "path", p, "error", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), " media=%t", media)
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)
}
