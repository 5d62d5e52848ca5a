package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/user"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"
)

// DefaultParents returns the directories removable media is usually mounted
// under.
func DefaultParents() []string {
	parents := []string{"/media"}
	if u, err := user.Current(); err == nil {
		parents = append(parents, filepath.Join("/run/media", u.Username))
	}
	return parents
}

// Mounts lists the directories directly under parents, sorted.
func Mounts(parents []string) []string {
	var mounts []string
	for _, parent := range parents {
		ents, err := os.ReadDir(parent)
		if err != nil {
			continue
		}
		for _, ent := range ents {
			if ent.IsDir() {
				mounts = append(mounts, filepath.Join(parent, ent.Name()))
			}
		}
	}
	slices.Sort(mounts)
	return mounts
}

// EventType is the kind of mount change.
type EventType int

const (
	Added EventType = iota
	Removed
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a mount point appearing or disappearing.
type Event struct {
	Type EventType
	Path string
}

// Watcher watches mount parents for mount points being added or removed.
type Watcher struct {
	w       *fsnotify.Watcher
	logger  *slog.Logger
	parents map[string]bool // true if watched directly
	events  chan Event
	closing chan struct{}
	done    chan struct{}
}

// NewWatcher watches parents. Parents which do not exist yet (udisks creates
// /run/media/$USER on the first mount) are watched for through their nearest
// existing ancestor, and any directories already in them when they appear
// are reported as added.
func NewWatcher(parents []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("storage: watch: %w", err)
	}
	w := &Watcher{
		w:       fw,
		logger:  logger,
		parents: map[string]bool{},
		events:  make(chan Event, 8),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, parent := range parents {
		parent = filepath.Clean(parent)
		ok, err := w.watch(parent)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.parents[parent] = ok
		if !ok {
			logger.Debug("storage: mount parent does not exist yet", "path", parent)
		}
	}
	go w.run()
	return w, nil
}

// Events returns the mount events. It is closed when the watcher is closed.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.closing)
	err := w.w.Close()
	<-w.done
	return err
}

// watch adds a watch on parent if it exists, otherwise on its nearest
// existing ancestor, returning true in the former case.
func (w *Watcher) watch(parent string) (bool, error) {
	dir := parent
	for {
		err := w.w.Add(dir)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("storage: watch %s: %w", dir, err)
		}
		up := filepath.Dir(dir)
		if up == dir {
			return false, fmt.Errorf("storage: watch %s: %w", dir, err)
		}
		dir = up
	}
	// the next directory down may have been created before the watch was
	// added, in which case there won't be an event for it
	for dir != parent {
		next := parent
		for filepath.Dir(next) != dir {
			next = filepath.Dir(next)
		}
		if fi, err := os.Stat(next); err != nil || !fi.IsDir() {
			return false, nil
		}
		if err := w.w.Add(next); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return false, nil
			}
			return false, fmt.Errorf("storage: watch %s: %w", next, err)
		}
		dir = next
	}
	return true, nil
}

// emit sends e, returning false if the watcher is closing.
func (w *Watcher) emit(e Event) bool {
	w.logger.Debug("storage: mount changed", "type", e.Type, "path", e.Path)
	select {
	case w.events <- e:
		return true
	case <-w.closing:
		return false
	}
}

// pending retries watching parents which did not exist, reporting the
// directories in any which now do.
func (w *Watcher) pending() bool {
	for _, parent := range slices.Sorted(maps.Keys(w.parents)) {
		if w.parents[parent] {
			continue
		}
		ok, err := w.watch(parent)
		if err != nil {
			w.logger.Warn("storage: failed to watch mount parent", "path", parent, "error", err)
			continue
		}
		if !ok {
			continue
		}
		w.logger.Debug("storage: mount parent appeared", "path", parent)
		w.parents[parent] = true
		for _, mount := range Mounts([]string{parent}) {
			if !w.emit(Event{Added, mount}) {
				return false
			}
		}
	}
	return true
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if watched, isParent := w.parents[ev.Name]; isParent && watched && ev.Has(fsnotify.Remove) {
				w.logger.Debug("storage: mount parent removed", "path", ev.Name)
				w.parents[ev.Name] = false
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
				if !w.pending() {
					return
				}
			}
			if !w.parents[filepath.Dir(ev.Name)] {
				continue // ancestor of a missing parent
			}
			var e Event
			switch {
			case ev.Has(fsnotify.Create):
				if fi, err := os.Stat(ev.Name); err != nil || !fi.IsDir() {
					continue
				}
				e = Event{Added, ev.Name}
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				e = Event{Removed, ev.Name}
			default:
				continue
			}
			if !w.emit(e) {
				return
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("storage: watch error", "error", err)
		}
	}
}
