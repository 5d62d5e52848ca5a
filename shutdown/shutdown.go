// Package shutdown shows a critical notification counting down to a power
// off, which the user can confirm early or dismiss.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// DefaultCountdown is the number of seconds before shutting down.
const DefaultCountdown = 30

// ActionShutdown is the notification action key for shutting down
// immediately.
const ActionShutdown = "shutdown"

// ErrDismissed is returned by Countdown.Run when the notification was closed
// before the countdown finished.
var ErrDismissed = errors.New("shutdown: notification dismissed")

// NotificationEvent is an action invocation or closure of a notification.
type NotificationEvent struct {
	ID     uint32
	Action string // empty if closed
	Closed bool
}

// Notifier shows desktop notifications.
type Notifier interface {
	// Notify shows a new notification, or replaces an existing one if
	// replaces is non-zero, and returns its ID.
	Notify(replaces uint32, summary, body string) (uint32, error)

	// Events returns a channel receiving notification events.
	Events() <-chan NotificationEvent
}

// Countdown counts down to a shutdown.
type Countdown struct {
	Summary string
	Seconds int           // default DefaultCountdown
	Second  time.Duration // default time.Second
	Logger  *slog.Logger
}

// next returns the remaining seconds after the next update, and how long to
// wait before it. Updates are every five seconds until five remain, then every
// second. When remaining is zero, done is true and wait is the delay before
// shutting down.
func next(remaining int) (rem int, wait int, done bool) {
	switch {
	case remaining > 5:
		return remaining - 5, 5, false
	case remaining > 0:
		return remaining - 1, 1, false
	default:
		return 0, 1, true
	}
}

// Body returns the notification text for the remaining seconds.
func Body(remaining int) string {
	return fmt.Sprintf("If you don't decide I'll turn off in %d seconds", remaining)
}

// Run shows the notification and updates it until the countdown finishes or
// the user chooses to shut down, returning nil in both cases. If the
// notification is closed first, ErrDismissed is returned.
func (c Countdown) Run(ctx context.Context, n Notifier) error {
	var (
		remaining = c.Seconds
		second    = c.Second
		logger    = c.Logger
		summary   = c.Summary
	)
	if remaining <= 0 {
		remaining = DefaultCountdown
	}
	if second <= 0 {
		second = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if summary == "" {
		summary = "Turning off"
	}

	id, err := n.Notify(0, summary, Body(remaining))
	if err != nil {
		return fmt.Errorf("shutdown: show notification: %w", err)
	}

	rem, wait, done := next(remaining)
	timer := time.NewTimer(time.Duration(wait) * second)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-n.Events():
			if !ok {
				return errors.New("shutdown: notifier closed")
			}
			if ev.ID != id {
				continue
			}
			if ev.Action == ActionShutdown {
				logger.Info("shutdown: confirmed by user")
				return nil
			}
			if ev.Closed {
				logger.Info("shutdown: dismissed by user")
				return ErrDismissed
			}
		case <-timer.C:
			if done {
				return nil
			}
			remaining = rem
			logger.Debug("shutdown: countdown", "remaining", remaining)
			if id, err = n.Notify(id, summary, Body(remaining)); err != nil {
				return fmt.Errorf("shutdown: update notification: %w", err)
			}
			rem, wait, done = next(remaining)
			timer.Reset(time.Duration(wait) * second)
		}
	}
}

// DBusNotifier implements Notifier using org.freedesktop.Notifications.
type DBusNotifier struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	opts [][]dbus.MatchOption
	sig  chan *dbus.Signal
	ev   chan NotificationEvent
	once sync.Once
}

// NewDBusNotifier subscribes to notification events on the session bus.
func NewDBusNotifier(conn *dbus.Conn) (*DBusNotifier, error) {
	n := &DBusNotifier{
		conn: conn,
		obj:  conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications"),
		sig:  make(chan *dbus.Signal, 8),
		ev:   make(chan NotificationEvent, 8),
	}
	for _, member := range []string{"ActionInvoked", "NotificationClosed"} {
		opts := []dbus.MatchOption{
			dbus.WithMatchObjectPath(n.obj.Path()),
			dbus.WithMatchInterface("org.freedesktop.Notifications"),
			dbus.WithMatchMember(member),
		}
		if err := conn.AddMatchSignal(opts...); err != nil {
			n.Close()
			return nil, fmt.Errorf("notifications: watch %s: %w", member, err)
		}
		n.opts = append(n.opts, opts)
	}
	conn.Signal(n.sig)
	go n.run()
	return n, nil
}

func (n *DBusNotifier) run() {
	defer close(n.ev)
	for sig := range n.sig {
		var ev NotificationEvent
		switch sig.Name {
		case "org.freedesktop.Notifications.ActionInvoked":
			if err := dbus.Store(sig.Body, &ev.ID, &ev.Action); err != nil {
				continue
			}
		case "org.freedesktop.Notifications.NotificationClosed":
			var reason uint32
			if err := dbus.Store(sig.Body, &ev.ID, &reason); err != nil {
				continue
			}
			ev.Closed = true
		default:
			continue
		}
		select {
		case n.ev <- ev:
		default:
		}
	}
}

func (n *DBusNotifier) Notify(replaces uint32, summary, body string) (uint32, error) {
	var id uint32
	err := n.obj.Call("org.freedesktop.Notifications.Notify", 0,
		"dalston",
		replaces,
		"system-shutdown",
		summary,
		body,
		[]string{ActionShutdown, "Turn off"},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(2))},
		int32(0), // never expire
	).Store(&id)
	return id, err
}

func (n *DBusNotifier) Events() <-chan NotificationEvent {
	return n.ev
}

// Close unsubscribes from notification events.
func (n *DBusNotifier) Close() {
	n.once.Do(func() {
		for _, opts := range n.opts {
			n.conn.RemoveMatchSignal(opts...)
		}
		n.conn.RemoveSignal(n.sig)
		close(n.sig)
	})
}
