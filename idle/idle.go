// Package idle suspends the system after the session has been idle for a
// while.
package idle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pgaskin/dalston/upower"
)

// StatusIdle is the org.gnome.SessionManager.Presence status for an idle
// session.
const StatusIdle = 3

const (
	presencePath      = dbus.ObjectPath("/org/gnome/SessionManager/Presence")
	presenceInterface = "org.gnome.SessionManager.Presence"
	screensaverName   = "org.gnome.ScreenSaver"
)

// Suspender puts the system to sleep.
type Suspender interface {
	Suspend() error
}

// Manager runs a suspend timer while the session is idle.
type Manager struct {
	suspender Suspender
	logger    *slog.Logger

	mu    sync.Mutex
	after time.Duration
	timer *time.Timer
	gen   uint64
}

// NewManager creates a new idle manager which suspends after the session has
// been idle for after. If after is not positive, it never suspends.
func NewManager(s Suspender, after time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		suspender: s,
		logger:    logger,
		after:     after,
	}
}

// StatusChanged handles a presence status change.
func (m *Manager) StatusChanged(status uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("idle: presence status changed", "status", status)
	if status == StatusIdle {
		m.start()
	} else {
		m.stop()
	}
}

// SetSuspendAfter changes the idle timeout, restarting the timer if it is
// running.
func (m *Manager) SetSuspendAfter(after time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.after = after
	if m.timer != nil {
		m.start()
	}
}

// Running returns true if the suspend timer is running.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Stop stops the suspend timer, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stop()
}

func (m *Manager) start() {
	m.stop()
	if m.after <= 0 {
		return
	}
	gen := m.gen
	m.timer = time.AfterFunc(m.after, func() {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()

		m.logger.Info("idle: suspending")
		if err := m.suspender.Suspend(); err != nil {
			m.logger.Warn("idle: unable to suspend", "error", err)
		}
	})
	m.logger.Debug("idle: started suspend timer", "after", m.after)
}

func (m *Manager) stop() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
		m.logger.Debug("idle: stopped suspend timer")
	}
}

// Watch feeds presence status changes from the session bus into m until ctx
// is cancelled.
func (m *Manager) Watch(ctx context.Context, conn *dbus.Conn) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(presencePath),
		dbus.WithMatchInterface(presenceInterface),
		dbus.WithMatchMember("StatusChanged"),
	}
	if err := conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("idle: watch presence: %w", err)
	}
	defer conn.RemoveMatchSignal(opts...)

	ch := make(chan *dbus.Signal, 4)
	conn.Signal(ch)
	defer conn.RemoveSignal(ch)
	defer m.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return errors.New("idle: bus connection closed")
			}
			if sig.Path != presencePath || sig.Name != presenceInterface+".StatusChanged" {
				continue
			}
			var status uint32
			if err := dbus.Store(sig.Body, &status); err != nil {
				m.logger.Warn("idle: invalid presence signal", "error", err)
				continue
			}
			m.StatusChanged(status)
		}
	}
}

// DBusSuspender locks the screen, suspends using logind, then wakes the
// screensaver back up on resume.
type DBusSuspender struct {
	Session *dbus.Conn
	System  *dbus.Conn
}

func (s DBusSuspender) Suspend() error {
	ss := s.Session.Object(screensaverName, "/")
	if err := ss.Call(screensaverName+".SetActive", dbus.FlagNoReplyExpected, true).Err; err != nil {
		return fmt.Errorf("activate screensaver: %w", err)
	}
	err := upower.Suspend(s.System)
	ss.Call(screensaverName+".SimulateUserActivity", dbus.FlagNoReplyExpected)
	return err
}
