// Package upower reads the system battery from UPower over D-Bus.
package upower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	service         = "org.freedesktop.UPower"
	path            = dbus.ObjectPath("/org/freedesktop/UPower")
	deviceInterface = "org.freedesktop.UPower.Device"
	typeBattery     = 2
)

// ErrNoBattery is returned by Open when UPower does not know about a battery.
var ErrNoBattery = errors.New("upower: no battery device")

// State is the simplified charging state of a battery.
type State uint32

const (
	StateUnknown State = iota
	StateCharging
	StateDischarging
	StateFullyCharged
)

func (s State) String() string {
	switch s {
	case StateCharging:
		return "charging"
	case StateDischarging:
		return "discharging"
	case StateFullyCharged:
		return "fully charged"
	default:
		return "unknown"
	}
}

// state maps an org.freedesktop.UPower.Device.State value.
func state(v uint32) State {
	switch v {
	case 1:
		return StateCharging
	case 2:
		return StateDischarging
	case 4:
		return StateFullyCharged
	default:
		return StateUnknown
	}
}

// Status is a snapshot of the battery.
type Status struct {
	Present     bool
	Percentage  float64 // energy / energy-full
	State       State
	TimeToEmpty time.Duration
	TimeToFull  time.Duration
}

// Device is a UPower battery.
type Device struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	logger *slog.Logger
}

// Open finds the battery on the system bus. If there is more than one, the
// last one enumerated is used.
func Open(conn *dbus.Conn, logger *slog.Logger) (*Device, error) {
	d, err := open(func(p dbus.ObjectPath) dbus.BusObject {
		return conn.Object(service, p)
	})
	if err != nil {
		return nil, err
	}
	d.conn = conn
	if logger != nil {
		d.logger = logger
	}
	return d, nil
}

func open(object func(dbus.ObjectPath) dbus.BusObject) (*Device, error) {
	var devices []dbus.ObjectPath
	if err := object(path).Call(service+".EnumerateDevices", 0).Store(&devices); err != nil {
		return nil, fmt.Errorf("upower: enumerate devices: %w", err)
	}
	var battery dbus.BusObject
	for _, p := range devices {
		obj := object(p)
		v, err := obj.GetProperty(deviceInterface + ".Type")
		if err != nil {
			continue
		}
		if typ, ok := v.Value().(uint32); ok && typ == typeBattery {
			battery = obj
		}
	}
	if battery == nil {
		return nil, ErrNoBattery
	}
	return &Device{
		obj:    battery,
		logger: slog.New(slog.DiscardHandler),
	}, nil
}

// Path returns the D-Bus object path of the battery.
func (d *Device) Path() dbus.ObjectPath {
	return d.obj.Path()
}

// Status reads the current battery status.
func (d *Device) Status() (Status, error) {
	var (
		s                  Status
		present            bool
		energy, energyFull float64
		st                 uint32
		toEmpty, toFull    int64
	)
	for _, p := range []struct {
		name string
		ptr  any
	}{
		{"IsPresent", &present},
		{"Energy", &energy},
		{"EnergyFull", &energyFull},
		{"State", &st},
		{"TimeToEmpty", &toEmpty},
		{"TimeToFull", &toFull},
	} {
		v, err := d.obj.GetProperty(deviceInterface + "." + p.name)
		if err != nil {
			return s, fmt.Errorf("upower: get %s: %w", p.name, err)
		}
		if err := v.Store(p.ptr); err != nil {
			return s, fmt.Errorf("upower: get %s: %w", p.name, err)
		}
	}
	s.Present = present
	if energyFull > 0 {
		s.Percentage = energy / energyFull * 100
	}
	s.State = state(st)
	s.TimeToEmpty = time.Duration(toEmpty) * time.Second
	s.TimeToFull = time.Duration(toFull) * time.Second
	return s, nil
}

// Watch calls fn with the initial status and then whenever the whole-number
// percentage or the state changes, until ctx is cancelled.
func (d *Device) Watch(ctx context.Context, fn func(Status)) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(d.obj.Path()),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, deviceInterface),
	}
	if err := d.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("upower: watch: %w", err)
	}
	defer d.conn.RemoveMatchSignal(opts...)

	ch := make(chan *dbus.Signal, 8)
	d.conn.Signal(ch)
	defer d.conn.RemoveSignal(ch)

	var f filter
	if s, err := d.Status(); err != nil {
		return err
	} else if f.changed(s) {
		fn(s)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return errors.New("upower: bus connection closed")
			}
			if sig.Path != d.obj.Path() {
				continue
			}
			s, err := d.Status()
			if err != nil {
				d.logger.Warn("upower: failed to read battery status", "error", err)
				continue
			}
			if f.changed(s) {
				fn(s)
			}
		}
	}
}

// filter drops changes after the decimal point.
type filter struct {
	valid   bool
	percent int
	state   State
}

func (f *filter) changed(s Status) bool {
	p := int(s.Percentage)
	if f.valid && f.percent == p && f.state == s.State {
		return false
	}
	f.valid, f.percent, f.state = true, p, s.State
	return true
}

// Suspend asks systemd-logind to suspend the system.
func Suspend(conn *dbus.Conn) error {
	obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	if err := obj.Call("org.freedesktop.login1.Manager.Suspend", 0, false).Err; err != nil {
		return fmt.Errorf("login1: suspend: %w", err)
	}
	return nil
}

// PowerOff asks systemd-logind to power off the system.
func PowerOff(conn *dbus.Conn) error {
	obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	if err := obj.Call("org.freedesktop.login1.Manager.PowerOff", 0, false).Err; err != nil {
		return fmt.Errorf("login1: power off: %w", err)
	}
	return nil
}
