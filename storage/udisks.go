package storage

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	udisksService     = "org.freedesktop.UDisks2"
	udisksPath        = dbus.ObjectPath("/org/freedesktop/UDisks2")
	udisksBlock       = udisksService + ".Block"
	udisksFilesystem  = udisksService + ".Filesystem"
	udisksDrive       = udisksService + ".Drive"
	objectManagerCall = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

// ErrUnknownDevice is returned by Describe if udisks does not know about a
// filesystem mounted at the path.
var ErrUnknownDevice = errors.New("storage: no udisks device mounted there")

// Description is how udisks describes a mounted device.
type Description struct {
	Label  string // filesystem label
	Vendor string // drive vendor
	Model  string // drive model
}

// Name returns the label, falling back to the drive model, or an empty string
// if there is neither.
func (d Description) Name() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Model
}

// Drive returns the vendor and model.
func (d Description) Drive() string {
	return strings.TrimSpace(d.Vendor + " " + d.Model)
}

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Describe looks up the device mounted at path using udisks on the system bus.
func Describe(conn *dbus.Conn, path string) (Description, error) {
	var objects managedObjects
	if err := conn.Object(udisksService, udisksPath).Call(objectManagerCall, 0).Store(&objects); err != nil {
		return Description{}, fmt.Errorf("storage: udisks: get managed objects: %w", err)
	}
	return describe(objects, path)
}

func describe(objects managedObjects, path string) (Description, error) {
	path = filepath.Clean(path)
	for _, ifaces := range objects {
		fsys, ok := ifaces[udisksFilesystem]
		if !ok || !mountedAt(fsys, path) {
			continue
		}
		var d Description
		block := ifaces[udisksBlock]
		if v, ok := block["IdLabel"]; ok {
			_ = v.Store(&d.Label)
		}
		var drive dbus.ObjectPath
		if v, ok := block["Drive"]; ok {
			_ = v.Store(&drive)
		}
		if props, ok := objects[drive][udisksDrive]; ok && drive != "/" {
			if v, ok := props["Vendor"]; ok {
				_ = v.Store(&d.Vendor)
			}
			if v, ok := props["Model"]; ok {
				_ = v.Store(&d.Model)
			}
		}
		return d, nil
	}
	return Description{}, fmt.Errorf("%w: %s", ErrUnknownDevice, path)
}

// mountedAt checks a MountPoints property, which is a list of NUL-terminated
// byte strings.
func mountedAt(fsys map[string]dbus.Variant, path string) bool {
	v, ok := fsys["MountPoints"]
	if !ok {
		return false
	}
	var mps [][]byte
	if err := v.Store(&mps); err != nil {
		return false
	}
	for _, mp := range mps {
		if filepath.Clean(string(bytes.TrimRight(mp, "\x00"))) == path {
			return true
		}
	}
	return false
}
