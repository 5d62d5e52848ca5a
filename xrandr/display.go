package xrandr

import (
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
)

// Display is the subset of the RandR protocol used by the [Controller].
type Display interface {
	// Version returns the RandR version supported by the server.
	Version() (major, minor uint32, err error)

	// InternAtom looks up an existing atom, returning [xproto.AtomNone] if it
	// does not exist.
	InternAtom(name string) (xproto.Atom, error)

	// Screens returns the root window of each screen.
	Screens() []xproto.Window

	// ScreenResources lists the outputs of a screen. If current is true, the
	// cheaper RandR 1.3 request is used, which does not poll the hardware.
	ScreenResources(root xproto.Window, current bool) ([]randr.Output, error)

	// OutputProperty reads up to four 32-bit items of an output property.
	OutputProperty(output randr.Output, property xproto.Atom) (Property, error)

	// QueryOutputProperty reads the metadata of an output property.
	QueryOutputProperty(output randr.Output, property xproto.Atom) (PropertyInfo, error)

	// ChangeOutputProperty replaces an output property with a single 32-bit
	// integer, waiting for the server to accept or reject it.
	ChangeOutputProperty(output randr.Output, property xproto.Atom, value uint32) error

	// SelectInput requests screen change and output property notifications
	// for a root window.
	SelectInput(root xproto.Window) error

	// Sync does a round trip to the server.
	Sync() error

	// Events returns the notification stream. It is closed when the
	// connection is.
	Events() <-chan Event
}

// Property is the value of an output property.
type Property struct {
	Type   xproto.Atom
	Format byte // bits per item
	Items  uint32
	Data   []byte
}

// PropertyInfo is the metadata of an output property.
type PropertyInfo struct {
	Range  bool
	Values []int32
}

// EventType is the kind of a RandR notification.
type EventType int

const (
	EventScreenChange EventType = iota + 1
	EventOutputProperty
)

func (t EventType) String() string {
	switch t {
	case EventScreenChange:
		return "screen-change"
	case EventOutputProperty:
		return "output-property"
	default:
		return "unknown"
	}
}

// Event is a RandR notification.
type Event struct {
	Type EventType
}
