package xrandr

import (
	"fmt"
	"log/slog"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
)

// X11 implements [Display] using a dedicated X11 connection. It is safe for
// concurrent usage.
type X11 struct {
	conn    *xgb.Conn
	logger  *slog.Logger
	randr   error
	events  *queue
	screens []xproto.Window
}

var _ Display = (*X11)(nil)

// NewX11 opens a X11 connection to the specified display (empty for the
// default), processing events in another goroutine. A server without the
// RandR extension is not an error here; it is reported by Version instead. If
// logger is not nil, it is used for debug logs from this package.
func NewX11(display string, logger *slog.Logger) (*X11, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, err
	}

	x := &X11{
		conn:   conn,
		logger: logger,
		events: newQueue(),
	}
	for _, screen := range xproto.Setup(conn).Roots {
		x.screens = append(x.screens, screen.Root)
	}
	if err := randr.Init(conn); err != nil {
		x.randr = fmt.Errorf("randr extension missing: %w", err)
	}

	go func() {
		defer x.events.close()
		for {
			ev, err := x.conn.WaitForEvent()
			if ev == nil && err == nil {
				return // closed
			}
			if err != nil {
				// errors for unchecked requests end up here too, and those
				// aren't fatal
				x.logger.Debug("x11: async error", "error", err)
				continue
			}
			var t EventType
			switch ev := ev.(type) {
			case randr.ScreenChangeNotifyEvent:
				t = EventScreenChange
			case randr.NotifyEvent:
				if ev.SubCode != randr.NotifyOutputProperty {
					continue
				}
				t = EventOutputProperty
			default:
				continue
			}
			x.events.push(t)
		}
	}()

	return x, nil
}

// Close closes the connection.
func (x *X11) Close() {
	x.conn.Close()
}

func (x *X11) Version() (uint32, uint32, error) {
	if x.randr != nil {
		return 0, 0, x.randr
	}
	reply, err := randr.QueryVersion(x.conn, 1, 3).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("query randr version: %w", err)
	}
	return reply.MajorVersion, reply.MinorVersion, nil
}

func (x *X11) InternAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(x.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return xproto.AtomNone, fmt.Errorf("intern atom %q: %w", name, err)
	}
	return reply.Atom, nil
}

func (x *X11) Screens() []xproto.Window {
	return x.screens
}

func (x *X11) ScreenResources(root xproto.Window, current bool) ([]randr.Output, error) {
	if current {
		reply, err := randr.GetScreenResourcesCurrent(x.conn, root).Reply()
		if err != nil {
			return nil, fmt.Errorf("get current screen resources: %w", err)
		}
		return reply.Outputs, nil
	}
	reply, err := randr.GetScreenResources(x.conn, root).Reply()
	if err != nil {
		return nil, fmt.Errorf("get screen resources: %w", err)
	}
	return reply.Outputs, nil
}

func (x *X11) OutputProperty(output randr.Output, property xproto.Atom) (Property, error) {
	reply, err := randr.GetOutputProperty(x.conn, output, property, xproto.AtomAny, 0, 4, false, false).Reply()
	if err != nil {
		return Property{}, fmt.Errorf("get output property: %w", err)
	}
	return Property{
		Type:   reply.Type,
		Format: reply.Format,
		Items:  reply.NumItems,
		Data:   reply.Data,
	}, nil
}

func (x *X11) QueryOutputProperty(output randr.Output, property xproto.Atom) (PropertyInfo, error) {
	reply, err := randr.QueryOutputProperty(x.conn, output, property).Reply()
	if err != nil {
		return PropertyInfo{}, fmt.Errorf("query output property: %w", err)
	}
	return PropertyInfo{
		Range:  reply.Range,
		Values: reply.ValidValues,
	}, nil
}

func (x *X11) ChangeOutputProperty(output randr.Output, property xproto.Atom, value uint32) error {
	buf := make([]byte, 4)
	xgb.Put32(buf, value)
	if err := randr.ChangeOutputPropertyChecked(x.conn, output, property, xproto.AtomInteger, 32, xproto.PropModeReplace, 1, buf).Check(); err != nil {
		return fmt.Errorf("change output property: %w", err)
	}
	return nil
}

func (x *X11) SelectInput(root xproto.Window) error {
	// only output property changes are needed for brightness, but screen
	// changes tell us when the outputs themselves change
	if err := randr.SelectInputChecked(x.conn, root, randr.NotifyMaskScreenChange|randr.NotifyMaskOutputProperty).Check(); err != nil {
		return fmt.Errorf("select randr input: %w", err)
	}
	return nil
}

func (x *X11) Sync() error {
	if _, err := xproto.GetInputFocus(x.conn).Reply(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

func (x *X11) Events() <-chan Event {
	return x.events.out
}
