// Package barproto encodes and decodes the i3bar status protocol.
//
// https://i3wm.org/docs/i3bar-protocol.html
package barproto

import (
	"errors"
	"slices"
	"strconv"
	"syscall"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/tidwall/gjson"
)

// Version is the protocol version written in the header.
const Version = 1

// Mouse buttons as reported in click events.
const (
	ButtonLeft       = 1
	ButtonMiddle     = 2
	ButtonRight      = 3
	ButtonScrollUp   = 4
	ButtonScrollDown = 5
)

// Header is the first message written to i3bar.
type Header struct {
	StopSignal  syscall.Signal
	ContSignal  syscall.Signal
	ClickEvents bool
}

func (h Header) MarshalJSON() ([]byte, error) {
	return h.AppendJSON(nil), nil
}

func (h Header) AppendJSON(s []byte) []byte {
	s = append(s, `{"version":`...)
	s = strconv.AppendInt(s, Version, 10)
	s = appendInt(s, `,"stop_signal":`, int(h.StopSignal))
	s = appendInt(s, `,"cont_signal":`, int(h.ContSignal))
	if h.ClickEvents {
		s = append(s, `,"click_events":true`...)
	}
	return append(s, '}')
}

// Event is a click event read from i3bar.
type Event struct {
	Name      string
	Instance  string
	Button    int // Button*
	Modifiers int // xproto.ModMask*
	X, Y      int
	RelativeX int
	RelativeY int
	Width     int
	Height    int
}

var modifiers = map[string]int{
	"Shift":   xproto.ModMaskShift,
	"Control": xproto.ModMaskControl,
	"Mod1":    xproto.ModMask1,
	"Mod2":    xproto.ModMask2,
	"Mod3":    xproto.ModMask3,
	"Mod4":    xproto.ModMask4,
	"Mod5":    xproto.ModMask5,
}

// UnmarshalJSON parses a single click event object. Unknown fields are
// ignored.
func (e *Event) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return errors.New("invalid json")
	}
	r := gjson.ParseBytes(b)
	if !r.IsObject() {
		return errors.New("event is not an object")
	}
	var event Event
	r.ForEach(func(key, value gjson.Result) bool {
		switch key.Str {
		case "name":
			event.Name = value.String()
		case "instance":
			event.Instance = value.String()
		case "button":
			event.Button = int(value.Int())
		case "modifiers":
			for _, m := range value.Array() {
				event.Modifiers |= modifiers[m.Str]
			}
		case "x":
			event.X = int(value.Int())
		case "y":
			event.Y = int(value.Int())
		case "relative_x":
			event.RelativeX = int(value.Int())
		case "relative_y":
			event.RelativeY = int(value.Int())
		case "width":
			event.Width = int(value.Int())
		case "height":
			event.Height = int(value.Int())
		}
		return true
	})
	*e = event
	return nil
}

// Block is a single status block.
type Block struct {
	Name                string // set by the runtime
	Instance            string // passed back in click events
	FullText            string
	ShortText           string
	Color               uint32 // 0xRRGGBBAA, zero for the i3bar default
	Background          uint32
	Border              uint32
	MinWidthString      string // reserve the width of this text
	Align               string // left|center|right
	Urgent              bool
	Separator           bool
	SeparatorBlockWidth int // pixels, zero for the i3bar default
}

func (b Block) MarshalJSON() ([]byte, error) {
	return b.AppendJSON(nil), nil
}

func (b Block) AppendJSON(s []byte) []byte {
	s = append(s, `{"full_text":`...)
	s = jsonString(s, b.FullText)
	s = appendString(s, `,"short_text":`, b.ShortText)
	s = appendString(s, `,"name":`, b.Name)
	s = appendString(s, `,"instance":`, b.Instance)
	s = appendColor(s, `,"color":`, b.Color)
	s = appendColor(s, `,"background":`, b.Background)
	s = appendColor(s, `,"border":`, b.Border)
	s = appendString(s, `,"min_width":`, b.MinWidthString)
	s = appendString(s, `,"align":`, b.Align)
	if b.Urgent {
		s = append(s, `,"urgent":true`...)
	}
	if b.Separator {
		s = append(s, `,"separator":true`...)
	} else {
		s = append(s, `,"separator":false`...)
	}
	s = appendInt(s, `,"separator_block_width":`, b.SeparatorBlockWidth)
	return append(s, '}')
}

func appendInt(s []byte, key string, v int) []byte {
	if v == 0 {
		return s
	}
	return strconv.AppendInt(append(s, key...), int64(v), 10)
}

func appendString(s []byte, key, v string) []byte {
	if v == "" {
		return s
	}
	return jsonString(append(s, key...), v)
}

func appendColor(s []byte, key string, rrggbbaa uint32) []byte {
	if rrggbbaa == 0 {
		return s
	}
	const hex = "0123456789ABCDEF"
	s = append(s, key...)
	s = append(s, '"', '#')
	n := 6
	if rrggbbaa&0xFF != 0xFF {
		n = 8
	}
	for i := range n {
		s = append(s, hex[(rrggbbaa>>(28-4*i))&0xF])
	}
	return append(s, '"')
}

func jsonString(b []byte, s string) []byte {
	const hex = "0123456789abcdef"
	b = slices.Grow(b, len(s)+2)
	b = append(b, '"')
	x := 0 // only bytes < 0x20 are escaped, so utf-8 sequences stay intact
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '\\' && c != '"' {
			continue
		}
		b = append(b, s[x:i]...)
		switch c {
		case '\\', '"':
			b = append(b, '\\', c)
		case '\n':
			b = append(b, '\\', 'n')
		case '\t':
			b = append(b, '\\', 't')
		default:
			b = append(b, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xF])
		}
		x = i + 1
	}
	b = append(b, s[x:]...)
	return append(b, '"')
}
