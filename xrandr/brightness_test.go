package xrandr

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/google/go-cmp/cmp"
)

const testBacklightAtom xproto.Atom = 100

type fakeOutput struct {
	value    uint32
	min, max int32
	noRange  bool
	badType  bool
	failSet  bool
	failAt   int // fail the nth write (1-based) if non-zero
	writes   []uint32
}

type fakeDisplay struct {
	major, minor uint32
	noAtom       bool

	screens   map[xproto.Window][]randr.Output
	roots     []xproto.Window
	outputs   map[randr.Output]*fakeOutput
	events    chan Event
	selected  map[xproto.Window]int
	resources []bool // current flag for each ScreenResources call
	syncs     int
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{
		major:    1,
		minor:    3,
		screens:  map[xproto.Window][]randr.Output{},
		outputs:  map[randr.Output]*fakeOutput{},
		events:   make(chan Event),
		selected: map[xproto.Window]int{},
	}
}

func (f *fakeDisplay) addScreen(root xproto.Window, outputs map[randr.Output]*fakeOutput) {
	f.roots = append(f.roots, root)
	for id, o := range outputs {
		f.screens[root] = append(f.screens[root], id)
		f.outputs[id] = o
	}
	slices.Sort(f.screens[root])
}

func (f *fakeDisplay) Version() (uint32, uint32, error) {
	if f.major == 0 {
		return 0, 0, errors.New("no randr")
	}
	return f.major, f.minor, nil
}

func (f *fakeDisplay) InternAtom(name string) (xproto.Atom, error) {
	if name != "BACKLIGHT" || f.noAtom {
		return xproto.AtomNone, nil
	}
	return testBacklightAtom, nil
}

func (f *fakeDisplay) Screens() []xproto.Window {
	return f.roots
}

func (f *fakeDisplay) ScreenResources(root xproto.Window, current bool) ([]randr.Output, error) {
	f.resources = append(f.resources, current)
	outputs, ok := f.screens[root]
	if !ok {
		return nil, errors.New("bad window")
	}
	return slices.Clone(outputs), nil
}

func (f *fakeDisplay) OutputProperty(output randr.Output, property xproto.Atom) (Property, error) {
	o, ok := f.outputs[output]
	if !ok || property != testBacklightAtom {
		return Property{}, errors.New("bad output")
	}
	buf := make([]byte, 4)
	xgb.Put32(buf, o.value)
	if o.badType {
		return Property{Type: xproto.AtomCardinal, Format: 8, Items: 4, Data: buf}, nil
	}
	return Property{Type: xproto.AtomInteger, Format: 32, Items: 1, Data: buf}, nil
}

func (f *fakeDisplay) QueryOutputProperty(output randr.Output, property xproto.Atom) (PropertyInfo, error) {
	o, ok := f.outputs[output]
	if !ok || property != testBacklightAtom {
		return PropertyInfo{}, errors.New("bad output")
	}
	if o.noRange {
		return PropertyInfo{Values: []int32{o.min, o.max}}, nil
	}
	return PropertyInfo{Range: true, Values: []int32{o.min, o.max}}, nil
}

func (f *fakeDisplay) ChangeOutputProperty(output randr.Output, property xproto.Atom, value uint32) error {
	o, ok := f.outputs[output]
	if !ok || property != testBacklightAtom {
		return errors.New("bad output")
	}
	if o.failSet || (o.failAt != 0 && len(o.writes)+1 == o.failAt) {
		return errors.New("BadValue")
	}
	o.writes = append(o.writes, value)
	o.value = value
	return nil
}

func (f *fakeDisplay) SelectInput(root xproto.Window) error {
	f.selected[root]++
	return nil
}

func (f *fakeDisplay) Sync() error {
	f.syncs++
	return nil
}

func (f *fakeDisplay) Events() <-chan Event {
	return f.events
}

func newTestController(t *testing.T, d Display) *Controller {
	t.Helper()
	c := New(d, WithRampInterval(0))
	t.Cleanup(c.Close)
	return c
}

func TestUnsupported(t *testing.T) {
	for name, mod := range map[string]func(*fakeDisplay){
		"NoExtension": func(f *fakeDisplay) { f.major = 0 },
		"OldVersion":  func(f *fakeDisplay) { f.major, f.minor = 1, 1 },
		"NoAtom":      func(f *fakeDisplay) { f.noAtom = true },
		"NoOutputs": func(f *fakeDisplay) {
			f.outputs[1].min, f.outputs[1].max = 5, 5
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFakeDisplay()
			f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 50, min: 0, max: 100}})
			mod(f)

			c := newTestController(t, f)
			if c.HasHardware() {
				t.Fatalf("expected no hardware support")
			}
			if _, err := c.Get(); !errors.Is(err, ErrUnsupported) {
				t.Errorf("get: expected ErrUnsupported, got %v", err)
			}
			if changed, err := c.Set(10); !errors.Is(err, ErrUnsupported) || changed {
				t.Errorf("set: expected ErrUnsupported without changes, got %v %v", changed, err)
			}
			if _, err := c.Increment(); !errors.Is(err, ErrUnsupported) {
				t.Errorf("increment: expected ErrUnsupported, got %v", err)
			}
			if _, err := c.Decrement(); !errors.Is(err, ErrUnsupported) {
				t.Errorf("decrement: expected ErrUnsupported, got %v", err)
			}
			if w := f.outputs[1].writes; len(w) != 0 {
				t.Errorf("expected no writes, got %v", w)
			}
		})
	}
}

func TestResourcesVariant(t *testing.T) {
	for _, tc := range []struct {
		minor   uint32
		current bool
	}{
		{2, false},
		{3, true},
		{6, true},
	} {
		f := newFakeDisplay()
		f.minor = tc.minor
		f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 50, min: 0, max: 100}})
		c := newTestController(t, f)
		if !c.HasHardware() {
			t.Fatalf("1.%d: expected hardware support", tc.minor)
		}
		if len(f.resources) == 0 || f.resources[0] != tc.current {
			t.Errorf("1.%d: expected current=%t, got %v", tc.minor, tc.current, f.resources)
		}
	}
}

func TestGetMixedOutputs(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{
		1: {value: 33, min: 0, max: 99},
		2: {value: 4, min: 4, max: 4},
	})
	c := newTestController(t, f)

	pct, err := c.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pct != 33 {
		t.Errorf("expected 33%%, got %d%%", pct)
	}
	if f.syncs == 0 {
		t.Errorf("expected a sync after the batch")
	}
}

func TestGetLastWins(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{
		1: {value: 10, min: 0, max: 100},
		2: {value: 80, min: 0, max: 100},
	})
	c := newTestController(t, f)

	if pct, err := c.Get(); err != nil || pct != 80 {
		t.Errorf("expected 80%% from the last output, got %d%% %v", pct, err)
	}
}

func TestGetMalformed(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{
		1: {value: 10, min: 0, max: 100},
		2: {value: 50, min: 0, max: 100, badType: true},
		3: {value: 70, min: 0, max: 100, noRange: true},
	})
	c := newTestController(t, f)

	if pct, err := c.Get(); err != nil || pct != 10 {
		t.Errorf("expected malformed outputs to be skipped, got %d%% %v", pct, err)
	}
}

func TestSetNoop(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 50, min: 0, max: 100}})
	c := newTestController(t, f)

	changed, err := c.Set(50)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if changed {
		t.Errorf("expected no hardware change")
	}
	if w := f.outputs[1].writes; len(w) != 0 {
		t.Errorf("expected no writes, got %v", w)
	}
}

func TestSetRamp(t *testing.T) {
	for _, tc := range []struct {
		name     string
		from     uint32
		min, max int32
		percent  int
		writes   []uint32
	}{
		{"Up", 0, 0, 10, 100, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{"Down", 10, 0, 10, 0, []uint32{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}},
		{"UpLarge", 0, 0, 255, 100, []uint32{12, 24, 36, 48, 60, 72, 84, 96, 108, 120, 132, 144, 156, 168, 180, 192, 204, 216, 228, 240, 252, 255}},
		{"DownLarge", 255, 0, 255, 50, []uint32{249, 243, 237, 231, 225, 219, 213, 207, 201, 195, 189, 183, 177, 171, 165, 159, 153, 147, 141, 135, 129, 128}},
		{"Offset", 20, 10, 30, 0, []uint32{19, 18, 17, 16, 15, 14, 13, 12, 11, 10}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeDisplay()
			f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: tc.from, min: tc.min, max: tc.max}})
			c := newTestController(t, f)

			changed, err := c.Set(tc.percent)
			if err != nil {
				t.Fatalf("set: %v", err)
			}
			if !changed {
				t.Errorf("expected hardware change")
			}
			if diff := cmp.Diff(tc.writes, f.outputs[1].writes); diff != "" {
				t.Errorf("writes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetBounds(t *testing.T) {
	for _, r := range [][2]int32{{0, 1}, {0, 15}, {0, 100}, {3, 977}, {0, 4882}} {
		f := newFakeDisplay()
		f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: uint32(r[1]+r[0]) / 2, min: r[0], max: r[1]}})
		c := newTestController(t, f)

		if _, err := c.Set(0); err != nil {
			t.Fatalf("%v: set 0: %v", r, err)
		}
		if v := f.outputs[1].value; v != uint32(r[0]) {
			t.Errorf("%v: set 0: expected %d, got %d", r, r[0], v)
		}
		if _, err := c.Set(100); err != nil {
			t.Fatalf("%v: set 100: %v", r, err)
		}
		if v := f.outputs[1].value; v != uint32(r[1]) {
			t.Errorf("%v: set 100: expected %d, got %d", r, r[1], v)
		}
		if pct, err := c.Get(); err != nil || pct != 100 {
			t.Errorf("%v: get: expected 100%%, got %d%% %v", r, pct, err)
		}
	}
}

func TestSetClamp(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 5, min: 0, max: 10}})
	c := newTestController(t, f)

	if _, err := c.Set(250); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v := f.outputs[1].value; v != 10 {
		t.Errorf("expected clamp to max, got %d", v)
	}
	if _, err := c.Set(-3); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v := f.outputs[1].value; v != 0 {
		t.Errorf("expected clamp to min, got %d", v)
	}
}

func TestSetPartialFailure(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{
		1: {value: 0, min: 0, max: 10, failAt: 3},
		2: {value: 0, min: 0, max: 10},
	})
	f.addScreen(2, map[randr.Output]*fakeOutput{
		3: {value: 0, min: 0, max: 10, failSet: true},
	})
	c := newTestController(t, f)

	changed, err := c.Set(100)
	if err != nil {
		t.Fatalf("set: expected success since one output worked, got %v", err)
	}
	if !changed {
		t.Errorf("expected hardware change")
	}
	if diff := cmp.Diff([]uint32{1, 2}, f.outputs[1].writes); diff != "" {
		t.Errorf("failed output should stop ramping (-want +got):\n%s", diff)
	}
	if v := f.outputs[2].value; v != 10 {
		t.Errorf("other output should be unaffected, got %d", v)
	}
}

func TestSetAllFail(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 0, min: 0, max: 10, failSet: true}})
	c := newTestController(t, f)

	changed, err := c.Set(50)
	if !errors.Is(err, ErrNoOutput) {
		t.Errorf("expected ErrNoOutput, got %v", err)
	}
	if changed {
		t.Errorf("expected no hardware change")
	}
}

func TestIncrementDecrement(t *testing.T) {
	for _, tc := range []struct {
		name     string
		from     uint32
		min, max int32
		up       bool
		to       uint32
		changed  bool
	}{
		{"UpSmall", 4, 0, 9, true, 5, true},
		{"UpLarge", 100, 0, 255, true, 112, true},
		{"UpTruncate", 250, 0, 255, true, 255, true},
		{"UpAtMax", 255, 0, 255, true, 255, false},
		{"DownSmall", 4, 0, 9, false, 3, true},
		{"DownLarge", 100, 0, 255, false, 88, true},
		{"DownTruncate", 5, 0, 255, false, 0, true},
		{"DownTruncateOffset", 15, 10, 265, false, 10, true},
		{"DownAtMin", 10, 10, 20, false, 10, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeDisplay()
			f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: tc.from, min: tc.min, max: tc.max}})
			c := newTestController(t, f)

			var (
				changed bool
				err     error
			)
			if tc.up {
				changed, err = c.Increment()
			} else {
				changed, err = c.Decrement()
			}
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if changed != tc.changed {
				t.Errorf("expected changed=%t, got %t", tc.changed, changed)
			}
			if v := f.outputs[1].value; v != tc.to {
				t.Errorf("expected %d, got %d", tc.to, v)
			}
			if n := len(f.outputs[1].writes); n > 1 {
				t.Errorf("expected a single write, got %d", n)
			}
		})
	}
}

func TestScreenChange(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 20, min: 0, max: 100}})
	c := newTestController(t, f)

	if pct, _ := c.Get(); pct != 20 {
		t.Fatalf("expected 20%%, got %d%%", pct)
	}

	// new output on a new screen
	f.addScreen(2, map[randr.Output]*fakeOutput{2: {value: 90, min: 0, max: 100}})
	if pct, _ := c.Get(); pct != 20 {
		t.Fatalf("new output should not be visible until the cache is rebuilt, got %d%%", pct)
	}

	c.handle(Event{Type: EventScreenChange})
	if pct, _ := c.Get(); pct != 90 {
		t.Errorf("expected new output to be used after rebuild, got %d%%", pct)
	}

	c.handle(Event{Type: EventScreenChange})
	if diff := cmp.Diff(map[xproto.Window]int{1: 1, 2: 1}, f.selected); diff != "" {
		t.Errorf("screens should be watched exactly once (-want +got):\n%s", diff)
	}
}

func TestBrightnessChanged(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 20, min: 0, max: 100}})
	c := newTestController(t, f)

	var (
		got1, got2 []int
		order      []int
	)
	cancel1 := c.Subscribe(func(pct int) {
		got1 = append(got1, pct)
		order = append(order, 1)
	})
	c.Subscribe(func(pct int) {
		got2 = append(got2, pct)
		order = append(order, 2)
	})

	f.outputs[1].value = 70 // e.g., firmware hotkey
	c.handle(Event{Type: EventOutputProperty})

	cancel1()
	cancel1()
	f.outputs[1].value = 40
	c.handle(Event{Type: EventOutputProperty})

	if diff := cmp.Diff([]int{70}, got1); diff != "" {
		t.Errorf("first subscriber (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{70, 40}, got2); diff != "" {
		t.Errorf("second subscriber (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 2}, order); diff != "" {
		t.Errorf("delivery order (-want +got):\n%s", diff)
	}
}

func TestBrightnessChangedUnchanged(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 20, min: 0, max: 100}})
	c := newTestController(t, f)

	var got []int
	c.Subscribe(func(pct int) {
		got = append(got, pct)
	})

	// a ramp leaves one notification per write queued
	if _, err := c.Set(60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range len(f.outputs[1].writes) {
		c.handle(Event{Type: EventOutputProperty})
	}
	f.outputs[1].value = 30
	c.handle(Event{Type: EventOutputProperty})
	c.handle(Event{Type: EventOutputProperty})

	if diff := cmp.Diff([]int{60, 30}, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestEventLoop(t *testing.T) {
	f := newFakeDisplay()
	f.addScreen(1, map[randr.Output]*fakeOutput{1: {value: 20, min: 0, max: 100}})
	c := New(f, WithRampInterval(0))

	var (
		mu  sync.Mutex
		got []int
		ch  = make(chan struct{}, 1)
	)
	c.Subscribe(func(pct int) {
		mu.Lock()
		got = append(got, pct)
		mu.Unlock()
		ch <- struct{}{}
	})

	f.events <- Event{Type: EventOutputProperty}
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for brightness changed")
	}
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{20}, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if c.HasHardware() {
		t.Errorf("closed controller should be inert")
	}
}
