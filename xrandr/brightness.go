// Package xrandr controls display backlights using the RandR BACKLIGHT output
// property.
//
// All outputs are treated as a single logical backlight: operations apply to
// every output which supports it, and succeed if any of them did.
package xrandr

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/pgaskin/dalston/discrete"
)

// Errors.
var (
	ErrUnsupported = errors.New("backlight control not supported")
	ErrNoOutput    = errors.New("no output accepted the backlight operation")
)

// DefaultRampInterval is the delay between hardware writes when smoothly
// changing the brightness.
const DefaultRampInterval = 5 * time.Millisecond

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger for debug logs.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRampInterval overrides [DefaultRampInterval]. Zero disables the delay.
func WithRampInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.ramp = d
	}
}

// Controller reads and writes the backlight level of all outputs. It is safe
// for concurrent usage, but operations are serialized, and [Controller.Set]
// blocks for the duration of the transition.
type Controller struct {
	d      Display
	logger *slog.Logger
	ramp   time.Duration

	mu        sync.Mutex
	supported bool
	randr13   bool
	backlight xproto.Atom
	resources [][]randr.Output // per screen
	watched   map[xproto.Window]bool
	shared    int  // percent
	changed   bool // whether the current operation wrote anything

	subs      subscribers
	published int // last percentage published, -1 if none; owned by handle

	done chan struct{}
	wg   sync.WaitGroup
}

// New checks whether d supports backlight control, builds the output cache,
// and starts watching for changes. If backlight control isn't supported, the
// returned controller is inert and all operations return [ErrUnsupported].
// The display is not closed by the controller.
func New(d Display, opt ...Option) *Controller {
	c := &Controller{
		d:       d,
		logger:  slog.New(slog.DiscardHandler),
		ramp:    DefaultRampInterval,
		watched: map[xproto.Window]bool{},
		done:    make(chan struct{}),

		published: -1,
	}
	for _, fn := range opt {
		fn(c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.setup() {
		c.logger.Debug("xrandr: no backlight support, not watching for changes")
		return c
	}
	c.refresh()
	if !c.probe() {
		c.logger.Debug("xrandr: no outputs have a usable backlight property")
		c.resources = nil
		return c
	}
	c.supported = true

	c.wg.Add(1)
	go c.loop()

	return c
}

// HasHardware returns true if backlight control is supported.
func (c *Controller) HasHardware() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supported
}

// Get returns the current brightness percentage. If there are multiple
// outputs, the last one read wins.
func (c *Controller) Get() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.supported {
		return 0, ErrUnsupported
	}
	if !c.foreach(c.outputGetPercent) {
		return c.shared, ErrNoOutput
	}
	return c.shared, nil
}

// Set smoothly changes the brightness of all outputs to the specified
// percentage, returning whether the hardware was changed.
func (c *Controller) Set(percent int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.supported {
		return false, ErrUnsupported
	}
	c.shared = discrete.Clamp(percent, 0, 100)
	return c.batch(c.outputSet)
}

// Increment increases the brightness of all outputs by one step, returning
// whether the hardware was changed.
func (c *Controller) Increment() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.supported {
		return false, ErrUnsupported
	}
	return c.batch(c.outputUp)
}

// Decrement decreases the brightness of all outputs by one step, returning
// whether the hardware was changed.
func (c *Controller) Decrement() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.supported {
		return false, ErrUnsupported
	}
	return c.batch(c.outputDown)
}

// Refresh rebuilds the output cache. This is done automatically when the
// server reports a screen change.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supported {
		c.refresh()
	}
}

// Close stops watching for changes and releases the output cache. It does not
// close the display.
func (c *Controller) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = nil
	c.supported = false
}

func (c *Controller) setup() bool {
	major, minor, err := c.d.Version()
	if err != nil {
		c.logger.Debug("xrandr: randr extension missing", "error", err)
		return false
	}
	if major < 1 || (major == 1 && minor < 2) {
		c.logger.Debug("xrandr: randr version too old", "major", major, "minor", minor)
		return false
	}
	c.randr13 = major > 1 || minor >= 3
	if !c.randr13 {
		c.logger.Debug("xrandr: randr version does not support current screen resources", "major", major, "minor", minor)
	}

	atom, err := c.d.InternAtom("BACKLIGHT")
	if err != nil {
		c.logger.Debug("xrandr: failed to look up backlight atom", "error", err)
		return false
	}
	if atom == xproto.AtomNone {
		c.logger.Debug("xrandr: no outputs have backlight property")
		return false
	}
	c.backlight = atom
	return true
}

// refresh discards and rebuilds the output cache. It must be called with mu
// held.
func (c *Controller) refresh() {
	c.resources = c.resources[:0]
	for i, root := range c.d.Screens() {
		if !c.watched[root] {
			if err := c.d.SelectInput(root); err != nil {
				c.logger.Warn("xrandr: failed to watch screen", "screen", i, "error", err)
			} else {
				c.logger.Debug("xrandr: watching screen", "screen", i, "root", root)
				c.watched[root] = true
			}
		}
		outputs, err := c.d.ScreenResources(root, c.randr13)
		if err != nil {
			c.logger.Warn("xrandr: failed to get screen resources", "screen", i, "error", err)
			continue
		}
		c.logger.Debug("xrandr: adding screen resources", "screen", i, "outputs", len(outputs))
		c.resources = append(c.resources, outputs)
	}
}

// probe checks whether any cached output has a usable backlight.
func (c *Controller) probe() bool {
	for _, outputs := range c.resources {
		for _, output := range outputs {
			if _, _, _, ok := c.outputState(output); ok {
				return true
			}
		}
	}
	return false
}

// batch runs op on every output, returning whether any output was written.
func (c *Controller) batch(op func(randr.Output) bool) (bool, error) {
	c.changed = false
	ok := c.foreach(op)
	changed := c.changed
	c.changed = false
	if !ok {
		return changed, ErrNoOutput
	}
	return changed, nil
}

// foreach runs op on every cached output, returning true if it succeeded for
// any of them.
func (c *Controller) foreach(op func(randr.Output) bool) bool {
	var success bool
	for i, outputs := range c.resources {
		for j, output := range outputs {
			c.logger.Debug("xrandr: using output", "screen", i, "output", j+1, "of", len(outputs))
			if op(output) {
				success = true
			}
		}
	}
	if err := c.d.Sync(); err != nil {
		c.logger.Warn("xrandr: failed to sync", "error", err)
	}
	return success
}

// outputGet reads the raw backlight value.
func (c *Controller) outputGet(output randr.Output) (uint32, bool) {
	prop, err := c.d.OutputProperty(output, c.backlight)
	if err != nil {
		c.logger.Debug("xrandr: failed to get property", "output", output, "error", err)
		return 0, false
	}
	if prop.Type != xproto.AtomInteger || prop.Format != 32 || prop.Items != 1 || len(prop.Data) < 4 {
		return 0, false
	}
	return xgb.Get32(prop.Data), true
}

// outputLimits reads the raw backlight range.
func (c *Controller) outputLimits(output randr.Output) (uint32, uint32, bool) {
	info, err := c.d.QueryOutputProperty(output, c.backlight)
	if err != nil {
		c.logger.Debug("xrandr: could not get output property", "output", output, "error", err)
		return 0, 0, false
	}
	if !info.Range || len(info.Values) != 2 {
		c.logger.Debug("xrandr: backlight property is not a range", "output", output)
		return 0, 0, false
	}
	lo, hi := info.Values[0], info.Values[1]
	if lo < 0 || hi < lo {
		c.logger.Debug("xrandr: backlight property has an invalid range", "output", output, "min", lo, "max", hi)
		return 0, 0, false
	}
	return uint32(lo), uint32(hi), true
}

// outputState reads the raw value and range, failing if either is unusable.
func (c *Controller) outputState(output randr.Output) (cur, lo, hi uint32, ok bool) {
	if cur, ok = c.outputGet(output); !ok {
		return
	}
	if lo, hi, ok = c.outputLimits(output); !ok {
		return
	}
	if lo == hi {
		return cur, lo, hi, false
	}
	c.logger.Debug("xrandr: hard value", "output", output, "value", cur, "min", lo, "max", hi)
	return cur, lo, hi, true
}

// outputSetRaw writes the raw backlight value. Errors are logged and reported
// as a failure for this output only.
func (c *Controller) outputSetRaw(output randr.Output, value uint32) bool {
	if err := c.d.ChangeOutputProperty(output, c.backlight, value); err != nil {
		c.logger.Warn("xrandr: failed to change output property for brightness", "output", output, "value", value, "error", err)
		return false
	}
	c.changed = true
	return true
}

func (c *Controller) outputGetPercent(output randr.Output) bool {
	cur, lo, hi, ok := c.outputState(output)
	if !ok {
		return false
	}
	c.shared = discrete.ToPercent(cur, lo, hi)
	c.logger.Debug("xrandr: percentage", "output", output, "percent", c.shared)
	return true
}

func (c *Controller) outputUp(output randr.Output) bool {
	cur, lo, hi, ok := c.outputState(output)
	if !ok {
		return false
	}
	if cur >= hi {
		c.logger.Debug("xrandr: already max", "output", output)
		return true
	}
	return c.outputSetRaw(output, min(cur+discrete.Step(discrete.Levels(lo, hi)), hi))
}

func (c *Controller) outputDown(output randr.Output) bool {
	cur, lo, hi, ok := c.outputState(output)
	if !ok {
		return false
	}
	if cur <= lo {
		c.logger.Debug("xrandr: already min", "output", output)
		return true
	}
	if step := discrete.Step(discrete.Levels(lo, hi)); cur-lo < step {
		cur = lo
	} else {
		cur -= step
	}
	return c.outputSetRaw(output, cur)
}

// outputSet ramps the output towards the shared percentage.
func (c *Controller) outputSet(output randr.Output) bool {
	cur, lo, hi, ok := c.outputState(output)
	if !ok {
		return false
	}
	target := discrete.FromPercent(c.shared, lo, hi)
	c.logger.Debug("xrandr: target", "output", output, "percent", c.shared, "value", target)
	if cur == target {
		c.logger.Debug("xrandr: already set", "output", output, "value", cur)
		return true
	}

	// some adaptors have a large number of levels, so step based on the
	// distance we're moving
	var step uint32
	if cur < target {
		step = discrete.Step(target - cur)
	} else {
		step = discrete.Step(cur - target)
	}
	c.logger.Debug("xrandr: using step", "output", output, "step", step)

	for v := cur; v != target; {
		if v < target {
			v = min(v+step, target)
		} else if v-target <= step {
			v = target
		} else {
			v -= step
		}
		if !c.outputSetRaw(output, v) {
			return false
		}
		if v != target && c.ramp > 0 {
			time.Sleep(c.ramp)
		}
	}
	return true
}

func (c *Controller) loop() {
	defer c.wg.Done()
	events := c.d.Events()
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Debug("xrandr: event stream closed")
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev Event) {
	switch ev.Type {
	case EventScreenChange:
		c.logger.Debug("xrandr: screen changed, rebuilding output cache")
		c.Refresh()
	case EventOutputProperty:
		pct, err := c.Get()
		if err != nil {
			c.logger.Warn("xrandr: failed to get brightness after change", "error", err)
			return
		}
		if pct == c.published {
			return
		}
		c.published = pct
		c.logger.Debug("xrandr: emitting brightness changed", "percent", pct)
		c.subs.publish(pct)
	}
}
