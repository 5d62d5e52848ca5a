// Package dalston runs netbook status applets (brightness, battery, volume,
// storage) as blocks of an i3bar-compatible status line.
//
// Each applet is a [Module] with its own immediate-mode main loop. The runtime
// coalesces redraws, forwards click events, pauses applets while the bar is
// hidden, and restarts applets which fail.
package dalston

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pgaskin/dalston/barproto"
)

// Module is a single status applet with its own main loop and state. The
// struct implementing Module should contain read-only configuration, and all
// state should be contained within Run.
type Module interface {
	// Run contains the main loop for the applet, running indefinitely and
	// returning an error if a fatal error occurs.
	Run(Instance) error
}

// ModuleFunc wraps a function in a Module.
type ModuleFunc func(Instance) error

func (fn ModuleFunc) Run(instance Instance) error {
	return fn(instance)
}

// Instance provides per-applet functions to interact with the bar.
type Instance interface {
	// Tick enables the Ticked event at approximately the provided interval,
	// rounded to a multiple of the bar's base tick rate. Zero disables it.
	Tick(time.Duration)

	// Update builds and submits the blocks for the applet. The renderer must
	// only be used within the function. If now is true, the bar is redrawn
	// immediately instead of being coalesced with other updates.
	Update(now bool, fn func(render Renderer))

	// IsStopped checks whether the bar is currently hidden. This is just a
	// hint.
	IsStopped() bool

	// Event gets the click event channel. Up to 16 events are buffered.
	Event() <-chan barproto.Event

	// Stopped notifies when IsStopped changes.
	Stopped() <-chan struct{}

	// Ticked notifies at the configured tick interval.
	Ticked() <-chan struct{}

	// Logger returns a logger tagged with the applet.
	Logger() *slog.Logger
}

// Renderer renders raw blocks.
type Renderer func(barproto.Block)

// Err renders an error message block.
func (r Renderer) Err(err error) {
	var s string
	if err != nil {
		s = err.Error()
	} else {
		s = "<nil>"
	}
	r(barproto.Block{
		FullText:   " error: " + s + " ",
		ShortText:  "ERR",
		Urgent:     true,
		Separator:  true,
		Background: 0xFF0000FF,
	})
}

// Bar is the status line runtime.
type Bar struct {
	// TickRate is the base tick rate (default 250ms).
	TickRate time.Duration

	// Logger is used for runtime and applet logs (default discard).
	Logger *slog.Logger

	// In and Out are the i3bar event and status streams (default stdin and
	// stdout).
	In  io.Reader
	Out io.Writer

	// NoSignals disables handling of SIGUSR1/SIGUSR2 for stopping and
	// continuing.
	NoSignals bool
}

const (
	stopSignal  = syscall.SIGUSR1
	contSignal  = syscall.SIGUSR2
	updateDelay = time.Millisecond * 25
)

type instance struct {
	name       string
	logger     *slog.Logger
	invalidate func(now bool)
	tickBase   time.Duration

	eventCh   chan barproto.Event
	tickCh    chan struct{}
	stoppedCh chan struct{}

	tickInterval atomic.Uint64
	tickCount    atomic.Uint64
	stopped      atomic.Bool

	// last complete render
	curMu  sync.Mutex
	curBuf []byte

	// render in progress
	nextMu  sync.Mutex
	nextBuf []byte
}

func newInstance(name string, logger *slog.Logger, tickBase time.Duration, invalidate func(now bool)) *instance {
	return &instance{
		name:       name,
		logger:     logger.With("module", name),
		invalidate: invalidate,
		tickBase:   tickBase,
		eventCh:    make(chan barproto.Event, 16),
		tickCh:     make(chan struct{}, 1),
		stoppedCh:  make(chan struct{}, 1),
	}
}

// supervise runs m until it returns without an error, showing errors and
// restarting on the next click.
func (i *instance) supervise(m Module) {
	for {
		err := func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return m.Run(i)
		}()
		if err == nil {
			return
		}
		i.logger.Error("module failed", "error", err)
		i.Tick(0)
		i.drain()
		i.Update(true, func(r Renderer) {
			r.Err(fmt.Errorf("fatal: %w", err))
		})
		<-i.eventCh
		i.logger.Info("restarting module")
	}
}

func (i *instance) drain() {
	for {
		select {
		case <-i.eventCh:
		case <-i.tickCh:
		default:
			return
		}
	}
}

func (i *instance) Tick(interval time.Duration) {
	i.tickInterval.Store(uint64((interval + i.tickBase/2) / i.tickBase))
}

func (i *instance) Update(now bool, fn func(Renderer)) {
	i.nextMu.Lock()
	defer i.nextMu.Unlock()

	i.nextBuf = i.nextBuf[:0]
	fn(Renderer(func(b barproto.Block) {
		b.Name = i.name
		i.nextBuf = b.AppendJSON(append(i.nextBuf, ','))
	}))

	i.curMu.Lock()
	defer i.curMu.Unlock()

	i.curBuf, i.nextBuf = i.nextBuf, i.curBuf

	if !bytes.Equal(i.curBuf, i.nextBuf) {
		i.invalidate(now)
	}
}

func (i *instance) IsStopped() bool {
	return i.stopped.Load()
}

func (i *instance) Event() <-chan barproto.Event {
	return i.eventCh
}

func (i *instance) Stopped() <-chan struct{} {
	return i.stoppedCh
}

func (i *instance) Ticked() <-chan struct{} {
	return i.tickCh
}

func (i *instance) Logger() *slog.Logger {
	return i.logger
}

func (i *instance) sendTick() {
	if interval := i.tickInterval.Load(); interval != 0 {
		if i.tickCount.Add(1)%interval == 0 {
			select {
			case i.tickCh <- struct{}{}:
			default:
			}
		}
	}
}

func (i *instance) sendEvent(event barproto.Event) {
	if event.Name == i.name {
		select {
		case i.eventCh <- event:
		default:
			i.logger.Debug("dropped click event", "button", event.Button)
		}
	}
}

func (i *instance) sendStopped(stopped bool) {
	i.stopped.Store(stopped)
	select {
	case i.stoppedCh <- struct{}{}:
	default:
	}
}

// writeTo writes the last render, prefixed by a comma if comma is true and
// there is anything to write. It returns whether a comma is needed next.
func (i *instance) writeTo(w io.Writer, comma bool) (bool, error) {
	i.curMu.Lock()
	defer i.curMu.Unlock()

	if len(i.curBuf) <= 1 {
		return comma, nil
	}
	buf := i.curBuf
	if !comma {
		buf = buf[1:]
	}
	if _, err := w.Write(buf); err != nil {
		return comma, err
	}
	return true, nil
}

// Run runs the status line with the provided applets until ctx is cancelled
// or the i3bar streams fail.
//
// Do not use the Block/Event Name field from the applets; it is used
// internally to route click events. Use the Instance field to distinguish
// blocks within an applet.
func (b *Bar) Run(ctx context.Context, modules ...Module) error {
	var (
		tickRate = b.TickRate
		logger   = b.Logger
		in       = b.In
		out      = b.Out
	)
	if tickRate <= 0 {
		tickRate = time.Second / 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	var (
		ticker          = time.NewTicker(tickRate)
		delayer         = time.NewTimer(updateDelay)
		instances       = make([]*instance, len(modules))
		invalidateCh    = make(chan struct{}, 1)
		invalidateNowCh = make(chan struct{}, 1)
		errCh           = make(chan error, 1)
	)
	defer ticker.Stop()
	delayer.Stop()

	invalidate := func(now bool) {
		ch := invalidateCh
		if now {
			ch = invalidateNowCh
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	for n, module := range modules {
		instances[n] = newInstance(strconv.Itoa(n), logger, tickRate, invalidate)
		go instances[n].supervise(module)
	}

	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			buf := bytes.TrimSpace(sc.Bytes())
			if len(buf) == 0 {
				continue
			}
			if buf[0] == '[' || buf[0] == ',' {
				buf = buf[1:]
			}
			if len(buf) == 0 {
				continue // start of the infinite array
			}
			var event barproto.Event
			if err := event.UnmarshalJSON(buf); err != nil {
				logger.Warn("invalid event line", "line", sc.Text(), "error", err)
				continue
			}
			for _, instance := range instances {
				instance.sendEvent(event)
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		select {
		case errCh <- fmt.Errorf("read events: %w", err):
		default:
		}
	}()

	if !b.NoSignals {
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, stopSignal, contSignal)
		defer signal.Stop(sigCh)
		go func() {
			for sig := range sigCh {
				for _, instance := range instances {
					instance.sendStopped(sig == stopSignal)
				}
			}
		}()
	}

	header := barproto.Header{
		StopSignal:  stopSignal,
		ContSignal:  contSignal,
		ClickEvents: true,
	}
	if _, err := out.Write(append(header.AppendJSON(nil), "\n[[]\n"...)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	var line []byte
	render := func() error {
		w := bytes.NewBuffer(line[:0])
		w.WriteString(",[")
		var comma bool
		for _, instance := range instances {
			var err error
			if comma, err = instance.writeTo(w, comma); err != nil {
				return err
			}
		}
		w.WriteString("]\n")
		line = w.Bytes()
		if _, err := out.Write(line); err != nil {
			return fmt.Errorf("write status: %w", err)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			for _, instance := range instances {
				instance.sendTick()
			}
			continue
		case <-invalidateNowCh:
		case <-invalidateCh:
			// give other applets a chance to update before drawing
			delayer.Reset(updateDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-delayer.C:
			case <-invalidateNowCh:
				delayer.Stop()
			}
		}
		select {
		case <-invalidateCh:
		default:
		}
		if err := render(); err != nil {
			return err
		}
	}
}
