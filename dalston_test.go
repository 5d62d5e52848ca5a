package dalston

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pgaskin/dalston/barproto"
)

func TestBar(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bar := &Bar{
		TickRate:  time.Hour,
		In:        inR,
		Out:       outW,
		NoSignals: true,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- bar.Run(ctx,
			ModuleFunc(func(i Instance) error {
				text := "hello"
				for {
					i.Update(true, func(render Renderer) {
						render(barproto.Block{Instance: "a", FullText: text})
					})
					ev := <-i.Event()
					if ev.Button == barproto.ButtonRight {
						return errors.New("boom")
					}
					text = "clicked " + ev.Instance
				}
			}),
			ModuleFunc(func(i Instance) error {
				<-i.Stopped() // never renders
				return nil
			}),
		)
	}()

	sc := bufio.NewScanner(outR)
	next := func() string {
		t.Helper()
		if !sc.Scan() {
			t.Fatalf("unexpected end of output: %v", sc.Err())
		}
		return sc.Text()
	}
	expect := func(exp string) {
		t.Helper()
		if act := next(); act != exp {
			t.Fatalf("expected line %q, got %q", exp, act)
		}
	}

	expect(`{"version":1,"stop_signal":10,"cont_signal":12,"click_events":true}`)
	expect(`[[]`)
	expect(`,[{"full_text":"hello","name":"0","instance":"a","separator":false}]`)

	io.WriteString(inW, "[\n")
	io.WriteString(inW, `{"name":"0","instance":"a","button":1}`+"\n")
	expect(`,[{"full_text":"clicked a","name":"0","instance":"a","separator":false}]`)

	io.WriteString(inW, `,{"name":"1","instance":"x","button":1}`+"\n")
	io.WriteString(inW, `,{"name":"0","instance":"a","button":3}`+"\n")
	if act := next(); !strings.Contains(act, `"full_text":" error: fatal: boom "`) || !strings.Contains(act, `"urgent":true`) {
		t.Fatalf("expected error block, got %q", act)
	}

	// click restarts the module
	io.WriteString(inW, `,{"name":"0","instance":"a","button":1}`+"\n")
	expect(`,[{"full_text":"hello","name":"0","instance":"a","separator":false}]`)

	cancel()
	go io.Copy(io.Discard, outR)
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBarEOF(t *testing.T) {
	bar := &Bar{
		In:        strings.NewReader("[\n"),
		Out:       io.Discard,
		NoSignals: true,
	}
	if err := bar.Run(context.Background()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestTick(t *testing.T) {
	i := newInstance("0", slog.New(slog.DiscardHandler), time.Second/4, func(bool) {})
	for _, tc := range []struct {
		Interval time.Duration
		Ticks    int
		Fired    int
	}{
		{0, 8, 0},
		{time.Second, 8, 2},
		{time.Second / 3, 4, 4}, // rounded to the base rate
		{time.Second * 2, 7, 0},
	} {
		i.Tick(tc.Interval)
		i.tickCount.Store(0)
		var fired int
		for range tc.Ticks {
			i.sendTick()
			select {
			case <-i.Ticked():
				fired++
			default:
			}
		}
		if fired != tc.Fired {
			t.Errorf("%s: expected %d ticks, got %d", tc.Interval, tc.Fired, fired)
		}
	}
}
