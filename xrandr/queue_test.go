package xrandr

import (
	"slices"
	"testing"
	"time"
)

func TestQueueScreenChangeNotDropped(t *testing.T) {
	q := newQueue()
	defer q.close()

	// nothing is reading, like while a ramp holds the controller lock
	for range 100 {
		q.push(EventOutputProperty)
	}
	q.push(EventScreenChange)
	for range 100 {
		q.push(EventOutputProperty)
	}

	var got []EventType
	timeout := time.After(5 * time.Second)
	for !slices.Contains(got, EventScreenChange) {
		select {
		case ev := <-q.out:
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("screen change was not delivered (got %v)", got)
		}
	}
	if len(got) > 2 {
		t.Errorf("expected property changes to be coalesced, got %v", got)
	}

	// at most one more coalesced property change may be left
	for {
		select {
		case ev := <-q.out:
			got = append(got, ev.Type)
			if len(got) > 3 {
				t.Fatalf("expected property changes to be coalesced, got %v", got)
			}
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
}

func TestQueueClose(t *testing.T) {
	q := newQueue()
	q.push(EventOutputProperty)
	q.close()
	q.close()

	select {
	case <-q.done:
	default:
		t.Fatal("expected queue to be closed")
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-q.out:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("output channel was not closed")
		}
	}
}
