package xrandr

import "sync"

// queue delivers notifications to a possibly slow consumer, coalescing
// pending notifications of the same type. Nothing is ever dropped: a
// notification pushed while one of the same type is pending is merged into
// it. Screen changes are delivered before output property changes.
type queue struct {
	mu      sync.Mutex
	pending [EventOutputProperty + 1]bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
	out  chan Event
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Event),
	}
	go q.run()
	return q
}

func (q *queue) push(t EventType) {
	q.mu.Lock()
	q.pending[t] = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close discards pending notifications and closes the output channel.
func (q *queue) close() {
	q.once.Do(func() {
		close(q.done)
	})
}

func (q *queue) pop() (EventType, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range []EventType{EventScreenChange, EventOutputProperty} {
		if q.pending[t] {
			q.pending[t] = false
			return t, true
		}
	}
	return 0, false
}

func (q *queue) run() {
	defer close(q.out)
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			t, ok := q.pop()
			if !ok {
				break
			}
			select {
			case q.out <- Event{Type: t}:
			case <-q.done:
				return
			}
		}
	}
}
