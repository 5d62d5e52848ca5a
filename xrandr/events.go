package xrandr

import "sync"

// Subscribe registers fn to be called with the new percentage whenever the
// brightness is changed by anything (including other programs or the
// firmware). Handlers are called in registration order from the event
// goroutine, so they must not block for long. The returned function removes
// the handler.
func (c *Controller) Subscribe(fn func(percent int)) (cancel func()) {
	return c.subs.add(fn)
}

type subscriber struct {
	fn func(int)
}

type subscribers struct {
	mu   sync.Mutex
	list []*subscriber
}

func (s *subscribers) add(fn func(int)) func() {
	sub := &subscriber{fn}

	s.mu.Lock()
	s.list = append(s.list, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, x := range s.list {
				if x == sub {
					s.list = append(s.list[:i:i], s.list[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *subscribers) publish(percent int) {
	s.mu.Lock()
	list := s.list
	s.mu.Unlock()

	for _, sub := range list {
		sub.fn(percent)
	}
}
