package identity

import (
	"sync"

	"github.com/angelmondragon/zeroproof-client/internal/session"
)

// broker fans auth events out to subscribers. Each subscriber has its own
// queue and goroutine, so a slow handler never blocks publishers or peers,
// and every subscriber sees events in publish order.
type broker struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscriber
}

type subscriber struct {
	handler func(session.Event)

	mu    sync.Mutex
	queue []session.Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newBroker() *broker {
	return &broker{subs: make(map[uint64]*subscriber)}
}

// subscribe registers handler and queues initial as its first event.
func (b *broker) subscribe(handler func(session.Event), initial session.Event) func() {
	sub := &subscriber{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	sub.push(initial)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.run()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}
}

func (b *broker) publish(ev session.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.push(ev)
	}
}

func (b *broker) close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

func (s *subscriber) push(ev session.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.handler(ev)
		}
	}
}
