package agent

import (
	"sync"

	"worldsd/config"
	"worldsd/model"
)

// subscriberBuffer is the per-client channel depth. A client subscriber
// that falls this far behind the producer is treated as dead.
const subscriberBuffer = 256

// Mux fans one ordered event sequence out to any number of subscribers.
//
// Every subscriber observes the identical sequence: same events, same
// order. Publish never blocks. Subscribers come in two kinds:
//
//   - Subscribe: client sockets. Bounded buffer; a subscriber whose buffer
//     fills (a client that stopped reading) is force-closed and detached.
//   - SubscribeReliable: internal consumers, the persistence reconciler in
//     particular. Events queue without bound on the producer side and a
//     pump goroutine delivers them, so delivery of the full sequence
//     through the terminal event is guaranteed no matter how slowly the
//     consumer drains.
type Mux struct {
	mu     sync.Mutex
	subs   map[sink]struct{}
	closed bool
}

// sink is one subscriber's delivery mechanism. deliver reports false when
// the subscriber should be detached.
type sink interface {
	deliver(ev model.StreamEvent) bool
	finish()
}

func NewMux() *Mux {
	return &Mux{subs: make(map[sink]struct{})}
}

// Subscribe registers a client subscriber and returns its event channel.
// The channel is closed when the sequence ends or the subscriber is
// detached for not draining.
func (m *Mux) Subscribe() <-chan model.StreamEvent {
	sub := &clientSub{ch: make(chan model.StreamEvent, subscriberBuffer)}
	m.add(sub)
	return sub.ch
}

// SubscribeReliable registers an internal subscriber with guaranteed
// delivery of the whole sequence. It must only be used for consumers that
// are known to drain to completion.
func (m *Mux) SubscribeReliable() <-chan model.StreamEvent {
	sub := &reliableSub{
		ch:   make(chan model.StreamEvent),
		wake: make(chan struct{}, 1),
	}
	go sub.pump()
	m.add(sub)
	return sub.ch
}

func (m *Mux) add(sub sink) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		// Late subscriber to a finished sequence gets an immediately
		// closed channel.
		sub.finish()
		return
	}
	m.subs[sub] = struct{}{}
}

// Publish delivers ev to every live subscriber without blocking.
func (m *Mux) Publish(ev model.StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for sub := range m.subs {
		if !sub.deliver(ev) {
			// Client stopped draining. Drop it so the producer and the
			// other subscribers keep moving.
			delete(m.subs, sub)
			sub.finish()
			if config.DebugLog != nil {
				config.DebugLog.Printf("mux: detached slow subscriber")
			}
		}
	}
}

// Close ends the sequence: every remaining subscriber channel is closed
// after the events already queued drain. Publish after Close is a no-op.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for sub := range m.subs {
		delete(m.subs, sub)
		sub.finish()
	}
}

// SubscriberCount reports the number of live subscribers.
func (m *Mux) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// clientSub is a bounded drop-on-full subscriber.
type clientSub struct {
	ch chan model.StreamEvent
}

func (s *clientSub) deliver(ev model.StreamEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *clientSub) finish() {
	close(s.ch)
}

// reliableSub queues events without bound and pumps them to its channel,
// so the producer never blocks and the consumer never misses an event.
type reliableSub struct {
	ch   chan model.StreamEvent
	wake chan struct{}

	mu     sync.Mutex
	queue  []model.StreamEvent
	closed bool
}

func (s *reliableSub) deliver(ev model.StreamEvent) bool {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *reliableSub) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *reliableSub) pump() {
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				done := s.closed
				s.mu.Unlock()
				if done {
					close(s.ch)
					return
				}
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.ch <- ev
		}
	}
}
