// Package events provides the ordered, lossless event stream that carries
// import progress, cursor changes and view resets from the goroutine that
// produces them to the loop that owns the presentation layer.
package events

import (
	"sync"
)

// Event is a state change published on a Stream.
type Event interface {
	// EventName returns a short, stable name used in logs and tests.
	EventName() string
}

// Stream fans published events out to subscribers.
// Publish never blocks: every subscriber has its own unbounded queue, so a
// slow consumer delays only itself and no event is ever dropped.
type Stream struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[*Subscription]struct{})}
}

// Subscription receives every event published after it was created, in
// publish order.
type Subscription struct {
	stream *Stream
	out    chan Event
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	stopped bool
}

// Subscribe registers a new subscriber.
func (s *Stream) Subscribe() *Subscription {
	sub := &Subscription{
		stream: s,
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.out)
		return sub
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish appends ev to every subscriber's queue.
func (s *Stream) Publish(ev Event) {
	if ev == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for sub := range s.subs {
		sub.push(ev)
	}
}

// Close stops the stream. Subscribers drain what was already queued and then
// see their channel closed.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for sub := range subs {
		sub.finish(false)
	}
}

// C returns the channel events are delivered on.
func (sub *Subscription) C() <-chan Event {
	return sub.out
}

// Unsubscribe detaches the subscription and discards undelivered events.
func (sub *Subscription) Unsubscribe() {
	sub.stream.mu.Lock()
	if sub.stream.subs != nil {
		delete(sub.stream.subs, sub)
	}
	sub.stream.mu.Unlock()
	sub.finish(true)
	sub.once.Do(func() { close(sub.done) })
}

// Drain detaches the subscription. Events queued before the call are still
// delivered, then the channel is closed.
func (sub *Subscription) Drain() {
	sub.stream.mu.Lock()
	if sub.stream.subs != nil {
		delete(sub.stream.subs, sub)
	}
	sub.stream.mu.Unlock()
	sub.finish(false)
}

func (sub *Subscription) push(ev Event) {
	sub.mu.Lock()
	if !sub.stopped {
		sub.queue = append(sub.queue, ev)
		sub.cond.Signal()
	}
	sub.mu.Unlock()
}

// finish marks the subscription as stopped. With discard set the pending
// queue is dropped, otherwise the pump drains it first.
func (sub *Subscription) finish(discard bool) {
	sub.mu.Lock()
	sub.stopped = true
	if discard {
		sub.queue = nil
	}
	sub.cond.Broadcast()
	sub.mu.Unlock()
}

func (sub *Subscription) pump() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.stopped {
			sub.cond.Wait()
		}
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			return
		}
		ev := sub.queue[0]
		sub.queue[0] = nil
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- ev:
		case <-sub.done:
			return
		}
	}
}
