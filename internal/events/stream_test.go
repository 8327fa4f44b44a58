package events

import (
	"sync"
	"testing"
	"time"
)

type numbered int

func (numbered) EventName() string { return "numbered" }

func collect(sub *Subscription) []int {
	var got []int
	for ev := range sub.C() {
		got = append(got, int(ev.(numbered)))
	}
	return got
}

func TestStream_OrderAndFanOut(t *testing.T) {
	s := NewStream()
	a, b := s.Subscribe(), s.Subscribe()

	const n = 5000
	for i := range n {
		s.Publish(numbered(i))
	}
	s.Close()

	for name, sub := range map[string]*Subscription{"a": a, "b": b} {
		got := collect(sub)
		if len(got) != n {
			t.Fatalf("%s received %d events, want %d", name, len(got), n)
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("%s event %d = %d, out of order", name, i, v)
			}
		}
	}
}

func TestStream_PublishDoesNotBlock(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := range 100000 {
			s.Publish(numbered(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Publish blocked on an unread subscriber")
	}
}

func TestStream_ConcurrentPublishers(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				s.Publish(numbered(i))
			}
		}()
	}
	wg.Wait()
	s.Close()

	if got := len(collect(sub)); got != 800 {
		t.Errorf("received %d events, want 800", got)
	}
}

func TestStream_SubscribeSeesOnlyLaterEvents(t *testing.T) {
	s := NewStream()
	s.Publish(numbered(1))
	sub := s.Subscribe()
	s.Publish(numbered(2))
	s.Publish(nil)
	s.Close()

	got := collect(sub)
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("received %v, want [2]", got)
	}
}

func TestStream_AfterClose(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Close()
	s.Publish(numbered(1))

	sub := s.Subscribe()
	if _, ok := <-sub.C(); ok {
		t.Error("subscription on a closed stream should be closed")
	}
	sub.Unsubscribe()
}

func TestSubscription_Drain(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe()
	for i := range 3 {
		s.Publish(numbered(i))
	}
	sub.Drain()
	s.Publish(numbered(99))

	got := collect(sub)
	if len(got) != 3 || got[2] != 2 {
		t.Errorf("Drain delivered %v, want [0 1 2]", got)
	}
	s.Close()
}

func TestSubscription_Unsubscribe(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe()
	other := s.Subscribe()
	s.Publish(numbered(1))
	sub.Unsubscribe()
	sub.Unsubscribe()
	s.Publish(numbered(2))

	// The channel closes; anything still queued is dropped.
	for range sub.C() {
	}
	s.Close()
	if got := collect(other); len(got) != 2 {
		t.Errorf("other subscriber received %v, want two events", got)
	}
}
