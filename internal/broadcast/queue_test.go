package broadcast

import (
	"sync"
	"testing"
)

func TestPushPopFIFO(t *testing.T) {
	q := NewQueue(10)

	q.Push("first", 0)
	q.Push("second", 1)

	msg, ok := q.Pop()
	if !ok {
		t.Fatal("expected a queued message")
	}
	if msg.Text != "first" || msg.ChannelIdx != 0 {
		t.Errorf("got %+v, want first on channel 0", msg)
	}

	msg, ok = q.Pop()
	if !ok || msg.Text != "second" {
		t.Errorf("got %+v, want second", msg)
	}
}

func TestPopEmptyQueue(t *testing.T) {
	q := NewQueue(10)

	if _, ok := q.Pop(); ok {
		t.Error("empty queue returned a message")
	}
}

func TestPushAssignsUniqueIDs(t *testing.T) {
	q := NewQueue(10)

	a := q.Push("a", 0)
	b := q.Push("b", 0)

	if a.ID == "" || b.ID == "" {
		t.Fatal("expected non-empty IDs")
	}
	if a.ID == b.ID {
		t.Error("two messages share an ID")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	q := NewQueue(2)

	q.Push("one", 0)
	q.Push("two", 0)
	q.Push("three", 0)

	if got := q.Len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}

	msg, _ := q.Pop()
	if msg.Text != "two" {
		t.Errorf("oldest surviving message = %q, want %q", msg.Text, "two")
	}
}

func TestConcurrentPushPop(t *testing.T) {
	q := NewQueue(1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Push("msg", 0)
		}()
	}
	wg.Wait()

	if got := q.Len(); got != 50 {
		t.Fatalf("len = %d, want 50", got)
	}

	popped := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		popped++
	}
	if popped != 50 {
		t.Errorf("popped %d messages, want 50", popped)
	}
}
