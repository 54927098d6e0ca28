package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	Publish(b, UnitFinished, 7)

	for _, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != UnitFinished || ev.Data != 7 {
				t.Fatalf("unexpected event %+v", ev)
			}
			if ev.Time.IsZero() {
				t.Fatal("event time not stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: UnitStarted})
	b.Publish(Event{Type: UnitFinished}) // dropped, buffer full

	ev := <-ch
	if ev.Type != UnitStarted {
		t.Fatalf("got %s, want %s", ev.Type, UnitStarted)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected drop, got %+v", ev)
	default:
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: BatchFinished})
}

func TestNilBusPublishIsNoop(t *testing.T) {
	t.Parallel()
	Publish(nil, BatchStarted, nil)
}

func TestHasPrefix(t *testing.T) {
	t.Parallel()
	if !HasPrefix(Event{Type: UnitFailed}, "unit") {
		t.Fatal("unit.failed should match unit family")
	}
	if HasPrefix(Event{Type: BatchFinished}, "unit.") {
		t.Fatal("batch.finished should not match unit family")
	}
}
