package engine_test

import (
	"testing"
	"time"

	"github.com/seantiz/foundry/internal/engine"
)

func event(batchID, typ, taskID string) engine.Event {
	return engine.Event{Type: typ, BatchID: batchID, TaskID: taskID}
}

func TestEventBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("b1")
	defer unsub()

	sent := []engine.Event{
		event("b1", engine.EventTaskStarted, "t1"),
		event("b1", engine.EventTaskCompleted, "t1"),
		event("b1", engine.EventTaskFailed, "t2"),
	}
	for _, ev := range sent {
		b.Publish(ev)
	}
	b.Close("b1")

	var got []engine.Event
	for ev := range ch {
		got = append(got, ev)
	}

	if len(got) != len(sent) {
		t.Fatalf("got %d events, want %d", len(got), len(sent))
	}
	for i, ev := range got {
		if ev.Type != sent[i].Type || ev.TaskID != sent[i].TaskID {
			t.Errorf("event[%d] = %s/%s, want %s/%s", i, ev.Type, ev.TaskID, sent[i].Type, sent[i].TaskID)
		}
	}
}

func TestEventBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewEventBroker()
	ch1, unsub1 := b.Subscribe("b1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("b1")
	defer unsub2()

	b.Publish(event("b1", engine.EventTaskStarted, "t1"))
	b.Close("b1")

	for i, ch := range []<-chan engine.Event{ch1, ch2} {
		var got []engine.Event
		for ev := range ch {
			got = append(got, ev)
		}
		if len(got) != 1 || got[0].TaskID != "t1" {
			t.Errorf("subscriber %d got %v, want one t1 event", i+1, got)
		}
	}
}

func TestEventBrokerLateSubscriber(t *testing.T) {
	b := engine.NewEventBroker()
	b.Close("b1")

	ch, unsub := b.Subscribe("b1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber channel should be closed")
	}
}

func TestEventBrokerTopicIsolation(t *testing.T) {
	b := engine.NewEventBroker()
	ch1, unsub1 := b.Subscribe("b1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("b2")
	defer unsub2()

	b.Publish(event("b1", engine.EventTaskStarted, "only-b1"))
	b.Close("b1")
	b.Close("b2")

	var got1, got2 int
	for range ch1 {
		got1++
	}
	for range ch2 {
		got2++
	}
	if got1 != 1 || got2 != 0 {
		t.Errorf("b1 got %d, b2 got %d; want 1 and 0", got1, got2)
	}
}

func TestEventBrokerDropsForSlowSubscriber(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("b1")
	defer unsub()

	// Publish far more than the buffer holds; Publish must not block.
	for range 500 {
		b.Publish(event("b1", engine.EventTaskStarted, "t"))
	}
	b.Close("b1")

	n := 0
	for range ch {
		n++
	}
	if n == 0 || n >= 500 {
		t.Errorf("received %d events, want some but not all", n)
	}
}

func TestEventBrokerUnsubscribe(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("b1")
	unsub()

	b.Publish(event("b1", engine.EventTaskStarted, "t1"))

	select {
	case ev := <-ch:
		t.Errorf("received %v after unsubscribe", ev)
	default:
	}
}

func TestEventBrokerPublishWithoutSubscribers(t *testing.T) {
	b := engine.NewEventBroker()
	b.Publish(event("nobody", engine.EventTaskStarted, "t1"))
	b.Close("nobody")
}

func TestEventBrokerEvictsClosedMarkers(t *testing.T) {
	b := engine.NewEventBrokerWithRetention(20 * time.Millisecond)
	b.Close("b1")
	b.Close("b1")

	ch, unsub := b.Subscribe("b1")
	if _, ok := <-ch; ok {
		t.Error("subscriber within retention should get a closed channel")
	}
	unsub()

	deadline := time.Now().Add(2 * time.Second)
	for b.Topics() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Topics() = %d after retention, want 0", b.Topics())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventBrokerDropsIdleTopicOnUnsubscribe(t *testing.T) {
	b := engine.NewEventBroker()
	_, unsub1 := b.Subscribe("b1")
	_, unsub2 := b.Subscribe("b1")

	unsub1()
	if got := b.Topics(); got != 1 {
		t.Errorf("Topics() = %d with one subscriber left, want 1", got)
	}
	unsub2()
	if got := b.Topics(); got != 0 {
		t.Errorf("Topics() = %d after last unsubscribe, want 0", got)
	}
}
