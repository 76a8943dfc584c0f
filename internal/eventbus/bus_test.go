package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	got := map[string]int{}
	handler := func(e Event) {
		mu.Lock()
		got[e.SwitchID]++
		mu.Unlock()
		wg.Done()
	}
	b.Subscribe(EventTypeManual, handler)
	b.Subscribe(EventTypeSchedule, func(Event) { t.Error("schedule handler must not receive manual events") })

	if !b.Publish(Event{Type: EventTypeManual, SwitchID: "pump"}) {
		t.Fatal("publish reported a drop")
	}
	if !b.Publish(Event{Type: EventTypeManual, SwitchID: "fan"}) {
		t.Fatal("publish reported a drop")
	}

	waitTimeout(t, &wg)
	if got["pump"] != 1 || got["fan"] != 1 {
		t.Errorf("deliveries = %v", got)
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	b := NewWithConfig(1, 1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	b.Subscribe(EventTypeSchedule, func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	b.Publish(Event{Type: EventTypeSchedule}) // picked up by the worker
	<-started
	b.Publish(Event{Type: EventTypeSchedule}) // fills the queue
	if b.Publish(Event{Type: EventTypeSchedule}) {
		t.Error("expected drop on full queue")
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}

	close(release)
	b.Close(context.Background())
}

func TestBus_RecoversFromPanic(t *testing.T) {
	b := NewWithConfig(1, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(EventTypeSchedule, func(e Event) {
		if e.SwitchID == "boom" {
			panic("handler failure")
		}
		wg.Done()
	})

	b.Publish(Event{Type: EventTypeSchedule, SwitchID: "boom"})
	b.Publish(Event{Type: EventTypeSchedule, SwitchID: "ok"})
	waitTimeout(t, &wg)
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := NewWithConfig(1, 10)
	b.Subscribe(EventTypeManual, func(Event) {})
	b.Close(context.Background())
	b.Close(context.Background())

	if b.Publish(Event{Type: EventTypeManual}) {
		t.Error("publish after close must fail")
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
