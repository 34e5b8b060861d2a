package events

import (
	"sync"
	"testing"
	"time"
)

// collector gathers events across the bus's dispatch goroutines.
type collector struct {
	mu     sync.Mutex
	events []Event
	seen   chan struct{}
}

func newCollector(expected int) *collector {
	return &collector{seen: make(chan struct{}, expected)}
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestSubscribeReceivesOnlyItsType(t *testing.T) {
	bus := NewBus()
	opened := newCollector(4)
	bus.Subscribe(EventPositionOpened, opened.handle)

	bus.PublishPositionOpened("BTCUSDT", "SHORT", "BTC", 100, 102)
	bus.PublishPositionClosed("BTCUSDT", "CLOSED_STOP", "stop touched", -2, 3)

	got := opened.wait(t, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Type != EventPositionOpened {
		t.Errorf("expected POSITION_OPENED, got %s", got[0].Type)
	}
	if got[0].Data["symbol"] != "BTCUSDT" {
		t.Errorf("expected symbol in payload, got %v", got[0].Data["symbol"])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("publish must stamp the event")
	}
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := NewBus()
	all := newCollector(4)
	bus.SubscribeAll(all.handle)

	bus.PublishSignal("BTCUSDT", "SHORT", 8.2, true, "")
	bus.PublishSignal("ETHUSDT", "LONG", 3.1, false, "score_below_minimum")
	bus.PublishError("engine", "backfill failed", nil)

	got := all.wait(t, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}

	types := map[EventType]bool{}
	for _, ev := range got {
		types[ev.Type] = true
	}
	for _, want := range []EventType{EventSignalAccepted, EventSignalRejected, EventError} {
		if !types[want] {
			t.Errorf("missing %s in broadcast set", want)
		}
	}
}

func TestLifecycleHelpersCarryTheirPayloads(t *testing.T) {
	bus := NewBus()
	partial := newCollector(4)
	pools := newCollector(4)
	rebuilt := newCollector(4)
	bus.Subscribe(EventPositionPartial, partial.handle)
	bus.Subscribe(EventUniverseUpdated, pools.handle)
	bus.Subscribe(EventClusterRebuilt, rebuilt.handle)

	bus.PublishPositionPartial("BTCUSDT", "SHORT", 98, 95)
	bus.PublishUniverseUpdated(12, 30, 4)
	bus.PublishClusterRebuilt(3, 42)

	got := partial.wait(t, 1)
	if got[0].Data["symbol"] != "BTCUSDT" || got[0].Data["fill_price"] != 98.0 {
		t.Errorf("unexpected partial payload: %v", got[0].Data)
	}

	got = pools.wait(t, 1)
	if got[0].Data["hot"] != 12 || got[0].Data["filtered"] != 4 {
		t.Errorf("unexpected universe payload: %v", got[0].Data)
	}

	got = rebuilt.wait(t, 1)
	if got[0].Data["clusters"] != 3 || got[0].Data["symbols"] != 42 {
		t.Errorf("unexpected cluster payload: %v", got[0].Data)
	}
}
