package events_test

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/events"
)

func TestSubscribeReceivesOnlyItsEventType(t *testing.T) {
	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(time.Second) })

	var mu sync.Mutex
	var got []events.EventType

	bus.Subscribe(events.EventRiskViolation, func(ev events.Event) {
		mu.Lock()
		got = append(got, ev.Type())
		mu.Unlock()
	})

	bus.Publish(events.NewRiskViolationEvent("strat-1", "drawdown", "high"))
	bus.Publish(events.NewEmergencyStopEvent("strat-1", "drawdown"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 delivered event, got %d: %+v", len(got), got)
	}
	if got[0] != events.EventRiskViolation {
		t.Fatalf("expected risk violation event, got %s", got[0])
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(time.Second) })

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(ev events.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(events.NewScanCompletedEvent(3, nil))
	bus.Publish(events.NewEmergencyStopEvent("strat-1", "drawdown"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := count
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("expected 2 delivered events, got %d", count)
	}
}

func TestPublishSyncDeliversBeforeReturning(t *testing.T) {
	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())

	delivered := false
	bus.SubscribeAll(func(ev events.Event) { delivered = true })

	bus.PublishSync(events.NewScanCompletedEvent(1, nil))
	if !delivered {
		t.Fatal("expected synchronous delivery before PublishSync returns")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(time.Second) })

	var mu sync.Mutex
	count := 0
	sub := bus.SubscribeAll(func(ev events.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	sub.Unsubscribe()

	bus.Publish(events.NewScanCompletedEvent(1, nil))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}
