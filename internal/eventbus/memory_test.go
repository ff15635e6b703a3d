package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tripflow/internal/contracts"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMemoryBusDeliversToEverySubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus("test", 10*time.Millisecond)
	defer bus.Close()

	var mu sync.Mutex
	got := map[string]int{}
	record := func(group string) Handler {
		return func(_ context.Context, env Envelope) error {
			mu.Lock()
			got[group]++
			mu.Unlock()
			return nil
		}
	}
	if err := bus.Subscribe(ctx, contracts.TripStarted, "orchestrator", record("orchestrator")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Subscribe(ctx, contracts.TripStarted, "analytics", record("analytics")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(ctx, contracts.TripStarted, contracts.TripStartedPayload{TripID: "t1"}, ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["orchestrator"] == 1 && got["analytics"] == 1
	})
}

func TestMemoryBusPreservesPublishOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus("test", 10*time.Millisecond)
	defer bus.Close()

	var mu sync.Mutex
	var order []string
	err := bus.Subscribe(ctx, contracts.TripStarted, "orchestrator", func(_ context.Context, env Envelope) error {
		var p contracts.TripStartedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		mu.Lock()
		order = append(order, p.TripID)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := []string{"t1", "t2", "t3", "t4", "t5"}
	for _, id := range want {
		if err := bus.Publish(ctx, contracts.TripStarted, contracts.TripStartedPayload{TripID: id}, ""); err != nil {
			t.Fatalf("Publish %s: %v", id, err)
		}
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", order, want)
		}
	}
}

func TestMemoryBusRequeuesOnceThenDeadLetters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus("test", 5*time.Millisecond)
	defer bus.Close()

	var mu sync.Mutex
	attempts := 0
	err := bus.Subscribe(ctx, contracts.TripStarted, "orchestrator", func(_ context.Context, env Envelope) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("handler down")
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(ctx, contracts.TripStarted, contracts.TripStartedPayload{TripID: "t1"}, ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return bus.Counters().DeadLettered.Load() == 1
	})

	mu.Lock()
	if attempts != 2 {
		t.Errorf("handler ran %d times, want 2", attempts)
	}
	mu.Unlock()

	dead := bus.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].Name != contracts.TripStarted {
		t.Errorf("dead letter kind = %s", dead[0].Name)
	}
	if got := bus.Counters().Requeued.Load(); got != 1 {
		t.Errorf("requeued counter = %d, want 1", got)
	}
}

func TestMemoryBusRecoversOnSecondAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus("test", 5*time.Millisecond)
	defer bus.Close()

	var mu sync.Mutex
	attempts := 0
	err := bus.Subscribe(ctx, contracts.TripStarted, "orchestrator", func(_ context.Context, env Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(ctx, contracts.TripStarted, contracts.TripStartedPayload{TripID: "t1"}, ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return bus.Counters().Delivered.Load() == 1
	})
	if got := bus.Counters().DeadLettered.Load(); got != 0 {
		t.Errorf("dead lettered = %d, want 0", got)
	}
}

func TestMemoryBusPublishRejectsInvalidPayload(t *testing.T) {
	bus := NewMemoryBus("test", time.Millisecond)
	defer bus.Close()

	err := bus.Publish(context.Background(), contracts.TripStarted, map[string]any{"bogus": true}, "")
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("got %v, want *PublishError", err)
	}
	if pubErr.Kind != PublishSchemaInvalid {
		t.Errorf("Kind = %s, want %s", pubErr.Kind, PublishSchemaInvalid)
	}
	if pubErr.Retriable() {
		t.Error("schema failure must not be retriable")
	}
	if got := bus.Counters().SchemaFailures.Load(); got != 1 {
		t.Errorf("schema failures = %d, want 1", got)
	}
	if got := bus.Counters().Published.Load(); got != 0 {
		t.Errorf("published = %d, want 0", got)
	}
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	bus := NewMemoryBus("test", time.Millisecond)
	bus.Close()

	err := bus.Publish(context.Background(), contracts.TripStarted, contracts.TripStartedPayload{TripID: "t1"}, "")
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("got %v, want *PublishError", err)
	}
	if pubErr.Kind != PublishConnectionLost {
		t.Errorf("Kind = %s, want %s", pubErr.Kind, PublishConnectionLost)
	}
	if !pubErr.Retriable() {
		t.Error("connection loss should be retriable")
	}
}
