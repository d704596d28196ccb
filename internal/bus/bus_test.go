package bus

import (
	"sync"
	"testing"
	"time"

	"edr-agent/internal/schema"
)

func TestBus_PublishInvokesSubscriber(t *testing.T) {
	b := New(nil)
	var got schema.Event
	done := make(chan struct{})

	b.Subscribe(schema.KindProcessCreate, func(e schema.Event) {
		got = e
		close(done)
	})

	want := schema.NewEvent(schema.KindProcessCreate, 7, "x.exe", nil)
	b.Publish(want)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
	if got.PID != 7 {
		t.Errorf("handler got pid %d, want 7", got.PID)
	}
}

func TestBus_UnsubscribeIsIdempotentOnUnknownID(t *testing.T) {
	b := New(nil)
	b.Unsubscribe(SubscriptionID(999)) // must not panic
}

func TestBus_UnsubscribeRemovesHandler(t *testing.T) {
	b := New(nil)
	calls := 0
	id := b.Subscribe(schema.KindFileCreate, func(schema.Event) { calls++ })
	b.Unsubscribe(id)

	b.Publish(schema.NewEvent(schema.KindFileCreate, 1, "a", nil))
	if calls != 0 {
		t.Errorf("handler still invoked after Unsubscribe, calls=%d", calls)
	}
}

func TestBus_PublishOrderPerKind(t *testing.T) {
	b := New(nil)
	var order []int
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe(schema.KindNetworkConnect, func(schema.Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Publish(schema.NewEvent(schema.KindNetworkConnect, 1, "x", nil))

	for i, v := range order {
		if v != i {
			t.Fatalf("handlers fired out of registration order: %v", order)
		}
	}
}

func TestBus_HandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	b := New(nil)
	second := false

	b.Subscribe(schema.KindFileModify, func(schema.Event) { panic("boom") })
	b.Subscribe(schema.KindFileModify, func(schema.Event) { second = true })

	b.Publish(schema.NewEvent(schema.KindFileModify, 1, "x", nil))

	if !second {
		t.Error("a panicking handler must not prevent subsequent handlers from running")
	}
}

func TestBus_PublishAsyncFallsBackWithoutPool(t *testing.T) {
	b := New(nil)
	done := make(chan struct{})
	b.Subscribe(schema.KindProcessTerminate, func(schema.Event) { close(done) })

	b.PublishAsync(schema.NewEvent(schema.KindProcessTerminate, 1, "x", nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishAsync without an initialised pool should fall back to synchronous publish")
	}
}

func TestBus_PublishAsyncViaPool(t *testing.T) {
	b := New(nil)
	b.InitAsyncPool(2)
	defer b.ShutdownAsyncPool()

	done := make(chan struct{})
	b.Subscribe(schema.KindContainmentAction, func(schema.Event) { close(done) })

	b.PublishAsync(schema.NewEvent(schema.KindContainmentAction, 1, "x", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishAsync via pool never invoked the handler")
	}
}

func TestBus_ShutdownAsyncPoolDrainsPending(t *testing.T) {
	b := New(nil)
	b.InitAsyncPool(1)

	var mu sync.Mutex
	count := 0
	b.Subscribe(schema.KindIncidentStateChange, func(schema.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		b.PublishAsync(schema.NewEvent(schema.KindIncidentStateChange, i, "x", nil))
	}
	b.ShutdownAsyncPool()

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("ShutdownAsyncPool should drain all pending tasks, got %d/10", count)
	}
}

func TestBus_SubscriberCountAndClear(t *testing.T) {
	b := New(nil)
	b.Subscribe(schema.KindRegistryWrite, func(schema.Event) {})
	b.Subscribe(schema.KindRegistryWrite, func(schema.Event) {})

	if got := b.SubscriberCount(schema.KindRegistryWrite); got != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", got)
	}

	b.Clear()
	if got := b.SubscriberCount(schema.KindRegistryWrite); got != 0 {
		t.Fatalf("SubscriberCount after Clear = %d, want 0", got)
	}
}
