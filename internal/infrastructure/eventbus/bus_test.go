package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/service"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(service.EventDispatchReplied, "payload_data")
	if ev.Type() != service.EventDispatchReplied {
		t.Errorf("Type: got %q", ev.Type())
	}
	if ev.Payload().(string) != "payload_data" {
		t.Errorf("Payload: got %v", ev.Payload())
	}
	if ev.Timestamp().IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

func TestInMemoryBus_EmitDeliversPayload(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()

	var mu sync.Mutex
	var got []service.DispatchEvent
	bus.Subscribe(service.EventDispatchReplied, func(ctx context.Context, ev Event) {
		mu.Lock()
		got = append(got, ev.Payload().(service.DispatchEvent))
		mu.Unlock()
	})

	var emitter service.EventEmitter = bus
	emitter.Emit(context.Background(), service.EventDispatchReplied, service.DispatchEvent{MessageID: "evt-1", AgentName: "alice"})
	emitter.Emit(context.Background(), service.EventDispatchFailed, service.DispatchEvent{MessageID: "evt-2"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	if got[0].MessageID != "evt-1" || got[0].AgentName != "alice" {
		t.Errorf("payload = %+v", got[0])
	}
}

func TestInMemoryBus_WildcardSubscriber(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 100)
	defer bus.Close()

	var received atomic.Int32
	bus.Subscribe(Wildcard, func(ctx context.Context, ev Event) {
		received.Add(1)
	})

	bus.Emit(context.Background(), service.EventDispatchReplied, nil)
	bus.Emit(context.Background(), service.EventDispatchSkipped, nil)
	bus.Emit(context.Background(), service.EventIdentityReserved, nil)

	waitFor(t, func() bool { return received.Load() == 3 })
}

func TestInMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 16)

	var first, second atomic.Int32
	unsubFirst := bus.Subscribe("x", func(context.Context, Event) { first.Add(1) })
	bus.Subscribe("x", func(context.Context, Event) { second.Add(1) })

	unsubFirst()
	unsubFirst() // idempotent

	bus.Emit(context.Background(), "x", nil)
	bus.Close()

	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("first = %d, second = %d; only the cancelled handler must stop", first.Load(), second.Load())
	}
}

func TestInMemoryBus_PanicRecovery(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 16)

	var healthy atomic.Int32
	bus.Subscribe("x", func(context.Context, Event) { panic("boom") })
	bus.Subscribe("x", func(context.Context, Event) { healthy.Add(1) })

	bus.Emit(context.Background(), "x", nil)
	bus.Emit(context.Background(), "x", nil)
	bus.Close()

	if healthy.Load() != 2 {
		t.Errorf("healthy handler ran %d times, want 2", healthy.Load())
	}
}

func TestInMemoryBus_CloseDrainsAndIsIdempotent(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 64)

	var received atomic.Int32
	bus.Subscribe("x", func(context.Context, Event) { received.Add(1) })
	for i := 0; i < 20; i++ {
		bus.Emit(context.Background(), "x", i)
	}
	bus.Close()
	bus.Close()

	if received.Load() != 20 {
		t.Errorf("received %d, Close must drain queued events", received.Load())
	}
	bus.Emit(context.Background(), "x", nil) // after close: dropped, no panic
}

func TestInMemoryBus_CancelledContextStillDelivers(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 8)

	var ctxErr atomic.Value
	bus.Subscribe("x", func(ctx context.Context, _ Event) { ctxErr.Store(ctx.Err() == nil) })

	ctx, cancel := context.WithCancel(context.Background())
	bus.Emit(ctx, "x", nil)
	cancel()
	bus.Close()

	if v, _ := ctxErr.Load().(bool); !v {
		t.Error("handlers must not observe the publisher's cancellation")
	}
}

func TestInMemoryBus_BufferFullDrops(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 1)

	release := make(chan struct{})
	var received atomic.Int32
	bus.Subscribe("x", func(context.Context, Event) {
		<-release
		received.Add(1)
	})

	for i := 0; i < 10; i++ {
		bus.Emit(context.Background(), "x", i)
	}
	close(release)
	bus.Close()

	if n := received.Load(); n >= 10 || n == 0 {
		t.Errorf("received %d, expected some events dropped with a 1-slot buffer", n)
	}
}
