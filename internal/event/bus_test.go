package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

func TestEmitPriorityOrdering(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var order []string
	bus.Subscribe("x", func(Event) error { order = append(order, "low"); return nil }, 0)
	bus.Subscribe("x", func(Event) error { order = append(order, "high"); return nil }, 10)
	bus.Subscribe("x", func(Event) error { order = append(order, "low2"); return nil }, 0)

	bus.Emit(Event{Type: "x"})
	require.Equal(t, []string{"high", "low", "low2"}, order)
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	var seen []string
	bus := NewBus(func(eventType string, err error) {
		seen = append(seen, err.Error())
	})

	ran := false
	bus.Subscribe("x", func(Event) error { return errors.New("handler error") }, 5)
	bus.Subscribe("x", func(Event) error { panic("handler panic") }, 4)
	bus.Subscribe("x", func(Event) error { ran = true; return nil }, 3)

	bus.Emit(Event{Type: "x"})

	require.True(t, ran)
	require.Len(t, seen, 2)
	require.Equal(t, 2, bus.Statistics().HandlerFails["x"])
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	calls := 0
	id := bus.Subscribe("x", func(Event) error { calls++; return nil }, 0)

	bus.Emit(Event{Type: "x"})
	bus.Unsubscribe("x", id)
	bus.Emit(Event{Type: "x"})

	require.Equal(t, 1, calls)
	require.Equal(t, 2, bus.Statistics().Emitted["x"])
}

func TestRingBufferBounded(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	for i := 0; i < RingSize+10; i++ {
		bus.Emit(Event{Type: "tick", Data: map[string]any{"i": i}})
	}

	stats := bus.Statistics()
	require.Len(t, stats.Recent, RingSize)
	require.Equal(t, 10, stats.Recent[0].Data["i"])
	require.Equal(t, RingSize+9, stats.Recent[RingSize-1].Data["i"])
}

func TestNewEventInheritsAmbientTrace(t *testing.T) {
	restore := pipeline.PushTrace("feedfacefeedface")
	defer restore()

	ev := New(TypeSubscriptionFetched, "fetcher/url", "", nil)
	require.Equal(t, "feedfacefeedface", ev.TraceID)
	require.Equal(t, PriorityNormal, ev.Priority)
	require.NotEmpty(t, ev.ID)
	require.False(t, ev.Timestamp.IsZero())
}
