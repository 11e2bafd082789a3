package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrokerPublishIsDateScoped(t *testing.T) {
	b := NewBroker()
	ch1 := b.Subscribe("2025-10-20")
	ch2 := b.Subscribe("2025-10-21")
	defer b.Unsubscribe("2025-10-21", ch2)

	b.Publish("2025-10-20", SSEEvent{Type: "run.completed", Data: map[string]any{"assigned": 3}})

	select {
	case evt := <-ch1:
		assert.Equal(t, "run.completed", evt.Type)
	default:
		t.Fatal("subscriber for the date should receive the event")
	}
	select {
	case evt := <-ch2:
		t.Fatalf("other date received %+v", evt)
	default:
	}
	b.Unsubscribe("2025-10-20", ch1)

	// Publishing to a date with no listeners is a no-op.
	b.Publish("2025-10-20", SSEEvent{Type: "run.completed"})
}

func TestBrokerDropsWhenListenerFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("2025-10-20")
	defer b.Unsubscribe("2025-10-20", ch)

	// Channel buffer is bounded; overfilling must not block the publisher.
	for i := 0; i < 50; i++ {
		b.Publish("2025-10-20", SSEEvent{Type: "order.assigned"})
	}
	if len(ch) == 0 || len(ch) > cap(ch) {
		t.Fatalf("buffered = %d, cap = %d", len(ch), cap(ch))
	}
}
