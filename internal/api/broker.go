package api

import (
	"sync"
)

// SSEEvent is one dispatch event pushed to live listeners, keyed by date.
type SSEEvent struct {
	Type string
	Data map[string]any
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // date -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(date string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[date] == nil {
		b.subs[date] = map[chan SSEEvent]struct{}{}
	}
	b.subs[date][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(date string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[date]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, date)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(date string, evt SSEEvent) {
	b.mu.Lock()
	for ch := range b.subs[date] {
		select {
		case ch <- evt:
		default: // slow listener, drop rather than block dispatch
		}
	}
	b.mu.Unlock()
}
