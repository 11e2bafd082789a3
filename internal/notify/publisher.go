// Package notify dispatches post-commitment notifications (SMS/chat gateway
// endpoints registered as subscriptions). Delivery is queued and retried in
// the background; a delivery failure never rolls back a commitment.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dispatchd/internal/store"
)

// Event types emitted by the dispatcher.
const (
	EventOrderAssigned = "order.assigned"
	EventRunCompleted  = "run.completed"
	EventChainWarning  = "chain.warning"
	EventDateReset     = "date.reset"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues one delivery per matching subscription. Errors are swallowed:
// notification is best effort and must not fail the caller.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueDelivery(ctx, s.ID, eventType, s.URL, s.Secret, body)
	}
}
