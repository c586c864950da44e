package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// MockPublisher logs events instead of publishing them. Used for local
// development without NATS.
type MockPublisher struct{}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (p *MockPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("room_id", event.RoomID).
		Msg("publishing event")
	return nil
}

// InlineRelay delivers events straight to an in-process sink. It is the relay
// for single-process deployments where room sessions live next to the
// orchestrator and there is no outbox table.
type InlineRelay struct {
	mu   sync.RWMutex
	sink Sink
}

func NewInlineRelay(sink Sink) *InlineRelay {
	return &InlineRelay{sink: sink}
}

// SetSink swaps the delivery target.
func (r *InlineRelay) SetSink(sink Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *InlineRelay) Publish(ctx context.Context, roomID, eventType string, payload []byte) error {
	r.mu.RLock()
	sink := r.sink
	r.mu.RUnlock()
	if sink == nil {
		return fmt.Errorf("inline relay has no sink")
	}
	if !json.Valid(payload) {
		return fmt.Errorf("event payload is not valid JSON")
	}

	sink.DispatchRelayEvent(ctx, roomID, eventType, json.RawMessage(payload))

	log.Debug().
		Str("room_id", roomID).
		Str("event_type", eventType).
		Msg("relay event delivered inline")
	return nil
}
