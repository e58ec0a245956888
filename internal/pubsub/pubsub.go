// Package pubsub defines the typed topic layer the game runs on. The host
// writes lifecycle transitions to a game topic, every other role reads
// them; TV ticks and team presence ride their own topics. Messages on one
// topic arrive in publish order; nothing is guaranteed across topics.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trivia-live/internal/domain"
)

// Topic name families, fixed per session.
func GameTopic(sessionID string) string { return "game:" + sessionID }
func TVTopic(sessionID string) string   { return "tv:" + sessionID }
func TeamPresenceTopic(teamID string) string {
	return "team:" + teamID + ":presence"
}

// Event is one delivered message. Payload stays raw until the consumer
// dispatches it through domain.DecodeEvent.
type Event struct {
	Topic    string
	Kind     domain.EventKind
	SenderID string
	Payload  json.RawMessage
	At       time.Time
}

// Decode resolves the payload into its concrete variant.
func (e Event) Decode() (any, error) {
	return domain.DecodeEvent(e.Kind, e.Payload)
}

// Handler consumes events delivered on a subscription. Handlers run on the
// subscription's delivery goroutine and must not block.
type Handler func(Event)

// Subscription is one client's attachment to a topic.
type Subscription interface {
	// Ready blocks until the subscription is confirmed or ctx expires,
	// returning domain.ErrSubscriptionTimeout on expiry.
	Ready(ctx context.Context) error
	// Closed is signalled when the transport drops the subscription.
	Closed() <-chan struct{}
	// Unsubscribe releases the subscription. Safe to call repeatedly and
	// before the subscription ever reached ready.
	Unsubscribe()
}

// Bus opens topics by name. Publish is fire-and-forget: it does not
// confirm subscriber receipt. A subscriber never receives its own
// publishes (self-echo suppression keyed on clientID), except presence
// sync signals, which are system-sent and delivered to everyone.
type Bus interface {
	Subscribe(ctx context.Context, topic, clientID string, h Handler) (Subscription, error)
	Publish(ctx context.Context, topic, senderID string, kind domain.EventKind, payload any) error
	// Track announces a member on a presence-mode topic and triggers a
	// full-membership sync to all subscribers.
	Track(ctx context.Context, topic string, rec domain.PresenceRecord) error
	// Untrack removes a member and triggers a sync.
	Untrack(ctx context.Context, topic, playerID string) error
}

// envelope is the wire form shared by the bus implementations.
type envelope struct {
	Kind     domain.EventKind `json:"kind"`
	SenderID string           `json:"sender_id,omitempty"`
	Payload  json.RawMessage  `json:"payload"`
	At       time.Time        `json:"at"`
}

// Encode marshals an event for the wire.
func Encode(kind domain.EventKind, senderID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{
		Kind:     kind,
		SenderID: senderID,
		Payload:  raw,
		At:       time.Now().UTC(),
	})
}

// DecodeWire parses a wire message back into an Event.
func DecodeWire(topic string, data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Kind == "" {
		return Event{}, fmt.Errorf("envelope missing kind")
	}
	return Event{
		Topic:    topic,
		Kind:     env.Kind,
		SenderID: env.SenderID,
		Payload:  env.Payload,
		At:       env.At,
	}, nil
}
