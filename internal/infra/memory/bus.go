package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"trivia-live/internal/domain"
	"trivia-live/internal/pubsub"
)

// Bus is the in-process pubsub.Bus: per-topic subscriber sets plus a
// presence map per presence-mode topic. Used for redis-less runs and for
// unit tests; it honors the same contract as the redis bus, including
// per-topic publish ordering and self-echo suppression.
type Bus struct {
	log *zap.Logger

	mu       sync.RWMutex
	subs     map[string]map[*subscription]struct{}
	presence map[string]map[string]domain.PresenceRecord
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:      log,
		subs:     make(map[string]map[*subscription]struct{}),
		presence: make(map[string]map[string]domain.PresenceRecord),
	}
}

type subscription struct {
	bus      *Bus
	topic    string
	clientID string
	ch       chan pubsub.Event
	closed   chan struct{}
	once     sync.Once
}

func (s *subscription) Ready(_ context.Context) error {
	select {
	case <-s.closed:
		return domain.ErrChannelClosed
	default:
		return nil
	}
}

func (s *subscription) Closed() <-chan struct{} { return s.closed }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.topic]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.topic)
			}
		}
		close(s.ch)
		s.bus.mu.Unlock()
		close(s.closed)
	})
}

func (b *Bus) Subscribe(_ context.Context, topic, clientID string, h pubsub.Handler) (pubsub.Subscription, error) {
	sub := &subscription{
		bus:      b,
		topic:    topic,
		clientID: clientID,
		ch:       make(chan pubsub.Event, 32),
		closed:   make(chan struct{}),
	}
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			h(ev)
		}
	}()
	return sub, nil
}

func (b *Bus) Publish(_ context.Context, topic, senderID string, kind domain.EventKind, payload any) error {
	data, err := pubsub.Encode(kind, senderID, payload)
	if err != nil {
		return err
	}
	ev, err := pubsub.DecodeWire(topic, data)
	if err != nil {
		return err
	}
	b.deliver(ev)
	return nil
}

func (b *Bus) deliver(ev pubsub.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[ev.Topic] {
		if ev.SenderID != "" && sub.clientID == ev.SenderID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber; drop rather than block the topic.
			b.log.Warn("dropping event for slow subscriber",
				zap.String("topic", ev.Topic), zap.String("kind", string(ev.Kind)))
		}
	}
}

// Track records a member on a presence-mode topic, then emits an advisory
// join signal and an authoritative full-membership sync to all subscribers.
func (b *Bus) Track(ctx context.Context, topic string, rec domain.PresenceRecord) error {
	b.mu.Lock()
	if b.presence[topic] == nil {
		b.presence[topic] = make(map[string]domain.PresenceRecord)
	}
	b.presence[topic][rec.PlayerID] = rec
	members := b.membersLocked(topic)
	b.mu.Unlock()

	if err := b.Publish(ctx, topic, "", domain.EventPresenceJoined, domain.PresenceChangePayload{Member: rec}); err != nil {
		return err
	}
	return b.Publish(ctx, topic, "", domain.EventPresenceSync, domain.PresenceSyncPayload{Members: members})
}

// Untrack removes a member and emits a leave signal plus a fresh sync.
func (b *Bus) Untrack(ctx context.Context, topic, playerID string) error {
	b.mu.Lock()
	rec, existed := b.presence[topic][playerID]
	delete(b.presence[topic], playerID)
	if len(b.presence[topic]) == 0 {
		delete(b.presence, topic)
	}
	members := b.membersLocked(topic)
	b.mu.Unlock()

	if existed {
		if err := b.Publish(ctx, topic, "", domain.EventPresenceLeft, domain.PresenceChangePayload{Member: rec}); err != nil {
			return err
		}
	}
	return b.Publish(ctx, topic, "", domain.EventPresenceSync, domain.PresenceSyncPayload{Members: members})
}

func (b *Bus) membersLocked(topic string) []domain.PresenceRecord {
	members := make([]domain.PresenceRecord, 0, len(b.presence[topic]))
	for _, rec := range b.presence[topic] {
		members = append(members, rec)
	}
	return members
}
