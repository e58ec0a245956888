package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trivia-live/internal/domain"
	"trivia-live/internal/pubsub"
)

// Bus implements pubsub.Bus on Redis Pub/Sub. Each topic maps to one Redis
// channel, which gives subscribers publish-order delivery per topic.
// Presence-mode topics keep their membership in a Redis hash next to the
// channel so any instance can emit a full sync.
type Bus struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBus(client *redis.Client, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{client: client, log: log}
}

type subscription struct {
	ps       *redis.PubSub
	cancel   context.CancelFunc
	ready    chan struct{}
	readyErr error
	closed   chan struct{}
	once     sync.Once
}

func (s *subscription) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.readyErr
	case <-s.closed:
		return domain.ErrChannelClosed
	case <-ctx.Done():
		return domain.ErrSubscriptionTimeout
	}
}

func (s *subscription) Closed() <-chan struct{} { return s.closed }

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

func (b *Bus) Subscribe(_ context.Context, topic, clientID string, h pubsub.Handler) (pubsub.Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		ps:     b.client.Subscribe(subCtx, topic),
		cancel: cancel,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go b.run(subCtx, sub, topic, clientID, h)
	return sub, nil
}

func (b *Bus) run(ctx context.Context, sub *subscription, topic, clientID string, h pubsub.Handler) {
	defer func() {
		_ = sub.ps.Close()
		close(sub.closed)
	}()

	if _, err := sub.ps.Receive(ctx); err != nil {
		sub.readyErr = fmt.Errorf("subscribe %s: %w", topic, err)
		close(sub.ready)
		return
	}
	close(sub.ready)

	ch := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := pubsub.DecodeWire(topic, []byte(msg.Payload))
			if err != nil {
				// Malformed payloads are dropped, never fatal to the subscription.
				b.log.Warn("dropping malformed topic payload",
					zap.String("topic", topic), zap.Error(err))
				continue
			}
			if ev.SenderID != "" && ev.SenderID == clientID {
				continue
			}
			h(ev)
		}
	}
}

func (b *Bus) Publish(ctx context.Context, topic, senderID string, kind domain.EventKind, payload any) error {
	data, err := pubsub.Encode(kind, senderID, payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s on %s: %w", kind, topic, err)
	}
	return nil
}

// Track stores the member record in the topic's presence hash, then emits
// an advisory join signal and an authoritative full-membership sync.
func (b *Bus) Track(ctx context.Context, topic string, rec domain.PresenceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}
	if err := b.client.HSet(ctx, presenceKey(topic), rec.PlayerID, raw).Err(); err != nil {
		return fmt.Errorf("track %s on %s: %w", rec.PlayerID, topic, err)
	}
	if err := b.Publish(ctx, topic, "", domain.EventPresenceJoined, domain.PresenceChangePayload{Member: rec}); err != nil {
		return err
	}
	return b.publishSync(ctx, topic)
}

// Untrack removes the member from the presence hash and emits a fresh sync.
func (b *Bus) Untrack(ctx context.Context, topic, playerID string) error {
	removed, err := b.client.HDel(ctx, presenceKey(topic), playerID).Result()
	if err != nil {
		return fmt.Errorf("untrack %s on %s: %w", playerID, topic, err)
	}
	if removed > 0 {
		payload := domain.PresenceChangePayload{Member: domain.PresenceRecord{PlayerID: playerID}}
		if err := b.Publish(ctx, topic, "", domain.EventPresenceLeft, payload); err != nil {
			return err
		}
	}
	return b.publishSync(ctx, topic)
}

func (b *Bus) publishSync(ctx context.Context, topic string) error {
	fields, err := b.client.HGetAll(ctx, presenceKey(topic)).Result()
	if err != nil {
		return fmt.Errorf("read presence for %s: %w", topic, err)
	}
	members := make([]domain.PresenceRecord, 0, len(fields))
	for playerID, raw := range fields {
		var rec domain.PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			b.log.Warn("skipping corrupt presence record",
				zap.String("topic", topic), zap.String("player_id", playerID), zap.Error(err))
			continue
		}
		members = append(members, rec)
	}
	return b.Publish(ctx, topic, "", domain.EventPresenceSync, domain.PresenceSyncPayload{Members: members})
}

func presenceKey(topic string) string {
	return "presence:" + topic
}
