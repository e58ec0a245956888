// Package gamesync composes the topic subscriptions one observing client
// needs into a single lifecycle: the game topic, the TV topic, and
// optionally the client's team presence topic. Received events queue in
// arrival order for the consumer to drain. Topic history is never
// replayed; a reconnecting client polls the current session snapshot to
// catch up.
package gamesync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trivia-live/internal/domain"
	"trivia-live/internal/presence"
	"trivia-live/internal/pubsub"
)

const (
	defaultSubscribeTimeout = 750 * time.Millisecond
	defaultQueueSize        = 64
)

// Options configure one client's session attachment.
type Options struct {
	SessionID string
	// TeamID enables the team presence topic. PlayerID and DisplayName
	// are tracked on it once the subscription is ready.
	TeamID      string
	PlayerID    string
	DisplayName string
	// ClientID keys self-echo suppression; defaults to a fresh UUID.
	ClientID string
	// SubscribeTimeout bounds the wait for a topic to reach the
	// subscribed state. Defaults to 750ms.
	SubscribeTimeout time.Duration
	// OnMembersChanged fires on every presence sync for the team topic.
	OnMembersChanged presence.OnMembersChanged
}

// Session is the per-client synchronization facade.
type Session struct {
	bus     pubsub.Bus
	opts    Options
	log     *zap.Logger
	tracker *presence.Tracker

	events    chan pubsub.Event
	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs []pubsub.Subscription
}

// Open attaches a client to its session topics. The game topic is managed
// by a resubscribe loop: if it fails to reach ready within the bounded
// wait, or drops later, Connected reports false and the facade keeps
// retrying until Close.
func Open(ctx context.Context, bus pubsub.Bus, opts Options, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = defaultSubscribeTimeout
	}

	s := &Session{
		bus:    bus,
		opts:   opts,
		log:    log.With(zap.String("session_id", opts.SessionID), zap.String("client_id", opts.ClientID)),
		events: make(chan pubsub.Event, defaultQueueSize),
		done:   make(chan struct{}),
	}

	tvSub, err := bus.Subscribe(ctx, pubsub.TVTopic(opts.SessionID), opts.ClientID, s.enqueue)
	if err != nil {
		return nil, err
	}
	s.addSub(tvSub)

	if opts.TeamID != "" {
		s.tracker = presence.NewTracker(opts.OnMembersChanged, s.log)
		topic := pubsub.TeamPresenceTopic(opts.TeamID)
		teamSub, err := bus.Subscribe(ctx, topic, opts.ClientID, func(ev pubsub.Event) {
			s.tracker.Handle(ev)
			s.enqueue(ev)
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.addSub(teamSub)
		go s.trackSelf(teamSub, topic)
	}

	go s.maintainGameTopic()
	return s, nil
}

// Events is the arrival-order queue of everything received on the three
// topics. Consumers must tolerate cross-topic reordering; only events from
// the same topic arrive in publish order.
func (s *Session) Events() <-chan pubsub.Event { return s.events }

// Connected is true only while the primary game topic is subscribed.
func (s *Session) Connected() bool { return s.connected.Load() }

// Members is the team membership as of the last presence sync.
func (s *Session) Members() []domain.PresenceRecord {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Members()
}

// Done is signalled once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close releases all subscriptions and untracks presence. Safe to call
// repeatedly, and safe even if a subscription never reached ready.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.opts.TeamID != "" && s.opts.PlayerID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.SubscribeTimeout)
			if err := s.bus.Untrack(ctx, pubsub.TeamPresenceTopic(s.opts.TeamID), s.opts.PlayerID); err != nil {
				s.log.Warn("untrack failed", zap.Error(err))
			}
			cancel()
		}
		s.mu.Lock()
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	})
}

func (s *Session) maintainGameTopic() {
	topic := pubsub.GameTopic(s.opts.SessionID)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		sub, err := s.bus.Subscribe(context.Background(), topic, s.opts.ClientID, s.enqueue)
		if err != nil {
			s.log.Warn("game topic subscribe failed", zap.Error(err))
			if !s.waitRetry() {
				return
			}
			continue
		}

		readyCtx, cancel := context.WithTimeout(context.Background(), s.opts.SubscribeTimeout)
		err = sub.Ready(readyCtx)
		cancel()
		if err != nil {
			s.log.Warn("game topic not ready", zap.Error(err))
			sub.Unsubscribe()
			if !s.waitRetry() {
				return
			}
			continue
		}

		s.connected.Store(true)
		s.log.Info("game topic subscribed")

		select {
		case <-s.done:
			s.connected.Store(false)
			sub.Unsubscribe()
			return
		case <-sub.Closed():
			s.connected.Store(false)
			s.log.Warn("game topic dropped, resubscribing")
		}
	}
}

func (s *Session) trackSelf(sub pubsub.Subscription, topic string) {
	readyCtx, cancel := context.WithTimeout(context.Background(), s.opts.SubscribeTimeout)
	defer cancel()
	if err := sub.Ready(readyCtx); err != nil {
		s.log.Warn("presence topic not ready, skipping track", zap.Error(err))
		return
	}
	rec := domain.PresenceRecord{
		PlayerID:    s.opts.PlayerID,
		DisplayName: s.opts.DisplayName,
		OnlineAt:    time.Now().UTC(),
	}
	if err := s.bus.Track(context.Background(), topic, rec); err != nil {
		s.log.Warn("presence track failed", zap.Error(err))
	}
}

func (s *Session) waitRetry() bool {
	select {
	case <-s.done:
		return false
	case <-time.After(s.opts.SubscribeTimeout):
		return true
	}
}

// enqueue buffers an event, dropping the oldest when the consumer lags.
func (s *Session) enqueue(ev pubsub.Event) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (s *Session) addSub(sub pubsub.Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}
