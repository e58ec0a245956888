// Package presence maintains the live membership view of a team's topic.
package presence

import (
	"sync"

	"go.uber.org/zap"

	"trivia-live/internal/domain"
	"trivia-live/internal/pubsub"
)

// OnMembersChanged fires on every authoritative sync with the full list.
type OnMembersChanged func(members []domain.PresenceRecord)

// Tracker consumes presence events from a team topic. Sync signals are the
// source of truth and replace the local view wholesale (last-sync-wins);
// join/leave signals are advisory and only logged. A dropped peer simply
// disappears from the next sync; the tracker owns no heartbeat timeout.
type Tracker struct {
	log      *zap.Logger
	onChange OnMembersChanged

	mu      sync.RWMutex
	members []domain.PresenceRecord
}

func NewTracker(onChange OnMembersChanged, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{log: log, onChange: onChange}
}

// Handle is the pubsub.Handler wired to the team presence topic.
func (t *Tracker) Handle(ev pubsub.Event) {
	switch ev.Kind {
	case domain.EventPresenceSync:
		payload, err := ev.Decode()
		if err != nil {
			t.log.Warn("dropping malformed presence sync", zap.String("topic", ev.Topic), zap.Error(err))
			return
		}
		sync := payload.(domain.PresenceSyncPayload)
		t.mu.Lock()
		t.members = sync.Members
		t.mu.Unlock()
		if t.onChange != nil {
			t.onChange(sync.Members)
		}
	case domain.EventPresenceJoined, domain.EventPresenceLeft:
		// Advisory only; the next sync is authoritative.
		t.log.Debug("presence change signal", zap.String("topic", ev.Topic), zap.String("kind", string(ev.Kind)))
	default:
		t.log.Debug("ignoring non-presence event", zap.String("kind", string(ev.Kind)))
	}
}

// Members returns the membership as of the last sync.
func (t *Tracker) Members() []domain.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.PresenceRecord, len(t.members))
	copy(out, t.members)
	return out
}
