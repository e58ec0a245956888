package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind tags the closed set of broadcast event variants.
type EventKind string

const (
	EventGameStarted        EventKind = "game_started"
	EventGamePaused         EventKind = "game_paused"
	EventGameResumed        EventKind = "game_resumed"
	EventQuestionAdvanced   EventKind = "question_advanced"
	EventAnswerRevealed     EventKind = "answer_revealed"
	EventGameCompleted      EventKind = "game_completed"
	EventAnswerCountUpdated EventKind = "answer_count_updated"
	EventPresenceSync       EventKind = "presence_sync"
	EventPresenceJoined     EventKind = "presence_joined"
	EventPresenceLeft       EventKind = "presence_left"
)

// GameStartedPayload announces the transition out of the lobby.
type GameStartedPayload struct {
	SessionID string         `json:"sessionId"`
	State     LifecycleState `json:"state"`
	Position  Position       `json:"position"`
}

// GamePausedPayload freezes client-visible timers; position is unchanged.
type GamePausedPayload struct {
	SessionID string `json:"sessionId"`
}

// GameResumedPayload unfreezes client-visible timers.
type GameResumedPayload struct {
	SessionID string `json:"sessionId"`
}

// QuestionAdvancedPayload carries everything an observer needs to render
// the current question. Choices arrive already in the seed-shuffled display
// order; the immutable seed is included so a client can re-derive the same
// order locally. Choices never indicate which one is correct.
type QuestionAdvancedPayload struct {
	SessionID      string         `json:"sessionId"`
	GameQuestionID string         `json:"gameQuestionId"`
	Position       Position       `json:"position"`
	State          LifecycleState `json:"state"`
	Prompt         string         `json:"prompt"`
	Choices        []Choice       `json:"choices"`
	Seed           int64          `json:"seed"`
}

// AnswerRevealedPayload exposes the canonical correct label, post-reveal only.
type AnswerRevealedPayload struct {
	SessionID      string      `json:"sessionId"`
	GameQuestionID string      `json:"gameQuestionId"`
	CorrectLabel   AnswerLabel `json:"correctLabel"`
	RevealedAt     time.Time   `json:"revealedAt"`
}

// GameCompletedPayload ends the session for all observers.
type GameCompletedPayload struct {
	SessionID string `json:"sessionId"`
}

// AnswerCountPayload is the ephemeral TV tick showing how many teams have
// locked in an answer. Idempotent by design: it restates the full count
// rather than an increment, so out-of-order arrival is harmless.
type AnswerCountPayload struct {
	TeamsAnsweredCount int `json:"teams_answered_count"`
	TotalTeams         int `json:"total_teams"`
}

// PresenceSyncPayload is the authoritative full membership of a team topic.
type PresenceSyncPayload struct {
	Members []PresenceRecord `json:"members"`
}

// PresenceChangePayload accompanies advisory join/leave signals.
type PresenceChangePayload struct {
	Member PresenceRecord `json:"member"`
}

// DecodeEvent unmarshals a payload into its variant's concrete type.
// Unknown kinds are an error so consumers drop them instead of guessing.
func DecodeEvent(kind EventKind, data json.RawMessage) (any, error) {
	var (
		payload any
		err     error
	)
	switch kind {
	case EventGameStarted:
		payload, err = decodeAs[GameStartedPayload](data)
	case EventGamePaused:
		payload, err = decodeAs[GamePausedPayload](data)
	case EventGameResumed:
		payload, err = decodeAs[GameResumedPayload](data)
	case EventQuestionAdvanced:
		payload, err = decodeAs[QuestionAdvancedPayload](data)
	case EventAnswerRevealed:
		payload, err = decodeAs[AnswerRevealedPayload](data)
	case EventGameCompleted:
		payload, err = decodeAs[GameCompletedPayload](data)
	case EventAnswerCountUpdated:
		payload, err = decodeAs[AnswerCountPayload](data)
	case EventPresenceSync:
		payload, err = decodeAs[PresenceSyncPayload](data)
	case EventPresenceJoined, EventPresenceLeft:
		payload, err = decodeAs[PresenceChangePayload](data)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	return payload, err
}

func decodeAs[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
