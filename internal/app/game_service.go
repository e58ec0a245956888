package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trivia-live/internal/answers"
	"trivia-live/internal/domain"
	"trivia-live/internal/pubsub"
	"trivia-live/internal/scoring"
	"trivia-live/internal/shuffle"
)

// Store abstracts the durable state behind the game service (in-memory,
// Postgres, etc). Session content is read-only here except position,
// lifecycle state, the pause flag, and per-question reveal timestamps.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (domain.GameSession, error)
	SaveSessionState(ctx context.Context, sessionID string, pos domain.Position, state domain.LifecycleState, paused bool) error
	// MarkRevealed sets revealed_at once; a second call returns the
	// original timestamp so the reveal time never moves.
	MarkRevealed(ctx context.Context, sessionID, gameQuestionID string, at time.Time) (time.Time, error)
	ListTeams(ctx context.Context, sessionID string) ([]domain.Team, error)
}

// Snapshot is what a late or reconnecting client polls to catch up, since
// topic history is not replayed.
type Snapshot struct {
	SessionID string                `json:"sessionId"`
	State     domain.LifecycleState `json:"state"`
	Paused    bool                  `json:"paused"`
	Position  domain.Position       `json:"position"`
	Question  *domain.GameQuestion  `json:"question,omitempty"`
	// Options carries the seed-shuffled display order, with correctness
	// marked only once the question has been revealed.
	Options []shuffle.Option `json:"options,omitempty"`
}

// GameService drives the host-owned lifecycle and the player submit flow.
// Every accepted transition is persisted first, then published on the
// session's game topic fire-and-forget: the bus never confirms subscriber
// receipt, and a failed publish is logged, not returned — the host UI
// retries if the transition did not visibly apply.
type GameService struct {
	store   Store
	bus     pubsub.Bus
	answers *answers.Coordinator
	log     *zap.Logger
	now     func() time.Time
}

func NewGameService(store Store, bus pubsub.Bus, coordinator *answers.Coordinator, log *zap.Logger) *GameService {
	if log == nil {
		log = zap.NewNop()
	}
	return &GameService{
		store:   store,
		bus:     bus,
		answers: coordinator,
		log:     log,
		now:     time.Now,
	}
}

// Start moves the session out of the lobby.
func (s *GameService) Start(ctx context.Context, sessionID, hostClientID string) (domain.GameSession, error) {
	return s.transition(ctx, sessionID, hostClientID, applyStart)
}

// DisplayQuestion shows the question at the current position.
func (s *GameService) DisplayQuestion(ctx context.Context, sessionID, hostClientID string) (domain.GameSession, error) {
	return s.transition(ctx, sessionID, hostClientID, applyDisplayQuestion)
}

// Advance moves one position forward or backward. Backward movement
// re-displays a previously shown question; submissions already recorded
// for it remain intact and visible.
func (s *GameService) Advance(ctx context.Context, sessionID, hostClientID string, delta int) (domain.GameSession, error) {
	return s.transition(ctx, sessionID, hostClientID, func(sess domain.GameSession) (domain.GameSession, error) {
		return applyAdvance(sess, delta)
	})
}

// RevealAnswer locks the current question and exposes the correct label.
func (s *GameService) RevealAnswer(ctx context.Context, sessionID, hostClientID string) (domain.GameSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	next, err := applyReveal(session)
	if err != nil {
		return session, err
	}
	question, ok := next.CurrentQuestion()
	if !ok {
		return session, domain.ErrQuestionNotFound
	}
	revealedAt, err := s.store.MarkRevealed(ctx, sessionID, question.ID, s.now().UTC())
	if err != nil {
		return session, err
	}
	if err := s.store.SaveSessionState(ctx, sessionID, next.Position, next.State, next.Paused); err != nil {
		return session, err
	}
	s.publish(ctx, pubsub.GameTopic(sessionID), hostClientID, domain.EventAnswerRevealed, domain.AnswerRevealedPayload{
		SessionID:      sessionID,
		GameQuestionID: question.ID,
		CorrectLabel:   domain.CorrectLabel,
		RevealedAt:     revealedAt,
	})
	return next, nil
}

// Pause freezes client-visible timers without moving the position.
// Pausing an already-paused session is a no-op.
func (s *GameService) Pause(ctx context.Context, sessionID, hostClientID string) (domain.GameSession, error) {
	return s.setPaused(ctx, sessionID, hostClientID, true)
}

// Resume unfreezes timers.
func (s *GameService) Resume(ctx context.Context, sessionID, hostClientID string) (domain.GameSession, error) {
	return s.setPaused(ctx, sessionID, hostClientID, false)
}

// EndGame completes the session from any live state.
func (s *GameService) EndGame(ctx context.Context, sessionID, hostClientID string) (domain.GameSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.State == domain.StateLobby || session.State == domain.StateThanks {
		return session, domain.ErrInvalidTransition
	}
	session.State = domain.StateGameComplete
	if err := s.store.SaveSessionState(ctx, sessionID, session.Position, session.State, session.Paused); err != nil {
		return session, err
	}
	s.publish(ctx, pubsub.GameTopic(sessionID), hostClientID, domain.EventGameCompleted, domain.GameCompletedPayload{SessionID: sessionID})
	return session, nil
}

// SubmitAnswer records a team answer through the coordinator and, on
// acceptance, pushes a fresh answered-count tick to the TV topic. The
// tick restates the full count so it stays idempotent for consumers.
func (s *GameService) SubmitAnswer(ctx context.Context, sessionID, gameQuestionID, teamID string, chosen domain.AnswerLabel, answerTimeMS int64, submitterID string) (domain.AnswerSubmission, error) {
	sub, err := s.answers.Submit(ctx, sessionID, gameQuestionID, teamID, chosen, answerTimeMS, submitterID)
	if err != nil {
		return domain.AnswerSubmission{}, err
	}

	progress, err := s.AnswerProgress(ctx, sessionID, gameQuestionID)
	if err != nil {
		s.log.Warn("answer count tick skipped", zap.String("session_id", sessionID), zap.Error(err))
		return sub, nil
	}
	s.publish(ctx, pubsub.TVTopic(sessionID), "", domain.EventAnswerCountUpdated, progress)
	return sub, nil
}

// AnswerProgress reports how many teams have locked in the question.
func (s *GameService) AnswerProgress(ctx context.Context, sessionID, gameQuestionID string) (domain.AnswerCountPayload, error) {
	count, err := s.answers.AnswerCount(ctx, gameQuestionID)
	if err != nil {
		return domain.AnswerCountPayload{}, err
	}
	teams, err := s.store.ListTeams(ctx, sessionID)
	if err != nil {
		return domain.AnswerCountPayload{}, err
	}
	return domain.AnswerCountPayload{TeamsAnsweredCount: count, TotalTeams: len(teams)}, nil
}

// HasTeamAnswered proxies the coordinator's idempotent query.
func (s *GameService) HasTeamAnswered(ctx context.Context, gameQuestionID, teamID string) (bool, error) {
	return s.answers.HasTeamAnswered(ctx, gameQuestionID, teamID)
}

// TeamAccuracy is the team's correct-answer percentage across its
// accepted submissions, 0 when it has none.
func (s *GameService) TeamAccuracy(ctx context.Context, teamID string) (float64, error) {
	correct, total, err := s.answers.TeamSubmissionStats(ctx, teamID)
	if err != nil {
		return 0, err
	}
	return scoring.Accuracy(correct, total), nil
}

// Rankings computes the final table from the current team aggregates.
func (s *GameService) Rankings(ctx context.Context, sessionID string) ([]scoring.RankedTeam, error) {
	teams, err := s.store.ListTeams(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	aggregates := make([]scoring.TeamAggregate, 0, len(teams))
	for _, t := range teams {
		aggregates = append(aggregates, scoring.TeamAggregate{
			TeamID:           t.ID,
			Name:             t.Name,
			Score:            t.Score,
			CumulativeTimeMS: t.CumulativeAnswerTimeMS,
		})
	}
	return scoring.Rank(aggregates), nil
}

// Snapshot returns the current position for reconnect catch-up.
func (s *GameService) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		SessionID: session.ID,
		State:     session.State,
		Paused:    session.Paused,
		Position:  session.Position,
	}
	if session.State == domain.StateQuestionDisplay || session.State == domain.StateAnswerRevealed {
		if q, ok := session.CurrentQuestion(); ok {
			snap.Question = &q
			options, err := shuffle.ForQuestion(q)
			if err != nil {
				s.log.Warn("choice shuffle failed", zap.String("game_question_id", q.ID), zap.Error(err))
			} else {
				snap.Options = options
			}
		}
	}
	return snap, nil
}

func (s *GameService) setPaused(ctx context.Context, sessionID, hostClientID string, paused bool) (domain.GameSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.State == domain.StateLobby {
		return session, domain.ErrInvalidTransition
	}
	if session.Paused == paused {
		return session, nil
	}
	session.Paused = paused
	if err := s.store.SaveSessionState(ctx, sessionID, session.Position, session.State, session.Paused); err != nil {
		return session, err
	}
	if paused {
		s.publish(ctx, pubsub.GameTopic(sessionID), hostClientID, domain.EventGamePaused, domain.GamePausedPayload{SessionID: sessionID})
	} else {
		s.publish(ctx, pubsub.GameTopic(sessionID), hostClientID, domain.EventGameResumed, domain.GameResumedPayload{SessionID: sessionID})
	}
	return session, nil
}

func (s *GameService) transition(ctx context.Context, sessionID, hostClientID string, apply func(domain.GameSession) (domain.GameSession, error)) (domain.GameSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	next, err := apply(session)
	if err != nil {
		return session, err
	}
	if err := s.store.SaveSessionState(ctx, sessionID, next.Position, next.State, next.Paused); err != nil {
		return session, err
	}

	topic := pubsub.GameTopic(sessionID)
	switch {
	case session.State == domain.StateLobby && next.State == domain.StateRoundIntro:
		s.publish(ctx, topic, hostClientID, domain.EventGameStarted, domain.GameStartedPayload{
			SessionID: sessionID,
			State:     next.State,
			Position:  next.Position,
		})
	case next.State == domain.StateGameComplete:
		s.publish(ctx, topic, hostClientID, domain.EventGameCompleted, domain.GameCompletedPayload{SessionID: sessionID})
	default:
		payload := domain.QuestionAdvancedPayload{
			SessionID: sessionID,
			Position:  next.Position,
			State:     next.State,
		}
		if next.State == domain.StateQuestionDisplay {
			if q, ok := next.CurrentQuestion(); ok {
				payload.GameQuestionID = q.ID
				payload.Prompt = q.Prompt
				payload.Seed = q.RandomizationSeed
				shuffled, err := shuffle.Choices(q)
				if err != nil {
					s.log.Warn("choice shuffle failed", zap.String("game_question_id", q.ID), zap.Error(err))
					shuffled = q.Choices
				}
				payload.Choices = shuffled
			}
		}
		s.publish(ctx, topic, hostClientID, domain.EventQuestionAdvanced, payload)
	}
	return next, nil
}

func (s *GameService) publish(ctx context.Context, topic, senderID string, kind domain.EventKind, payload any) {
	if err := s.bus.Publish(ctx, topic, senderID, kind, payload); err != nil {
		s.log.Warn("publish failed",
			zap.String("topic", topic), zap.String("kind", string(kind)), zap.Error(err))
	}
}
