// Package answers adjudicates team answer submissions: of all racing
// submissions for a (question, team) pair, exactly one is accepted. The
// uniqueness itself lives in the durable store's constraint; this package
// only gates membership, computes correctness, and translates the store's
// conflict signal into a typed outcome.
package answers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trivia-live/internal/domain"
)

// SubmissionStore persists accepted submissions. Insert must fail with
// domain.ErrAlreadyAnswered when a row already exists for the (question,
// team) pair, and must apply the team aggregate update atomically with the
// insert — one transaction, not two independent writes.
type SubmissionStore interface {
	InsertSubmission(ctx context.Context, sub domain.AnswerSubmission) error
	AnswerCount(ctx context.Context, gameQuestionID string) (int, error)
	HasTeamAnswered(ctx context.Context, gameQuestionID, teamID string) (bool, error)
	TeamSubmissionStats(ctx context.Context, teamID string) (correct, total int, err error)
}

// MembershipService answers whether a player currently belongs to a team.
type MembershipService interface {
	IsMember(ctx context.Context, teamID, playerID string) (bool, error)
}

// AnswerKeySource resolves the canonical correct label for a question.
type AnswerKeySource interface {
	CorrectLabel(ctx context.Context, sessionID, gameQuestionID string) (domain.AnswerLabel, error)
}

// Coordinator exposes the idempotent submit/query operations.
type Coordinator struct {
	store      SubmissionStore
	membership MembershipService
	keys       AnswerKeySource
	log        *zap.Logger
	now        func() time.Time
}

func NewCoordinator(store SubmissionStore, membership MembershipService, keys AnswerKeySource, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		store:      store,
		membership: membership,
		keys:       keys,
		log:        log,
		now:        time.Now,
	}
}

// Submit attempts to record the team's answer for a question. The first
// attempt to reach the store wins; later ones get domain.ErrAlreadyAnswered.
// Submitters who are not on the team get domain.ErrUnauthorized.
func (c *Coordinator) Submit(ctx context.Context, sessionID, gameQuestionID, teamID string, chosen domain.AnswerLabel, answerTimeMS int64, submitterID string) (domain.AnswerSubmission, error) {
	if !chosen.Valid() {
		return domain.AnswerSubmission{}, domain.ErrInvalidLabel
	}

	member, err := c.membership.IsMember(ctx, teamID, submitterID)
	if err != nil {
		return domain.AnswerSubmission{}, err
	}
	if !member {
		return domain.AnswerSubmission{}, domain.ErrUnauthorized
	}

	correctLabel, err := c.keys.CorrectLabel(ctx, sessionID, gameQuestionID)
	if err != nil {
		return domain.AnswerSubmission{}, err
	}

	sub := domain.AnswerSubmission{
		ID:             uuid.NewString(),
		GameQuestionID: gameQuestionID,
		TeamID:         teamID,
		SubmitterID:    submitterID,
		ChosenLabel:    chosen,
		AnswerTimeMS:   answerTimeMS,
		IsCorrect:      chosen == correctLabel,
		SubmittedAt:    c.now().UTC(),
	}
	if err := c.store.InsertSubmission(ctx, sub); err != nil {
		return domain.AnswerSubmission{}, err
	}
	c.log.Info("answer accepted",
		zap.String("question_id", gameQuestionID),
		zap.String("team_id", teamID),
		zap.Bool("correct", sub.IsCorrect))
	return sub, nil
}

// AnswerCount reports how many teams have an accepted submission for the
// question. At most one submission exists per team, so this is also the
// teams-answered count for the TV indicator.
func (c *Coordinator) AnswerCount(ctx context.Context, gameQuestionID string) (int, error) {
	return c.store.AnswerCount(ctx, gameQuestionID)
}

// HasTeamAnswered reports whether the team already locked in an answer.
func (c *Coordinator) HasTeamAnswered(ctx context.Context, gameQuestionID, teamID string) (bool, error) {
	return c.store.HasTeamAnswered(ctx, gameQuestionID, teamID)
}

// TeamSubmissionStats reports how many submissions the team has landed and
// how many of those were correct.
func (c *Coordinator) TeamSubmissionStats(ctx context.Context, teamID string) (correct, total int, err error) {
	return c.store.TeamSubmissionStats(ctx, teamID)
}
