package domain

import "errors"

var (
	// ErrAlreadyAnswered is returned when a team already has an accepted
	// submission for a question. Expected under racing teammates.
	ErrAlreadyAnswered = errors.New("team already answered this question")
	// ErrUnauthorized is returned when the submitter is not a member of the team.
	ErrUnauthorized = errors.New("submitter is not a member of the team")
	// ErrSessionNotFound is returned when a game session does not exist.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("game question not found")
	// ErrTeamNotFound indicates an unknown team ID.
	ErrTeamNotFound = errors.New("team not found")
	// ErrInvalidLabel indicates a chosen label outside {a,b,c,d}.
	ErrInvalidLabel = errors.New("invalid answer label")
	// ErrInvalidTransition is returned for host transitions the lifecycle
	// state machine does not permit.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrShuffleInputMismatch means a question arrived with the wrong number
	// of choices. Data-integrity bug; fail loudly.
	ErrShuffleInputMismatch = errors.New("shuffle requires exactly four choices")
	// ErrSubscriptionTimeout means a topic did not reach the subscribed
	// state within the bounded wait.
	ErrSubscriptionTimeout = errors.New("topic subscription timed out")
	// ErrChannelClosed means the topic transport closed the subscription.
	ErrChannelClosed = errors.New("topic channel closed")
)
