package domain

import "time"

// AnswerLabel identifies one of the four stored answer choices.
type AnswerLabel string

const (
	LabelA AnswerLabel = "a"
	LabelB AnswerLabel = "b"
	LabelC AnswerLabel = "c"
	LabelD AnswerLabel = "d"
)

// CorrectLabel is the storage convention for the canonically correct choice.
// It is never exposed to clients before a reveal event.
const CorrectLabel = LabelA

// Valid reports whether the label is one of the four known choices.
func (l AnswerLabel) Valid() bool {
	switch l {
	case LabelA, LabelB, LabelC, LabelD:
		return true
	}
	return false
}

// LifecycleState is the current phase of a game session's state machine.
type LifecycleState string

const (
	StateLobby           LifecycleState = "lobby"
	StateRoundIntro      LifecycleState = "round_intro"
	StateQuestionDisplay LifecycleState = "question_display"
	StateAnswerRevealed  LifecycleState = "answer_locked_or_revealed"
	StateRoundScores     LifecycleState = "round_scores"
	StateGameComplete    LifecycleState = "game_complete"
	StateThanks          LifecycleState = "thanks"
)

// Position locates the current question within a session.
type Position struct {
	RoundIndex    int `json:"roundIndex"`
	QuestionIndex int `json:"questionIndex"`
}

// Choice is one renderable answer option. Correctness is not carried here;
// it is a property of the label convention and only surfaces post-reveal.
type Choice struct {
	Label AnswerLabel `json:"label"`
	Text  string      `json:"text"`
}

// GameQuestion is a question instance bound to one session. The
// randomization seed is assigned once at creation and never changes;
// rewriting it would desynchronize clients that already shuffled.
type GameQuestion struct {
	ID                string
	Prompt            string
	Choices           []Choice
	RandomizationSeed int64
	RevealedAt        *time.Time
}

// Revealed reports whether the host has revealed this question's answer.
func (q GameQuestion) Revealed() bool {
	return q.RevealedAt != nil
}

// Round is an ordered list of question instances.
type Round struct {
	Questions []GameQuestion
}

// GameSession is the host-owned session aggregate. Only Position, State,
// Paused, and per-question RevealedAt mutate after setup.
type GameSession struct {
	ID       string
	Rounds   []Round
	Position Position
	State    LifecycleState
	Paused   bool
}

// CurrentQuestion returns the question at the session's current position.
func (s GameSession) CurrentQuestion() (GameQuestion, bool) {
	if s.Position.RoundIndex < 0 || s.Position.RoundIndex >= len(s.Rounds) {
		return GameQuestion{}, false
	}
	round := s.Rounds[s.Position.RoundIndex]
	if s.Position.QuestionIndex < 0 || s.Position.QuestionIndex >= len(round.Questions) {
		return GameQuestion{}, false
	}
	return round.Questions[s.Position.QuestionIndex], true
}

// Team accumulates score and total answer time across accepted submissions.
// Both fields are monotonically non-decreasing.
type Team struct {
	ID                     string
	Name                   string
	Score                  int
	CumulativeAnswerTimeMS int64
}

// ApplySubmission folds one accepted submission into the team aggregates.
// Answer time counts toward the tie-break whether or not the answer was
// correct, so slow wrong answers still cost the team.
func (t *Team) ApplySubmission(correct bool, answerTimeMS int64) {
	if correct {
		t.Score++
	}
	t.CumulativeAnswerTimeMS += answerTimeMS
}

// AnswerSubmission is one team's answer to one question. At most one row
// may exist per (GameQuestionID, TeamID) pair; that uniqueness is the
// adjudication guarantee of the whole system.
type AnswerSubmission struct {
	ID             string
	GameQuestionID string
	TeamID         string
	SubmitterID    string
	ChosenLabel    AnswerLabel
	AnswerTimeMS   int64
	IsCorrect      bool
	SubmittedAt    time.Time
}

// PresenceRecord is the per-player payload tracked on a team presence
// topic. Ephemeral; it lives only as long as the connection.
type PresenceRecord struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	OnlineAt    time.Time `json:"online_at"`
}
