package app

import "trivia-live/internal/domain"

// The lifecycle machine:
//
//	lobby -> round_intro -> question_display -> answer_locked_or_revealed
//	      -> round_scores -> (next round_intro | game_complete) -> thanks
//
// Position and state move only through these functions. Moving backward
// re-displays an earlier question; it never touches recorded submissions.

func applyStart(s domain.GameSession) (domain.GameSession, error) {
	if s.State != domain.StateLobby {
		return s, domain.ErrInvalidTransition
	}
	s.State = domain.StateRoundIntro
	s.Position = domain.Position{}
	return s, nil
}

func applyDisplayQuestion(s domain.GameSession) (domain.GameSession, error) {
	switch s.State {
	case domain.StateRoundIntro, domain.StateQuestionDisplay, domain.StateAnswerRevealed:
		s.State = domain.StateQuestionDisplay
		return s, nil
	}
	return s, domain.ErrInvalidTransition
}

func applyReveal(s domain.GameSession) (domain.GameSession, error) {
	if s.State != domain.StateQuestionDisplay {
		return s, domain.ErrInvalidTransition
	}
	s.State = domain.StateAnswerRevealed
	return s, nil
}

func applyAdvance(s domain.GameSession, delta int) (domain.GameSession, error) {
	switch delta {
	case 1:
		return advanceForward(s)
	case -1:
		return advanceBackward(s)
	}
	return s, domain.ErrInvalidTransition
}

func advanceForward(s domain.GameSession) (domain.GameSession, error) {
	switch s.State {
	case domain.StateRoundIntro:
		s.State = domain.StateQuestionDisplay
	case domain.StateQuestionDisplay, domain.StateAnswerRevealed:
		round := s.Rounds[s.Position.RoundIndex]
		if s.Position.QuestionIndex+1 < len(round.Questions) {
			s.Position.QuestionIndex++
			s.State = domain.StateQuestionDisplay
		} else {
			s.State = domain.StateRoundScores
		}
	case domain.StateRoundScores:
		if s.Position.RoundIndex+1 < len(s.Rounds) {
			s.Position.RoundIndex++
			s.Position.QuestionIndex = 0
			s.State = domain.StateRoundIntro
		} else {
			s.State = domain.StateGameComplete
		}
	case domain.StateGameComplete:
		s.State = domain.StateThanks
	default:
		return s, domain.ErrInvalidTransition
	}
	return s, nil
}

func advanceBackward(s domain.GameSession) (domain.GameSession, error) {
	switch s.State {
	case domain.StateQuestionDisplay, domain.StateAnswerRevealed:
		switch {
		case s.Position.QuestionIndex > 0:
			s.Position.QuestionIndex--
			s.State = domain.StateQuestionDisplay
		case s.Position.RoundIndex > 0:
			s.Position.RoundIndex--
			s.Position.QuestionIndex = len(s.Rounds[s.Position.RoundIndex].Questions) - 1
			s.State = domain.StateQuestionDisplay
		default:
			s.State = domain.StateRoundIntro
		}
	case domain.StateRoundScores:
		s.State = domain.StateQuestionDisplay
	case domain.StateRoundIntro:
		if s.Position.RoundIndex == 0 {
			return s, domain.ErrInvalidTransition
		}
		s.Position.RoundIndex--
		s.Position.QuestionIndex = len(s.Rounds[s.Position.RoundIndex].Questions) - 1
		s.State = domain.StateRoundScores
	case domain.StateGameComplete:
		s.State = domain.StateRoundScores
	default:
		return s, domain.ErrInvalidTransition
	}
	return s, nil
}
