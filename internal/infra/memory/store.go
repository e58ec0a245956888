package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trivia-live/internal/domain"
)

// Store is the in-memory durable store: sessions, teams, membership, and
// answer submissions. The submission map enforces the same uniqueness the
// Postgres constraint does, and the insert plus team aggregate update
// happen inside one critical section so the two can never diverge.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*domain.GameSession
	sessionTeams map[string][]string
	teams        map[string]*domain.Team
	members      map[string]map[string]struct{}
	submissions  map[string]domain.AnswerSubmission
}

func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]*domain.GameSession),
		sessionTeams: make(map[string][]string),
		teams:        make(map[string]*domain.Team),
		members:      make(map[string]map[string]struct{}),
		submissions:  make(map[string]domain.AnswerSubmission),
	}
}

// AddSession seeds a session. Setup-time only; sessions are read-only
// afterwards except position, state, pause flag, and reveal timestamps.
func (s *Store) AddSession(session domain.GameSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := session
	s.sessions[session.ID] = &copy
}

// AddTeam registers a team under a session.
func (s *Store) AddTeam(sessionID string, team domain.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := team
	s.teams[team.ID] = &copy
	s.sessionTeams[sessionID] = append(s.sessionTeams[sessionID], team.ID)
}

// AddMember registers a player on a team.
func (s *Store) AddMember(teamID, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[teamID] == nil {
		s.members[teamID] = make(map[string]struct{})
	}
	s.members[teamID][playerID] = struct{}{}
}

func (s *Store) GetSession(_ context.Context, sessionID string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return *session, nil
}

func (s *Store) SaveSessionState(_ context.Context, sessionID string, pos domain.Position, state domain.LifecycleState, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Position = pos
	session.State = state
	session.Paused = paused
	return nil
}

func (s *Store) MarkRevealed(_ context.Context, sessionID, gameQuestionID string, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return time.Time{}, domain.ErrSessionNotFound
	}
	for ri := range session.Rounds {
		for qi := range session.Rounds[ri].Questions {
			q := &session.Rounds[ri].Questions[qi]
			if q.ID != gameQuestionID {
				continue
			}
			if q.RevealedAt != nil {
				return *q.RevealedAt, nil
			}
			q.RevealedAt = &at
			return at, nil
		}
	}
	return time.Time{}, domain.ErrQuestionNotFound
}

func (s *Store) ListTeams(_ context.Context, sessionID string) ([]domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sessionTeams[sessionID]
	teams := make([]domain.Team, 0, len(ids))
	for _, id := range ids {
		if team, ok := s.teams[id]; ok {
			teams = append(teams, *team)
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (s *Store) InsertSubmission(_ context.Context, sub domain.AnswerSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sub.GameQuestionID + "|" + sub.TeamID
	if _, exists := s.submissions[key]; exists {
		return domain.ErrAlreadyAnswered
	}
	team, ok := s.teams[sub.TeamID]
	if !ok {
		return domain.ErrTeamNotFound
	}
	s.submissions[key] = sub
	team.ApplySubmission(sub.IsCorrect, sub.AnswerTimeMS)
	return nil
}

func (s *Store) AnswerCount(_ context.Context, gameQuestionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, sub := range s.submissions {
		if sub.GameQuestionID == gameQuestionID {
			count++
		}
	}
	return count, nil
}

func (s *Store) HasTeamAnswered(_ context.Context, gameQuestionID, teamID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.submissions[gameQuestionID+"|"+teamID]
	return ok, nil
}

func (s *Store) TeamSubmissionStats(_ context.Context, teamID string) (correct, total int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.submissions {
		if sub.TeamID != teamID {
			continue
		}
		total++
		if sub.IsCorrect {
			correct++
		}
	}
	return correct, total, nil
}

func (s *Store) IsMember(_ context.Context, teamID, playerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[teamID][playerID]
	return ok, nil
}

// Team returns a copy of the team's current aggregates.
func (s *Store) Team(teamID string) (domain.Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[teamID]
	if !ok {
		return domain.Team{}, false
	}
	return *team, true
}

// LoadAnswerKeys resolves the canonical correct label per question for a
// session, straight from the seeded session data.
func (s *Store) LoadAnswerKeys(_ context.Context, sessionID string) (map[string]domain.AnswerLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	keys := make(map[string]domain.AnswerLabel)
	for _, round := range session.Rounds {
		for _, q := range round.Questions {
			keys[q.ID] = domain.CorrectLabel
		}
	}
	return keys, nil
}
