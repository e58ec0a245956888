package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-live/internal/domain"
)

const uniqueViolation = "23505"

// Store backs the game service with Postgres. The UNIQUE constraint on
// answer_submissions (game_question_id, team_id) is the adjudicator for
// racing submissions: the first insert to land wins, every later one
// surfaces as domain.ErrAlreadyAnswered.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.GameSession, error) {
	session := domain.GameSession{ID: sessionID}
	err := s.pool.QueryRow(ctx,
		`SELECT state, round_index, question_index, paused FROM game_sessions WHERE id=$1`,
		sessionID,
	).Scan(&session.State, &session.Position.RoundIndex, &session.Position.QuestionIndex, &session.Paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("load session: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, round_index, prompt, choices, randomization_seed, revealed_at
		 FROM game_questions WHERE session_id=$1
		 ORDER BY round_index, question_index`,
		sessionID,
	)
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q          domain.GameQuestion
			roundIndex int
			rawChoices []byte
		)
		if err := rows.Scan(&q.ID, &roundIndex, &q.Prompt, &rawChoices, &q.RandomizationSeed, &q.RevealedAt); err != nil {
			return domain.GameSession{}, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(rawChoices, &q.Choices); err != nil {
			return domain.GameSession{}, fmt.Errorf("unmarshal choices: %w", err)
		}
		for len(session.Rounds) <= roundIndex {
			session.Rounds = append(session.Rounds, domain.Round{})
		}
		session.Rounds[roundIndex].Questions = append(session.Rounds[roundIndex].Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.GameSession{}, fmt.Errorf("read questions: %w", err)
	}
	return session, nil
}

func (s *Store) SaveSessionState(ctx context.Context, sessionID string, pos domain.Position, state domain.LifecycleState, paused bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE game_sessions SET state=$2, round_index=$3, question_index=$4, paused=$5 WHERE id=$1`,
		sessionID, state, pos.RoundIndex, pos.QuestionIndex, paused,
	)
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) MarkRevealed(ctx context.Context, sessionID, gameQuestionID string, at time.Time) (time.Time, error) {
	// First reveal wins; the guard keeps revealed_at immutable afterwards.
	if _, err := s.pool.Exec(ctx,
		`UPDATE game_questions SET revealed_at=$3 WHERE id=$2 AND session_id=$1 AND revealed_at IS NULL`,
		sessionID, gameQuestionID, at,
	); err != nil {
		return time.Time{}, fmt.Errorf("mark revealed: %w", err)
	}
	var revealedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT revealed_at FROM game_questions WHERE id=$2 AND session_id=$1`,
		sessionID, gameQuestionID,
	).Scan(&revealedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read revealed_at: %w", err)
	}
	if revealedAt == nil {
		return time.Time{}, domain.ErrQuestionNotFound
	}
	return *revealedAt, nil
}

func (s *Store) ListTeams(ctx context.Context, sessionID string) ([]domain.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, score, cumulative_answer_time_ms FROM teams WHERE session_id=$1 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Score, &t.CumulativeAnswerTimeMS); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// InsertSubmission writes the submission and the team aggregate update in
// one transaction, so a crash can never leave aggregates inconsistent
// with the recorded submissions.
func (s *Store) InsertSubmission(ctx context.Context, sub domain.AnswerSubmission) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submission tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO answer_submissions
		 (id, game_question_id, team_id, submitter_id, chosen_label, answer_time_ms, is_correct, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.GameQuestionID, sub.TeamID, sub.SubmitterID, sub.ChosenLabel, sub.AnswerTimeMS, sub.IsCorrect, sub.SubmittedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyAnswered
		}
		return fmt.Errorf("insert submission: %w", err)
	}

	points := 0
	if sub.IsCorrect {
		points = 1
	}
	tag, err := tx.Exec(ctx,
		`UPDATE teams SET score = score + $2, cumulative_answer_time_ms = cumulative_answer_time_ms + $3 WHERE id=$1`,
		sub.TeamID, points, sub.AnswerTimeMS,
	)
	if err != nil {
		return fmt.Errorf("update team aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTeamNotFound
	}
	return tx.Commit(ctx)
}

func (s *Store) AnswerCount(ctx context.Context, gameQuestionID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM answer_submissions WHERE game_question_id=$1`,
		gameQuestionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return count, nil
}

func (s *Store) HasTeamAnswered(ctx context.Context, gameQuestionID, teamID string) (bool, error) {
	var answered bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM answer_submissions WHERE game_question_id=$1 AND team_id=$2)`,
		gameQuestionID, teamID,
	).Scan(&answered)
	if err != nil {
		return false, fmt.Errorf("check answered: %w", err)
	}
	return answered, nil
}

func (s *Store) TeamSubmissionStats(ctx context.Context, teamID string) (correct, total int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE is_correct), COUNT(*) FROM answer_submissions WHERE team_id=$1`,
		teamID,
	).Scan(&correct, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("team submission stats: %w", err)
	}
	return correct, total, nil
}

func (s *Store) IsMember(ctx context.Context, teamID, playerID string) (bool, error) {
	var member bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id=$1 AND player_id=$2)`,
		teamID, playerID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

// LoadAnswerKeys reads the canonical correct label per question, for the
// answer-key cache.
func (s *Store) LoadAnswerKeys(ctx context.Context, sessionID string) (map[string]domain.AnswerLabel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, correct_label FROM game_questions WHERE session_id=$1`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load answer keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]domain.AnswerLabel)
	for rows.Next() {
		var (
			id    string
			label domain.AnswerLabel
		)
		if err := rows.Scan(&id, &label); err != nil {
			return nil, fmt.Errorf("scan answer key: %w", err)
		}
		keys[id] = label
	}
	return keys, rows.Err()
}
