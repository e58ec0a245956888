package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trivia-live/internal/answers"
	"trivia-live/internal/app"
	"trivia-live/internal/domain"
	"trivia-live/internal/infra/memory"
	"trivia-live/internal/pubsub"
)

func choices() []domain.Choice {
	return []domain.Choice{
		{Label: domain.LabelA, Text: "right"},
		{Label: domain.LabelB, Text: "wrong"},
		{Label: domain.LabelC, Text: "wrong"},
		{Label: domain.LabelD, Text: "wrong"},
	}
}

func newTestService() (*app.GameService, *memory.Store, *memory.Bus) {
	store := memory.NewStore()
	store.AddSession(domain.GameSession{
		ID:    "s1",
		State: domain.StateLobby,
		Rounds: []domain.Round{
			{Questions: []domain.GameQuestion{
				{ID: "q1", Prompt: "one", Choices: choices(), RandomizationSeed: 11},
				{ID: "q2", Prompt: "two", Choices: choices(), RandomizationSeed: 22},
			}},
			{Questions: []domain.GameQuestion{
				{ID: "q3", Prompt: "three", Choices: choices(), RandomizationSeed: 33},
			}},
		},
	})
	store.AddTeam("s1", domain.Team{ID: "t1", Name: "Alpha"})
	store.AddTeam("s1", domain.Team{ID: "t2", Name: "Beta"})
	store.AddMember("t1", "p1")
	store.AddMember("t2", "p2")

	bus := memory.NewBus(nil)
	keys := memory.NewAnswerKeyCache(store, time.Minute)
	coordinator := answers.NewCoordinator(store, store, keys, nil)
	return app.NewGameService(store, bus, coordinator, nil), store, bus
}

func TestLifecycleForward(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	session, err := service.Start(ctx, "s1", "host")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.State != domain.StateRoundIntro {
		t.Fatalf("expected round_intro, got %s", session.State)
	}

	if _, err := service.Start(ctx, "s1", "host"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double start should be invalid, got %v", err)
	}

	session, err = service.DisplayQuestion(ctx, "s1", "host")
	if err != nil {
		t.Fatalf("display: %v", err)
	}
	if session.State != domain.StateQuestionDisplay || session.Position.QuestionIndex != 0 {
		t.Fatalf("unexpected state %s pos %+v", session.State, session.Position)
	}

	session, err = service.RevealAnswer(ctx, "s1", "host")
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if session.State != domain.StateAnswerRevealed {
		t.Fatalf("expected answer_locked_or_revealed, got %s", session.State)
	}

	// q1 -> q2 -> round scores -> round 2 intro -> q3 -> scores -> complete -> thanks
	session, _ = service.Advance(ctx, "s1", "host", 1)
	if session.Position.QuestionIndex != 1 || session.State != domain.StateQuestionDisplay {
		t.Fatalf("expected q2 display, got %s %+v", session.State, session.Position)
	}
	session, _ = service.Advance(ctx, "s1", "host", 1)
	if session.State != domain.StateRoundScores {
		t.Fatalf("expected round_scores, got %s", session.State)
	}
	session, _ = service.Advance(ctx, "s1", "host", 1)
	if session.State != domain.StateRoundIntro || session.Position.RoundIndex != 1 {
		t.Fatalf("expected round 2 intro, got %s %+v", session.State, session.Position)
	}
	session, _ = service.Advance(ctx, "s1", "host", 1)
	session, _ = service.Advance(ctx, "s1", "host", 1)
	if session.State != domain.StateRoundScores {
		t.Fatalf("expected final round_scores, got %s", session.State)
	}
	session, _ = service.Advance(ctx, "s1", "host", 1)
	if session.State != domain.StateGameComplete {
		t.Fatalf("expected game_complete, got %s", session.State)
	}
	session, _ = service.Advance(ctx, "s1", "host", 1)
	if session.State != domain.StateThanks {
		t.Fatalf("expected thanks, got %s", session.State)
	}
	if _, err := service.Advance(ctx, "s1", "host", 1); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("advance past thanks should fail, got %v", err)
	}
}

func TestBackwardAdvancePreservesSubmissions(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	session, err := service.Start(ctx, "s1", "host")
	mustTransition(t, session, err)
	session, err = service.DisplayQuestion(ctx, "s1", "host")
	mustTransition(t, session, err)

	if _, err := service.SubmitAnswer(ctx, "s1", "q1", "t1", domain.LabelA, 3000, "p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	session, err = service.Advance(ctx, "s1", "host", 1) // q2
	mustTransition(t, session, err)
	session, err = service.Advance(ctx, "s1", "host", -1) // back to q1
	session = mustTransition(t, session, err)
	if session.Position.QuestionIndex != 0 || session.State != domain.StateQuestionDisplay {
		t.Fatalf("expected q1 redisplayed, got %s %+v", session.State, session.Position)
	}

	answered, err := service.HasTeamAnswered(ctx, "q1", "t1")
	if err != nil || !answered {
		t.Fatalf("prior submission lost after backward advance: %v %v", answered, err)
	}
	progress, err := service.AnswerProgress(ctx, "s1", "q1")
	if err != nil || progress.TeamsAnsweredCount != 1 {
		t.Fatalf("answer count not preserved: %+v %v", progress, err)
	}

	// The team cannot answer again on re-display.
	if _, err := service.SubmitAnswer(ctx, "s1", "q1", "t1", domain.LabelB, 100, "p1"); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected AlreadyAnswered after re-display, got %v", err)
	}
}

func TestRevealTimestampImmutable(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService()

	started, err := service.Start(ctx, "s1", "host")
	mustTransition(t, started, err)
	started, err = service.DisplayQuestion(ctx, "s1", "host")
	mustTransition(t, started, err)
	started, err = service.RevealAnswer(ctx, "s1", "host")
	mustTransition(t, started, err)

	session, _ := store.GetSession(ctx, "s1")
	q, _ := session.CurrentQuestion()
	if q.RevealedAt == nil {
		t.Fatalf("revealed_at not set")
	}
	first := *q.RevealedAt

	// Re-display and reveal again; the original timestamp stands.
	started, err = service.DisplayQuestion(ctx, "s1", "host")
	mustTransition(t, started, err)
	time.Sleep(5 * time.Millisecond)
	started, err = service.RevealAnswer(ctx, "s1", "host")
	mustTransition(t, started, err)

	session, _ = store.GetSession(ctx, "s1")
	q, _ = session.CurrentQuestion()
	if !q.RevealedAt.Equal(first) {
		t.Fatalf("revealed_at moved from %v to %v", first, q.RevealedAt)
	}
}

func TestObserverReceivesTransitionsButHostDoesNot(t *testing.T) {
	ctx := context.Background()
	service, _, bus := newTestService()

	observer := make(chan pubsub.Event, 16)
	hostEcho := make(chan pubsub.Event, 16)
	obsSub, _ := bus.Subscribe(ctx, pubsub.GameTopic("s1"), "player", func(ev pubsub.Event) { observer <- ev })
	defer obsSub.Unsubscribe()
	hostSub, _ := bus.Subscribe(ctx, pubsub.GameTopic("s1"), "host", func(ev pubsub.Event) { hostEcho <- ev })
	defer hostSub.Unsubscribe()

	started, err := service.Start(ctx, "s1", "host")
	mustTransition(t, started, err)

	select {
	case ev := <-observer:
		if ev.Kind != domain.EventGameStarted {
			t.Fatalf("expected game_started, got %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("observer missed game_started")
	}
	select {
	case ev := <-hostEcho:
		t.Fatalf("host received its own transition %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmitPublishesTVTick(t *testing.T) {
	ctx := context.Background()
	service, _, bus := newTestService()

	started, err := service.Start(ctx, "s1", "host")
	mustTransition(t, started, err)
	started, err = service.DisplayQuestion(ctx, "s1", "host")
	mustTransition(t, started, err)

	ticks := make(chan domain.AnswerCountPayload, 4)
	sub, _ := bus.Subscribe(ctx, pubsub.TVTopic("s1"), "tv", func(ev pubsub.Event) {
		if ev.Kind != domain.EventAnswerCountUpdated {
			return
		}
		payload, err := ev.Decode()
		if err != nil {
			return
		}
		ticks <- payload.(domain.AnswerCountPayload)
	})
	defer sub.Unsubscribe()

	if _, err := service.SubmitAnswer(ctx, "s1", "q1", "t1", domain.LabelB, 2500, "p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case tick := <-ticks:
		if tick.TeamsAnsweredCount != 1 || tick.TotalTeams != 2 {
			t.Fatalf("unexpected tick %+v", tick)
		}
	case <-time.After(time.Second):
		t.Fatalf("tv tick never published")
	}
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	if _, err := service.Pause(ctx, "s1", "host"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pause in lobby should fail, got %v", err)
	}

	started, err := service.Start(ctx, "s1", "host")
	mustTransition(t, started, err)
	session, err := service.Pause(ctx, "s1", "host")
	if err != nil || !session.Paused {
		t.Fatalf("pause: %+v %v", session, err)
	}
	if session.State != domain.StateRoundIntro {
		t.Fatalf("pause must not alter lifecycle position, got %s", session.State)
	}
	session, err = service.Resume(ctx, "s1", "host")
	if err != nil || session.Paused {
		t.Fatalf("resume: %+v %v", session, err)
	}
}

func TestRankings(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	started, err := service.Start(ctx, "s1", "host")
	mustTransition(t, started, err)
	started, err = service.DisplayQuestion(ctx, "s1", "host")
	mustTransition(t, started, err)

	// Both teams correct; t2 answers faster and must win the tie.
	if _, err := service.SubmitAnswer(ctx, "s1", "q1", "t1", domain.LabelA, 9000, "p1"); err != nil {
		t.Fatalf("submit t1: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, "s1", "q1", "t2", domain.LabelA, 4000, "p2"); err != nil {
		t.Fatalf("submit t2: %v", err)
	}

	ranked, err := service.Rankings(ctx, "s1")
	if err != nil {
		t.Fatalf("rankings: %v", err)
	}
	if ranked[0].TeamID != "t2" || ranked[0].Rank != 1 {
		t.Fatalf("expected t2 first, got %+v", ranked)
	}
	if ranked[1].TeamID != "t1" || ranked[1].Rank != 2 {
		t.Fatalf("expected t1 second, got %+v", ranked)
	}

	accuracy, err := service.TeamAccuracy(ctx, "t1")
	if err != nil || accuracy != 100 {
		t.Fatalf("expected 100%% accuracy for t1, got %v %v", accuracy, err)
	}
	accuracy, err = service.TeamAccuracy(ctx, "t-unseen")
	if err != nil || accuracy != 0 {
		t.Fatalf("expected 0 accuracy with no submissions, got %v %v", accuracy, err)
	}
}

func TestSnapshotForReconnect(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	started, err := service.Start(ctx, "s1", "host")
	mustTransition(t, started, err)
	started, err = service.DisplayQuestion(ctx, "s1", "host")
	mustTransition(t, started, err)

	snap, err := service.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != domain.StateQuestionDisplay || snap.Question == nil || snap.Question.ID != "q1" {
		t.Fatalf("snapshot missing current question: %+v", snap)
	}
	if len(snap.Options) != 4 {
		t.Fatalf("snapshot options missing: %+v", snap.Options)
	}
	seen := map[domain.AnswerLabel]bool{}
	for _, o := range snap.Options {
		if o.Correct {
			t.Fatalf("correctness leaked before reveal: %+v", o)
		}
		seen[o.Label] = true
	}
	if len(seen) != 4 {
		t.Fatalf("options are not a permutation of the labels: %+v", snap.Options)
	}

	// The same seed yields the same order on every poll.
	again, err := service.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("snapshot again: %v", err)
	}
	for i := range snap.Options {
		if snap.Options[i] != again.Options[i] {
			t.Fatalf("option order not stable: %+v vs %+v", snap.Options, again.Options)
		}
	}
}

func mustTransition(t *testing.T, session domain.GameSession, err error) domain.GameSession {
	t.Helper()
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	return session
}
