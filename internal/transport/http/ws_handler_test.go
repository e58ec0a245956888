package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trivia-live/internal/answers"
	"trivia-live/internal/app"
	"trivia-live/internal/domain"
	"trivia-live/internal/infra/memory"
	transporthttp "trivia-live/internal/transport/http"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newWSServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.NewStore()
	store.AddSession(domain.GameSession{
		ID:    "s1",
		State: domain.StateLobby,
		Rounds: []domain.Round{
			{Questions: []domain.GameQuestion{{
				ID:     "q1",
				Prompt: "first",
				Choices: []domain.Choice{
					{Label: domain.LabelA, Text: "right"},
					{Label: domain.LabelB, Text: "wrong"},
					{Label: domain.LabelC, Text: "wrong"},
					{Label: domain.LabelD, Text: "wrong"},
				},
				RandomizationSeed: 8231,
			}}},
		},
	})
	store.AddTeam("s1", domain.Team{ID: "t1", Name: "Alpha"})
	store.AddTeam("s1", domain.Team{ID: "t2", Name: "Beta"})
	store.AddMember("t1", "p1")
	store.AddMember("t1", "p2")
	store.AddMember("t2", "p3")

	bus := memory.NewBus(nil)
	keys := memory.NewAnswerKeyCache(store, time.Minute)
	coordinator := answers.NewCoordinator(store, store, keys, nil)
	service := app.NewGameService(store, bus, coordinator, nil)
	handler := transporthttp.NewWSHandler(service, bus, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wanted string) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", wanted, err)
		}
		if msg.Type == wanted {
			return msg
		}
	}
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(wsMessage{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("send %s: %v", msgType, err)
	}
}

func TestConnectionRejectsIncompleteParams(t *testing.T) {
	server := newWSServer(t)

	for _, query := range []string{
		"role=host",
		"sessionId=s1",
		"sessionId=s1&role=player",
		"sessionId=s1&role=player&teamId=t1",
	} {
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("dial %q should fail", query)
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("dial %q: expected 400, got %+v", query, resp)
		}
	}
}

func TestConnectionStartsWithSnapshot(t *testing.T) {
	server := newWSServer(t)
	conn := dialWS(t, server, "sessionId=s1&role=tv")

	msg := readUntil(t, conn, "snapshot")
	var snap app.Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SessionID != "s1" || snap.State != domain.StateLobby {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	readUntil(t, conn, "status")
}

func TestHostTransitionBroadcastsToPlayer(t *testing.T) {
	server := newWSServer(t)
	host := dialWS(t, server, "sessionId=s1&role=host")
	player := dialWS(t, server, "sessionId=s1&role=player&teamId=t1&playerId=p1&name=Ada")

	readUntil(t, host, "status")
	readUntil(t, player, "status")
	// The game topic subscription settles asynchronously after the
	// handshake; give it a beat before broadcasting.
	time.Sleep(50 * time.Millisecond)

	sendMsg(t, host, "start", struct{}{})

	msg := readUntil(t, player, "game_started")
	var payload domain.GameStartedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode game_started: %v", err)
	}
	if payload.SessionID != "s1" || payload.State != domain.StateRoundIntro {
		t.Fatalf("unexpected payload %+v", payload)
	}

	// The driving host suppresses its own broadcast.
	host.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var echo wsMessage
	if err := host.ReadJSON(&echo); err == nil && echo.Type == "game_started" {
		t.Fatalf("host received its own transition")
	}
}

func TestPlayerAnswerFlow(t *testing.T) {
	server := newWSServer(t)
	host := dialWS(t, server, "sessionId=s1&role=host")
	p1 := dialWS(t, server, "sessionId=s1&role=player&teamId=t1&playerId=p1&name=Ada")
	p2 := dialWS(t, server, "sessionId=s1&role=player&teamId=t1&playerId=p2&name=Grace")

	readUntil(t, p1, "status")
	readUntil(t, p2, "status")
	time.Sleep(50 * time.Millisecond)

	sendMsg(t, host, "start", struct{}{})
	sendMsg(t, host, "display_question", struct{}{})
	readUntil(t, p1, "question_advanced")

	sendMsg(t, p1, "answer", map[string]any{"gameQuestionId": "q1", "label": "a", "elapsedMs": 2400})
	msg := readUntil(t, p1, "answer_result")
	var result struct {
		GameQuestionID string `json:"gameQuestionId"`
		Accepted       bool   `json:"accepted"`
		Correct        bool   `json:"correct"`
	}
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatalf("decode answer_result: %v", err)
	}
	if !result.Accepted || !result.Correct || result.GameQuestionID != "q1" {
		t.Fatalf("unexpected answer_result %+v", result)
	}

	// The teammate's later attempt loses to the first lock-in.
	sendMsg(t, p2, "answer", map[string]any{"gameQuestionId": "q1", "label": "b", "elapsedMs": 900})
	errMsg := readUntil(t, p2, "error")
	var wsErr struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(errMsg.Payload, &wsErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if wsErr.Code != "already_answered" {
		t.Fatalf("expected already_answered, got %q", wsErr.Code)
	}
}

func TestHostOnlyTransitions(t *testing.T) {
	server := newWSServer(t)
	player := dialWS(t, server, "sessionId=s1&role=player&teamId=t1&playerId=p1")

	readUntil(t, player, "status")
	sendMsg(t, player, "start", struct{}{})

	msg := readUntil(t, player, "error")
	var wsErr struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(msg.Payload, &wsErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if wsErr.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %q", wsErr.Code)
	}
}

func TestRankingsOverSocket(t *testing.T) {
	server := newWSServer(t)
	host := dialWS(t, server, "sessionId=s1&role=host")
	player := dialWS(t, server, "sessionId=s1&role=player&teamId=t1&playerId=p1")

	readUntil(t, player, "status")
	time.Sleep(50 * time.Millisecond)
	sendMsg(t, host, "start", struct{}{})
	sendMsg(t, host, "display_question", struct{}{})
	readUntil(t, player, "question_advanced")

	sendMsg(t, player, "answer", map[string]any{"gameQuestionId": "q1", "label": "a", "elapsedMs": 1200})
	readUntil(t, player, "answer_result")

	sendMsg(t, player, "rankings", struct{}{})
	msg := readUntil(t, player, "rankings")
	var ranked []struct {
		TeamID string `json:"teamId"`
		Rank   int    `json:"rank"`
		Score  int    `json:"score"`
	}
	if err := json.Unmarshal(msg.Payload, &ranked); err != nil {
		t.Fatalf("decode rankings: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected two teams, got %d", len(ranked))
	}
	if ranked[0].TeamID != "t1" || ranked[0].Rank != 1 || ranked[0].Score != 1 {
		t.Fatalf("unexpected leader %+v", ranked[0])
	}
}
