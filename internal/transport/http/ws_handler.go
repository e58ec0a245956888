package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trivia-live/internal/app"
	"trivia-live/internal/domain"
	"trivia-live/internal/gamesync"
	"trivia-live/internal/pubsub"
)

// Roles a websocket client may connect as.
const (
	RoleHost   = "host"
	RolePlayer = "player"
	RoleTV     = "tv"
)

type WSHandler struct {
	service  *app.GameService
	bus      pubsub.Bus
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, bus pubsub.Bus, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		bus:     bus,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type advancePayload struct {
	Delta int `json:"delta"`
}

type answerPayload struct {
	GameQuestionID string             `json:"gameQuestionId"`
	Label          domain.AnswerLabel `json:"label"`
	ElapsedMS      int64              `json:"elapsedMs"`
}

type answerResult struct {
	GameQuestionID string `json:"gameQuestionId"`
	Accepted       bool   `json:"accepted"`
	Correct        bool   `json:"correct"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statusPayload struct {
	Connected bool `json:"connected"`
}

// ServeWS upgrades the request and wires the client into its session: a
// host drives transitions, a player submits answers, a TV only observes.
// All three receive the synchronized event stream.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	role := r.URL.Query().Get("role")
	teamID := r.URL.Query().Get("teamId")
	playerID := r.URL.Query().Get("playerId")
	displayName := r.URL.Query().Get("name")

	if sessionID == "" || role == "" {
		http.Error(w, "missing sessionId or role", http.StatusBadRequest)
		return
	}
	if role == RolePlayer && (teamID == "" || playerID == "") {
		http.Error(w, "player role requires teamId and playerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	opts := gamesync.Options{
		SessionID: sessionID,
		ClientID:  uuid.NewString(),
	}
	if role == RolePlayer {
		opts.TeamID = teamID
		opts.PlayerID = playerID
		opts.DisplayName = displayName
	}

	sync, err := gamesync.Open(r.Context(), h.bus, opts, h.log)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "subscribe_failed", Message: err.Error()}})
		return
	}
	defer sync.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-sync.Events():
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Kind), Payload: ev.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// A late or reconnecting client catches up by snapshot, not replay.
	if snap, err := h.service.Snapshot(r.Context(), sessionID); err == nil {
		send <- outboundMessage[any]{Type: "snapshot", Payload: snap}
	}
	send <- outboundMessage[any]{Type: "status", Payload: statusPayload{Connected: sync.Connected()}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, send, sync, inbound, role, sessionID, teamID, playerID, opts.ClientID)
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, send chan outboundMessage[any], sync *gamesync.Session, inbound inboundMessage, role, sessionID, teamID, playerID, clientID string) {
	ctx := r.Context()
	switch inbound.Type {
	case "start", "display_question", "reveal_answer", "advance", "pause", "resume", "end_game":
		if role != RoleHost {
			send <- errorMessage("forbidden", "host-only transition")
			return
		}
		var err error
		switch inbound.Type {
		case "start":
			_, err = h.service.Start(ctx, sessionID, clientID)
		case "display_question":
			_, err = h.service.DisplayQuestion(ctx, sessionID, clientID)
		case "reveal_answer":
			_, err = h.service.RevealAnswer(ctx, sessionID, clientID)
		case "advance":
			var payload advancePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("bad_payload", "invalid advance payload")
				return
			}
			_, err = h.service.Advance(ctx, sessionID, clientID, payload.Delta)
		case "pause":
			_, err = h.service.Pause(ctx, sessionID, clientID)
		case "resume":
			_, err = h.service.Resume(ctx, sessionID, clientID)
		case "end_game":
			_, err = h.service.EndGame(ctx, sessionID, clientID)
		}
		if err != nil {
			send <- errorFor(err)
			return
		}
	case "answer":
		if role != RolePlayer {
			send <- errorMessage("forbidden", "player-only action")
			return
		}
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- errorMessage("bad_payload", "invalid answer payload")
			return
		}
		sub, err := h.service.SubmitAnswer(ctx, sessionID, payload.GameQuestionID, teamID, payload.Label, payload.ElapsedMS, playerID)
		if err != nil {
			send <- errorFor(err)
			return
		}
		send <- outboundMessage[any]{Type: "answer_result", Payload: answerResult{
			GameQuestionID: sub.GameQuestionID,
			Accepted:       true,
			Correct:        sub.IsCorrect,
		}}
	case "rankings":
		ranked, err := h.service.Rankings(ctx, sessionID)
		if err != nil {
			send <- errorFor(err)
			return
		}
		send <- outboundMessage[any]{Type: "rankings", Payload: ranked}
	case "snapshot":
		snap, err := h.service.Snapshot(ctx, sessionID)
		if err != nil {
			send <- errorFor(err)
			return
		}
		send <- outboundMessage[any]{Type: "snapshot", Payload: snap}
	case "team_accuracy":
		if role != RolePlayer {
			send <- errorMessage("forbidden", "player-only action")
			return
		}
		accuracy, err := h.service.TeamAccuracy(ctx, teamID)
		if err != nil {
			send <- errorFor(err)
			return
		}
		send <- outboundMessage[any]{Type: "team_accuracy", Payload: map[string]any{
			"teamId":   teamID,
			"accuracy": accuracy,
		}}
	case "members":
		send <- outboundMessage[any]{Type: "members", Payload: sync.Members()}
	default:
		send <- errorMessage("unsupported", "unsupported message type")
	}
}

func errorMessage(code, message string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: code, Message: message}}
}

// errorFor maps adjudication errors to stable codes for direct UI feedback.
func errorFor(err error) outboundMessage[any] {
	code := "internal"
	switch {
	case errors.Is(err, domain.ErrAlreadyAnswered):
		code = "already_answered"
	case errors.Is(err, domain.ErrUnauthorized):
		code = "unauthorized"
	case errors.Is(err, domain.ErrInvalidTransition):
		code = "invalid_transition"
	case errors.Is(err, domain.ErrInvalidLabel):
		code = "invalid_label"
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrTeamNotFound):
		code = "not_found"
	}
	return errorMessage(code, err.Error())
}
