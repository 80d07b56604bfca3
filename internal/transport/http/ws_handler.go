package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/app"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// WSHandler serves the live attempt channel: connecting starts (or resumes)
// the session, the server pushes authoritative countdown updates, and the
// client sends answer/flag/navigate/submit commands over the same socket.
type WSHandler struct {
	sessions *app.SessionService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(sessions *app.SessionService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		sessions: sessions,
		log:      log,
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

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionKey  string `json:"optionKey"`
}

type questionPayload struct {
	QuestionID string `json:"questionId"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type sessionSnapshot struct {
	Session domain.Session  `json:"session"`
	Answers []domain.Answer `json:"answers"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and binds the socket to one exam session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	packageID := r.URL.Query().Get("packageId")
	if userID == "" || packageID == "" {
		http.Error(w, "missing userId or packageId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session, err := h.sessions.StartSession(r.Context(), userID, packageID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	answers, err := h.sessions.Answers(r.Context(), session.ID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	// A connection to an already-completed session (expiry fired during
	// reconciliation) gets the snapshot plus the result, then a read loop
	// that only serves further queries.
	send <- outboundMessage[any]{Type: "session", Payload: sessionSnapshot{
		Session: session,
		Answers: answers,
	}}

	updatesDone := make(chan struct{})
	if session.Status == domain.StatusCompleted {
		if result, err := h.sessions.GetScoreResult(r.Context(), session.ID); err == nil {
			send <- outboundMessage[any]{Type: "submitted", Payload: result}
		}
		close(updatesDone)
	} else {
		updates, cancel, err := h.sessions.Watch(session.ID)
		if err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			close(updatesDone)
		} else {
			defer cancel()
			go func() {
				defer close(updatesDone)
				for {
					select {
					case update, ok := <-updates:
						if !ok {
							return
						}
						select {
						case send <- outboundMessage[any]{Type: "update", Payload: update}:
						case <-closeSignals:
							return
						}
					case <-closeSignals:
						return
					}
				}
			}()
		}
	}

	h.readLoop(r.Context(), conn, send, session.ID, userID)

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, send chan outboundMessage[any], sessionID, userID string) {
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errMsg("invalid answer payload")
				continue
			}
			ans, err := h.sessions.SelectAnswer(ctx, sessionID, userID, payload.QuestionID, payload.OptionKey)
			if err != nil {
				send <- errMsg(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "answerAck", Payload: ans}

		case "unset":
			var payload questionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errMsg("invalid unset payload")
				continue
			}
			ans, err := h.sessions.UnsetAnswer(ctx, sessionID, userID, payload.QuestionID)
			if err != nil {
				send <- errMsg(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "answerAck", Payload: ans}

		case "flag":
			var payload questionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errMsg("invalid flag payload")
				continue
			}
			ans, err := h.sessions.ToggleFlag(ctx, sessionID, userID, payload.QuestionID)
			if err != nil {
				send <- errMsg(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "answerAck", Payload: ans}

		case "navigate":
			var payload navigatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errMsg("invalid navigate payload")
				continue
			}
			if err := h.sessions.NavigateTo(ctx, sessionID, userID, payload.Index); err != nil {
				send <- errMsg(err.Error())
			}

		case "submit":
			result, err := h.sessions.Submit(ctx, sessionID, userID)
			if err != nil {
				send <- errMsg(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "submitted", Payload: result}

		default:
			send <- errMsg("unsupported message type")
		}
	}
}

func errMsg(message string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}}
}
