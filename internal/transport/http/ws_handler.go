package http

import (
	"context"
	"log/slog"
	"net/http"

	"daily-quiz-bot/internal/app"
	"daily-quiz-bot/internal/domain"
	"github.com/gorilla/websocket"
)

// EventSource hands out lifecycle event subscriptions.
type EventSource interface {
	Subscribe() (<-chan app.Event, func())
}

// SessionReader reads the currently active session.
type SessionReader interface {
	GetActiveSession(ctx context.Context) (domain.QuizSession, bool, error)
}

// WSHandler streams quiz lifecycle events to operators over a websocket.
type WSHandler struct {
	events   EventSource
	sessions SessionReader
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(events EventSource, sessions SessionReader, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		events:   events,
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
	Type string `json:"type"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type statusPayload struct {
	ActiveSession *domain.QuizSession `json:"activeSession,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and sends a status snapshot followed by every
// lifecycle event until the client disconnects. Clients may send
// {"type":"status"} to get a fresh snapshot.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before the first snapshot so no event falls in between.
	updates, cancel := h.events.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write failed", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "event", Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- h.status(r.Context())

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "status":
			send <- h.status(r.Context())
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) status(ctx context.Context) outboundMessage[any] {
	active, ok, err := h.sessions.GetActiveSession(ctx)
	if err != nil {
		h.log.Error("ws status lookup failed", "error", err)
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "session store unavailable"}}
	}
	payload := statusPayload{}
	if ok {
		payload.ActiveSession = &active
	}
	return outboundMessage[any]{Type: "status", Payload: payload}
}
