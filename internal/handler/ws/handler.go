package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/handler/httperr"
	"github.com/zhouzirui/guest-roleplay/backend/internal/handler/stream"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

const defaultReadTimeout = 60 * time.Second

// Handler runs training turns over a WebSocket connection, one JSON message per turn.
type Handler struct {
	training    stream.TurnSubmitter
	logger      *logging.Logger
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithReadTimeout sets how long the connection may stay silent between client frames.
// The read deadline is suspended while a turn is running.
func WithReadTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.readTimeout = d
		}
	}
}

// New creates a WebSocket handler. An empty allowedOrigins list accepts any origin.
func New(training stream.TurnSubmitter, allowedOrigins []string, logger *logging.Logger, opts ...Option) *Handler {
	h := &Handler{
		training: training,
		logger:   logger.Named("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) pingInterval() time.Duration {
	return h.readTimeout * 9 / 10
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes mounts the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"sessionId,omitempty"`
	TraineeMessage string `json:"traineeMessage,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	current, err := h.training.Get(r.Context(), sessionID)
	if err != nil {
		httperr.Respond(w, r, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.For(r.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	// WriteControl may run concurrently with the other writers.
	go h.pingLoop(ctx, conn)

	h.send(conn, sessionID, "connected", map[string]any{
		"persona": current.Persona.Name,
		"status":  current.Status,
		"turns":   len(current.Conversation),
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.For(ctx).Warn("websocket read failed", zap.String("session_id", sessionID), zap.Error(err))
			}
			return
		}

		if msg.SessionID != "" && msg.SessionID != sessionID {
			_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
			h.sendError(conn, sessionID, http.StatusBadRequest, "session mismatch")
			continue
		}

		// Model calls may outlast the read timeout; pongs are not read meanwhile.
		_ = conn.SetReadDeadline(time.Time{})
		h.handleMessage(ctx, conn, sessionID, msg)
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, sessionID string, msg inboundMessage) {
	switch msg.Type {
	case "turn":
		text := strings.TrimSpace(msg.TraineeMessage)
		if text == "" {
			h.sendError(conn, sessionID, http.StatusBadRequest, "traineeMessage is required")
			return
		}
		h.runTurn(ctx, conn, sessionID, text, false)
	case "end":
		h.runTurn(ctx, conn, sessionID, strings.TrimSpace(msg.TraineeMessage), true)
	default:
		h.sendError(conn, sessionID, http.StatusBadRequest, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) runTurn(ctx context.Context, conn *websocket.Conn, sessionID, text string, forceEnd bool) {
	updated, err := h.training.SubmitTurn(ctx, sessionID, text, forceEnd)
	if err != nil {
		h.logger.For(ctx).Warn("websocket turn failed", zap.String("session_id", sessionID), zap.Error(err))
		h.sendError(conn, sessionID, httperr.Status(err), httperr.Message(err))
		return
	}
	for _, event := range stream.TurnEvents(updated, text != "") {
		h.send(conn, sessionID, event.Name, event.Data)
	}
}

func (h *Handler) send(conn *websocket.Conn, sessionID, kind string, data any) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.For(context.Background()).Warn("websocket write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (h *Handler) sendError(conn *websocket.Conn, sessionID string, status int, message string) {
	h.send(conn, sessionID, "error", map[string]any{"status": status, "message": message})
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
