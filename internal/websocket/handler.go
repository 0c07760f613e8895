package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"classroomhub/internal/auth"
	"classroomhub/internal/logging"
	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// EventHandler consumes decoded inbound events and disconnects.
type EventHandler interface {
	// HandleEvent applies one validated inbound event from conn.
	HandleEvent(ctx context.Context, conn *Connection, event *types.Event) error
	// Disconnect runs once when conn's read loop ends.
	Disconnect(ctx context.Context, conn *Connection)
}

// HandlerConfig holds transport timing and limits.
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	AllowedOrigins []string
}

// DefaultHandlerConfig returns the heartbeat settings used in classrooms:
// 30 second pings against a 60 second read deadline.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   DefaultWriteTimeout,
		BufferSize:     DefaultBufferSize,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler upgrades authenticated requests and runs each connection's read loop.
// ARCHITECTURAL DISCOVERY: Multi-stage validation (token -> upgrade -> registration)
// ensures invalid requests get plain HTTP errors and never consume a socket
type Handler struct {
	registry  *Registry
	validator interfaces.TokenValidator
	events    EventHandler
	config    HandlerConfig
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(registry *Registry, validator interfaces.TokenValidator, events EventHandler, config HandlerConfig, logger *slog.Logger) *Handler {
	h := &Handler{
		registry:  registry,
		validator: validator,
		events:    events,
		config:    config,
		logger:    logging.OrDiscard(logger),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin accepts every origin when none are configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok, err := auth.Authenticate(r, h.validator)
	switch {
	case err != nil && !errors.Is(err, auth.ErrMissingToken):
		h.logger.Error("token validation failed", "error", err)
		http.Error(w, "Authentication unavailable", http.StatusInternalServerError)
		return
	case err != nil || !ok:
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", claims.ID, "error", err)
		return
	}

	conn := NewConnection(ws, *claims, h.config.BufferSize, h.config.WriteTimeout)

	// FUNCTIONAL DISCOVERY: A newer connection for the same user replaces the
	// old one; the old transport is closed here, outside the registry
	if replaced := h.registry.AddConnection(claims.ID, conn); replaced != nil {
		go func() {
			_ = replaced.Close()
		}()
	}

	h.logger.Info("websocket connected", "user_id", claims.ID)
	go h.readLoop(conn)
}

// readLoop owns all reads for conn and tears it down when the socket dies.
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.events.Disconnect(context.Background(), conn)
		h.registry.RemoveConnectionIf(conn.UserID(), conn)
		_ = conn.Close()
		h.logger.Info("websocket disconnected", "user_id", conn.UserID())
	}()

	ws := conn.conn
	if h.config.MaxMessageSize > 0 {
		ws.SetReadLimit(h.config.MaxMessageSize)
	}
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	// TECHNICAL DISCOVERY: Ping frames go through WriteControl, which gorilla
	// allows concurrently with the connection's writer goroutine
	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "user_id", conn.UserID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	if h.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) dispatch(conn *Connection, data []byte) {
	var event types.Event
	if err := json.Unmarshal(data, &event); err != nil {
		h.reject(conn, "", ErrInvalidMessage)
		return
	}
	if err := event.Validate(); err != nil {
		h.reject(conn, event.SessionID, err)
		return
	}

	// Identity always comes from the token, never from the payload.
	event.UserID = conn.UserID()
	if err := h.events.HandleEvent(context.Background(), conn, &event); err != nil {
		h.reject(conn, event.SessionID, err)
	}
}

func (h *Handler) reject(conn *Connection, sessionID string, err error) {
	if errors.Is(err, types.ErrInternal) {
		h.logger.Error("event handling failed", "user_id", conn.UserID(), "session_id", sessionID, "error", err)
	}
	_ = conn.Send(types.Event{
		Type:      types.EventError,
		SessionID: sessionID,
		Reason:    types.Reason(err),
		Timestamp: time.Now().UTC(),
	})
}
