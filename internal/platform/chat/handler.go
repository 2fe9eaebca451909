package chat

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/consultation"
	"github.com/telemed/telemed/internal/domain/identity"
	"github.com/telemed/telemed/internal/platform/auth"
)

// wsConn adapts *websocket.Conn to the Conn seam. Reads carry an idle
// deadline that pongs extend; writes carry a short deadline so one stuck
// peer cannot block the write pump.
type wsConn struct {
	conn        *websocket.Conn
	writeWait   time.Duration
	idleTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, writeWait, idleTimeout time.Duration) *wsConn {
	w := &wsConn{conn: conn, writeWait: writeWait, idleTimeout: idleTimeout}
	conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	return w
}

func (w *wsConn) ReadMessage() (int, []byte, error) {
	mt, data, err := w.conn.ReadMessage()
	if err == nil {
		w.conn.SetReadDeadline(time.Now().Add(w.idleTimeout))
	}
	return mt, data, err
}

func (w *wsConn) WriteMessage(messageType int, data []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) Close() error { return w.conn.Close() }

// Handler owns the websocket endpoint: it upgrades the connection, performs
// the in-band handshake, and hands authenticated connections to a Session.
type Handler struct {
	tokens        auth.SocketTokenStore
	identities    *identity.Service
	consultations *consultation.Service
	registry      *Registry
	broadcaster   *Broadcaster
	upgrader      websocket.Upgrader
	sendTimeout   time.Duration
	idleTimeout   time.Duration
	logger        zerolog.Logger
}

func NewHandler(
	tokens auth.SocketTokenStore,
	identities *identity.Service,
	consultations *consultation.Service,
	registry *Registry,
	broadcaster *Broadcaster,
	sendTimeout, idleTimeout time.Duration,
	checkOrigin func(r *http.Request) bool,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		tokens:        tokens,
		identities:    identities,
		consultations: consultations,
		registry:      registry,
		broadcaster:   broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		sendTimeout: sendTimeout,
		idleTimeout: idleTimeout,
		logger:      logger.With().Str("component", "chat").Logger(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/consultations/:id", h.Serve)
}

// Serve upgrades the request and runs the handshake. Authentication and
// authorization failures close the raw socket with a typed close code; the
// connection is never registered before both checks pass.
func (h *Handler) Serve(c echo.Context) error {
	consultationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
	}
	token := c.QueryParam("token")

	raw, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return nil
	}

	ctx := c.Request().Context()

	userID, err := h.tokens.Resolve(ctx, token)
	if err != nil {
		h.logger.Warn().Str("consultation_id", consultationID.String()).Msg("chat: socket token rejected")
		h.refuse(raw, CloseAuthFailure, "authentication failed")
		return nil
	}

	user, err := h.identities.GetUser(ctx, userID)
	if err != nil {
		h.refuse(raw, CloseAuthFailure, "authentication failed")
		return nil
	}

	cons, err := h.consultations.Get(ctx, consultationID)
	if err != nil {
		if errors.Is(err, consultation.ErrNotFound) {
			h.refuse(raw, ClosePolicy, "consultation not found")
		} else {
			h.refuse(raw, CloseInternal, "internal error")
		}
		return nil
	}
	if !cons.IsParticipant(user.ID) && !user.IsAdmin() {
		h.refuse(raw, ClosePolicy, "not a participant")
		return nil
	}

	conn := newWSConn(raw, h.sendTimeout, h.idleTimeout)
	client := NewClient(user.ID, consultationID, conn)
	h.registry.Register(client)

	// Ping at a fraction of the idle timeout so a healthy peer's pongs
	// keep extending the read deadline.
	go client.WritePump(h.idleTimeout * 9 / 10)

	session := NewSession(client, user, h.consultations, h.identities, h.registry, h.broadcaster, h.logger)
	session.Run(ctx)
	return nil
}

// refuse sends a close frame with the given code and drops the raw socket.
// Used only before registration, so there is nothing to deregister.
func (h *Handler) refuse(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.SetWriteDeadline(deadline)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
