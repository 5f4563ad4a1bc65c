package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/omnidesk/omnidesk/internal/auth"
	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/realtime"
)

// WSHandler upgrades agent connections and hands them to the realtime hub.
// The route sits outside the JWT middleware because browsers cannot set
// headers on websocket dials; the token travels as a query parameter and is
// verified here before the upgrade.
type WSHandler struct {
	logger   *slog.Logger
	hub      *realtime.Hub
	secret   string
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(log *slog.Logger, hub *realtime.Hub, cfg config.AuthConfig) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		logger: log.With(slog.String("handler", "ws")),
		hub:    hub,
		secret: cfg.JWTSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Connect)
}

// Connect authenticates the query token, upgrades the connection, and runs the
// client until it disconnects.
func (h *WSHandler) Connect(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	userID, err := auth.ParseToken(token, h.secret)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}

	h.logger.Info("agent connected", slog.String("user_id", userID))
	client := realtime.NewClient(h.hub, conn, userID)
	client.Run(c.Request().Context())
	h.logger.Info("agent disconnected", slog.String("user_id", userID))
	return nil
}
