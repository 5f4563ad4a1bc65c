package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omnidesk/omnidesk/internal/lead"
)

// LeadHandler lists captured website leads for the agent dashboard.
type LeadHandler struct {
	logger *slog.Logger
	leads  *lead.Store
}

// NewLeadHandler creates a LeadHandler.
func NewLeadHandler(log *slog.Logger, leads *lead.Store) *LeadHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LeadHandler{
		logger: log.With(slog.String("handler", "leads")),
		leads:  leads,
	}
}

func (h *LeadHandler) Register(e *echo.Echo) {
	e.GET("/leads", h.List)
}

// List returns recent leads, optionally filtered by status.
func (h *LeadHandler) List(c echo.Context) error {
	leads, err := h.leads.List(c.Request().Context(), c.QueryParam("status"), intQuery(c, "limit"), intQuery(c, "offset"))
	if err != nil {
		h.logger.Error("list leads failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list leads")
	}
	return c.JSON(http.StatusOK, map[string]any{"items": leads})
}
