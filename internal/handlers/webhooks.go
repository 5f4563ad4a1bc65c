package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/lead"
	"github.com/omnidesk/omnidesk/internal/platform"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// InboundProcessor handles one normalized inbound event.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, event platform.InboundEvent) error
}

// Receiver parses a raw webhook payload and feeds events to a handler.
type Receiver interface {
	Receive(ctx context.Context, p platform.Platform, payload []byte, handler platform.EventHandler) (platform.ReceiveResult, error)
}

// WebhookHandler receives platform webhook callbacks and the WordPress lead
// form. These routes are public; platform-specific verification (Meta
// handshake, shared secrets, signatures) happens per route.
type WebhookHandler struct {
	logger     *slog.Logger
	registry   *platform.Registry
	dispatcher Receiver
	inbox      InboundProcessor
	leads      *lead.Store
	cfg        config.Config
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(log *slog.Logger, registry *platform.Registry, dispatcher Receiver, inbox InboundProcessor, leads *lead.Store, cfg config.Config) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:     log.With(slog.String("handler", "webhooks")),
		registry:   registry,
		dispatcher: dispatcher,
		inbox:      inbox,
		leads:      leads,
		cfg:        cfg,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/health", h.Health)
	e.POST("/webhooks/wordpress", h.WordPress)
	e.GET("/webhooks/:platform", h.Verify)
	e.POST("/webhooks/:platform", h.Receive)
}

// Receive ingests a platform webhook POST. The platform is acknowledged with
// 200 once the payload parses; failures on individual events are handled
// internally so upstream retry storms are avoided.
func (h *WebhookHandler) Receive(c echo.Context) error {
	p, err := h.registry.ParsePlatform(c.Param("platform"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}

	result, err := h.dispatcher.Receive(c.Request().Context(), p, payload, h.inbox.HandleInbound)
	if err != nil {
		h.logger.Error("webhook processing failed",
			slog.String("platform", p.String()), slog.Any("error", err))
		if errors.Is(err, platform.ErrUnsupportedPlatform) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Webhook processing failed"})
	}

	h.logger.Info("webhook processed",
		slog.String("platform", p.String()),
		slog.Int("processed", result.Processed),
		slog.Int("failed", result.Failed),
	)
	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}

// Verify answers the Meta GET subscription handshake: echo hub.challenge on a
// token match, 403 otherwise.
func (h *WebhookHandler) Verify(c echo.Context) error {
	p, err := h.registry.ParsePlatform(c.Param("platform"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	verifier, ok := h.registry.GetVerifier(p)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("platform %s has no verification handshake", p))
	}

	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if !verifier.VerifySubscription(mode, token) {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "Invalid verification token"})
	}
	return c.String(http.StatusOK, challenge)
}

type wordpressLeadRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone"`
	Company   string `json:"company"`
	Message   string `json:"message"`
	Source    string `json:"source"`
}

// WordPress captures a contact-form submission as a lead. The shared secret
// header is enforced when configured.
func (h *WebhookHandler) WordPress(c echo.Context) error {
	if secret := h.cfg.WordPress.WebhookSecret; secret != "" {
		if c.Request().Header.Get("x-webhook-secret") != secret {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid webhook secret"})
		}
	}

	var req wordpressLeadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	l, err := h.leads.Create(c.Request().Context(), lead.CreateInput{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
		Company:       req.Company,
		Message:       req.Message,
		Source:        req.Source,
		SourceDetails: map[string]any{"form": "WordPress Contact Form"},
	})
	if err != nil {
		h.logger.Error("create lead failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Webhook processing failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Lead created successfully",
		"leadId":  l.ID,
	})
}

// Health reports which platform integrations carry credentials.
func (h *WebhookHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"webhooks": map[string]bool{
			"whatsapp":  h.cfg.WhatsApp.AccessToken != "",
			"telegram":  h.cfg.Telegram.BotToken != "",
			"facebook":  h.cfg.Facebook.AccessToken != "",
			"instagram": h.cfg.Instagram.AccessToken != "",
			"email":     h.cfg.Email.SMTPHost != "" || strings.TrimSpace(h.cfg.Email.Mailgun.APIKey) != "",
		},
	})
}
