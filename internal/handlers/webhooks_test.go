package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

type webhookMockAdapter struct {
	platform    platform.Platform
	verifyToken string
}

func (a *webhookMockAdapter) Type() platform.Platform { return a.platform }

func (a *webhookMockAdapter) Descriptor() platform.Descriptor {
	return platform.Descriptor{Type: a.platform, DisplayName: string(a.platform)}
}

func (a *webhookMockAdapter) ParseWebhook(context.Context, []byte) ([]platform.InboundEvent, error) {
	return nil, nil
}

func (a *webhookMockAdapter) VerifySubscription(mode, token string) bool {
	return mode == "subscribe" && token != "" && token == a.verifyToken
}

// plainMockAdapter has no subscription handshake capability.
type plainMockAdapter struct {
	platform platform.Platform
}

func (a *plainMockAdapter) Type() platform.Platform { return a.platform }

func (a *plainMockAdapter) Descriptor() platform.Descriptor {
	return platform.Descriptor{Type: a.platform, DisplayName: string(a.platform)}
}

func (a *plainMockAdapter) ParseWebhook(context.Context, []byte) ([]platform.InboundEvent, error) {
	return nil, nil
}

type fakeReceiver struct {
	result platform.ReceiveResult
	err    error
}

func (f *fakeReceiver) Receive(context.Context, platform.Platform, []byte, platform.EventHandler) (platform.ReceiveResult, error) {
	return f.result, f.err
}

type fakeProcessor struct{}

func (fakeProcessor) HandleInbound(context.Context, platform.InboundEvent) error { return nil }

func newWebhookFixture(receiver *fakeReceiver, cfg config.Config) (*echo.Echo, *WebhookHandler) {
	reg := platform.NewRegistry()
	reg.MustRegister(&webhookMockAdapter{platform: platform.PlatformFacebook, verifyToken: "verify-me"})
	reg.MustRegister(&plainMockAdapter{platform: platform.PlatformWhatsApp})

	h := NewWebhookHandler(nil, reg, receiver, fakeProcessor{}, nil, cfg)
	e := echo.New()
	h.Register(e)
	return e, h
}

func TestReceive_AcksProcessedPayload(t *testing.T) {
	t.Parallel()
	e, _ := newWebhookFixture(&fakeReceiver{result: platform.ReceiveResult{Processed: 2, Failed: 1}}, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{"entry": []}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "processed", body["status"])
}

func TestReceive_UnknownPlatform(t *testing.T) {
	t.Parallel()
	e, _ := newWebhookFixture(&fakeReceiver{}, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/fax", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReceive_ParseFailure(t *testing.T) {
	t.Parallel()
	e, _ := newWebhookFixture(&fakeReceiver{err: errors.New("parse whatsapp webhook: bad json")}, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader("junk"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Webhook processing failed")
}

func TestVerify_EchoesChallenge(t *testing.T) {
	t.Parallel()
	e, _ := newWebhookFixture(&fakeReceiver{}, config.Config{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/facebook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestVerify_RejectsBadToken(t *testing.T) {
	t.Parallel()
	e, _ := newWebhookFixture(&fakeReceiver{}, config.Config{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/facebook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid verification token")
}

func TestVerify_PlatformWithoutHandshake(t *testing.T) {
	t.Parallel()
	e, _ := newWebhookFixture(&fakeReceiver{}, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWordPress_RejectsBadSecret(t *testing.T) {
	t.Parallel()
	cfg := config.Config{WordPress: config.WordPressConfig{WebhookSecret: "wp-secret"}}
	e, _ := newWebhookFixture(&fakeReceiver{}, cfg)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/wordpress", strings.NewReader(`{"firstName": "Jo"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("x-webhook-secret", "wrong")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid webhook secret")
}

func TestHealth_ReportsConfiguredIntegrations(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		WhatsApp: config.WhatsAppConfig{AccessToken: "wa"},
		Telegram: config.TelegramConfig{BotToken: "tg"},
	}
	e, _ := newWebhookFixture(&fakeReceiver{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status   string          `json:"status"`
		Webhooks map[string]bool `json:"webhooks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body.Status)
	assert.True(t, body.Webhooks["whatsapp"])
	assert.True(t, body.Webhooks["telegram"])
	assert.False(t, body.Webhooks["facebook"])
	assert.False(t, body.Webhooks["email"])
}
