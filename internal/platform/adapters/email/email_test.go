package email

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

func TestParseWebhook_ParsedMessage(t *testing.T) {
	t.Parallel()
	adapter := New(nil, config.EmailConfig{})
	payload := []byte(`{
		"from": "Jane Doe <jane@example.com>",
		"to": "support@acme.test",
		"subject": "Order question",
		"text": "Where is my order?",
		"messageId": "<abc@mail.example.com>",
		"date": "2023-11-14T22:13:20Z"
	}`)

	events, err := adapter.ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, platform.PlatformEmail, event.Platform)
	assert.Equal(t, "jane@example.com", event.PlatformID)
	assert.Equal(t, "jane@example.com", event.CustomerKey)
	assert.Equal(t, "Jane", event.ProfileFirstName)
	assert.Equal(t, "Doe", event.ProfileLastName)
	assert.Equal(t, "Where is my order?", event.Content)
	assert.Equal(t, "<abc@mail.example.com>", event.PlatformMessageID)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), event.Timestamp)
	assert.Equal(t, "Order question", event.Metadata["subject"])
}

func TestParseWebhook_MissingFrom(t *testing.T) {
	t.Parallel()
	adapter := New(nil, config.EmailConfig{})
	_, err := adapter.ParseWebhook(context.Background(), []byte(`{"subject": "no sender"}`))
	assert.Error(t, err)
}

func TestParseWebhook_HTMLFallback(t *testing.T) {
	t.Parallel()
	adapter := New(nil, config.EmailConfig{})
	payload := []byte(`{"from": "jane@example.com", "html": "<p>hi</p>"}`)

	events, err := adapter.ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "<p>hi</p>", events[0].Content)
	assert.Equal(t, true, events[0].Metadata["html"])
}

func signedPayload(t *testing.T, key string) []byte {
	t.Helper()
	timestamp := "1700000000"
	token := "token-123"
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(timestamp + token))
	signature := hex.EncodeToString(mac.Sum(nil))
	return []byte(fmt.Sprintf(`{
		"from": "jane@example.com",
		"text": "signed",
		"signature": {"timestamp": %q, "token": %q, "signature": %q}
	}`, timestamp, token, signature))
}

func TestParseWebhook_SignatureVerification(t *testing.T) {
	t.Parallel()
	adapter := New(nil, config.EmailConfig{
		Mailgun: config.MailgunConfig{SigningKey: "signing-key"},
	})

	events, err := adapter.ParseWebhook(context.Background(), signedPayload(t, "signing-key"))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = adapter.ParseWebhook(context.Background(), signedPayload(t, "wrong-key"))
	assert.Error(t, err)

	_, err = adapter.ParseWebhook(context.Background(), []byte(`{"from": "jane@example.com", "text": "unsigned"}`))
	assert.Error(t, err)
}

func TestSplitAddress(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in                   string
		address, first, last string
	}{
		{"Jane Doe <jane@example.com>", "jane@example.com", "Jane", "Doe"},
		{"jane@example.com", "jane@example.com", "", ""},
		{"\"Mary Ann Smith\" <mary@example.com>", "mary@example.com", "Mary", "Ann Smith"},
		{"not an address", "not an address", "", ""},
	}
	for _, tc := range cases {
		address, first, last := splitAddress(tc.in)
		assert.Equal(t, tc.address, address, tc.in)
		assert.Equal(t, tc.first, first, tc.in)
		assert.Equal(t, tc.last, last, tc.in)
	}
}

func TestSend_NoTransportConfigured(t *testing.T) {
	t.Parallel()
	adapter := New(nil, config.EmailConfig{})
	_, err := adapter.Send(context.Background(), platform.SendRequest{To: "jane@example.com", Message: "hi"})
	assert.Error(t, err)
}

func TestPoll_NoIMAPConfigured(t *testing.T) {
	t.Parallel()
	adapter := New(nil, config.EmailConfig{})
	events, err := adapter.Poll(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestDescriptor(t *testing.T) {
	t.Parallel()
	desc := New(nil, config.EmailConfig{}).Descriptor()
	assert.Equal(t, "email", desc.CustomerKeyField)
	assert.Equal(t, "Email User", desc.DefaultName)
}
