package whatsapp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

func newTestAdapter() *Adapter {
	return New(nil, config.WhatsAppConfig{AccessToken: "token", PhoneNumberID: "123"})
}

func TestParseWebhook_TextMessage(t *testing.T) {
	t.Parallel()
	payload := []byte(`{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"contacts": [{"profile": {"name": "Jane Doe"}, "wa_id": "15551234567"}],
					"messages": [{
						"from": "15551234567",
						"id": "wamid.X",
						"timestamp": "1700000000",
						"text": {"body": "Hi"}
					}]
				}
			}]
		}]
	}`)

	events, err := newTestAdapter().ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, platform.PlatformWhatsApp, event.Platform)
	assert.Equal(t, "15551234567", event.PlatformID)
	assert.Equal(t, "15551234567", event.CustomerKey)
	assert.Equal(t, "Jane Doe", event.ProfileName)
	assert.Equal(t, "Hi", event.Content)
	assert.Equal(t, platform.MessageTypeText, event.MessageType)
	assert.Equal(t, "wamid.X", event.PlatformMessageID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), event.Timestamp)
	assert.Equal(t, "15551234567", event.Metadata["phoneNumber"])
}

func TestParseWebhook_SkipsNonMessageChanges(t *testing.T) {
	t.Parallel()
	payload := []byte(`{
		"entry": [{
			"changes": [
				{"field": "statuses", "value": {}},
				{"field": "message_template_status_update", "value": {}}
			]
		}]
	}`)

	events, err := newTestAdapter().ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseWebhook_SkipsMessagesWithoutSender(t *testing.T) {
	t.Parallel()
	payload := []byte(`{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {"messages": [{"id": "wamid.Y", "text": {"body": "orphan"}}]}
			}]
		}]
	}`)

	events, err := newTestAdapter().ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseWebhook_InvalidJSON(t *testing.T) {
	t.Parallel()
	_, err := newTestAdapter().ParseWebhook(context.Background(), []byte("not json"))
	assert.Error(t, err)
}

func TestParseWebhook_ContentPlaceholders(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name        string
		message     string
		wantContent string
		wantType    platform.MessageType
	}{
		{
			name:        "image with caption",
			message:     `{"image": {"caption": "look"}}`,
			wantContent: "[Image: look]",
			wantType:    platform.MessageTypeImage,
		},
		{
			name:        "image without caption",
			message:     `{"image": {}}`,
			wantContent: "[Image: No caption]",
			wantType:    platform.MessageTypeImage,
		},
		{
			name:        "audio",
			message:     `{"audio": {}}`,
			wantContent: "[Audio message]",
			wantType:    platform.MessageTypeAudio,
		},
		{
			name:        "video",
			message:     `{"video": {}}`,
			wantContent: "[Video message]",
			wantType:    platform.MessageTypeVideo,
		},
		{
			name:        "document with filename",
			message:     `{"document": {"filename": "invoice.pdf"}}`,
			wantContent: "[Document: invoice.pdf]",
			wantType:    platform.MessageTypeFile,
		},
		{
			name:        "document without filename",
			message:     `{"document": {}}`,
			wantContent: "[Document: Unknown file]",
			wantType:    platform.MessageTypeFile,
		},
		{
			name:        "location",
			message:     `{"location": {"latitude": 52.5, "longitude": 13.4}}`,
			wantContent: "[Location: 52.5, 13.4]",
			wantType:    platform.MessageTypeLocation,
		},
		{
			name:        "contacts",
			message:     `{"contacts": [{"name": {"formatted_name": "Jane"}}]}`,
			wantContent: "[Contact information]",
			wantType:    platform.MessageTypeText,
		},
		{
			name:        "unknown variant",
			message:     `{"sticker": {"id": "abc"}}`,
			wantContent: "[Unsupported message type]",
			wantType:    platform.MessageTypeText,
		},
	}

	adapter := newTestAdapter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload := fmt.Sprintf(`{
				"entry": [{
					"changes": [{
						"field": "messages",
						"value": {"messages": [{"from": "15551234567", "id": "wamid.Z", %s}]}
					}]
				}]
			}`, tc.message[1:len(tc.message)-1])

			events, err := adapter.ParseWebhook(context.Background(), []byte(payload))
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tc.wantContent, events[0].Content)
			assert.Equal(t, tc.wantType, events[0].MessageType)
		})
	}
}

func TestDescriptor(t *testing.T) {
	t.Parallel()
	desc := newTestAdapter().Descriptor()
	assert.Equal(t, platform.PlatformWhatsApp, desc.Type)
	assert.Equal(t, "phone", desc.CustomerKeyField)
	assert.Equal(t, "WhatsApp User", desc.DefaultName)
}
