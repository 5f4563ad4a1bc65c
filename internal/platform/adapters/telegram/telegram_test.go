package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

func newTestAdapter() *Adapter {
	return New(nil, config.TelegramConfig{})
}

func TestParseWebhook_TextMessage(t *testing.T) {
	t.Parallel()
	payload := []byte(`{
		"update_id": 1001,
		"message": {
			"message_id": 42,
			"date": 1700000000,
			"text": "hello",
			"chat": {"id": 987654321, "type": "private"},
			"from": {"id": 12345, "first_name": "Ada", "last_name": "Lovelace", "username": "ada"}
		}
	}`)

	events, err := newTestAdapter().ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, platform.PlatformTelegram, event.Platform)
	assert.Equal(t, "987654321", event.PlatformID)
	assert.Equal(t, "12345", event.CustomerKey)
	assert.Equal(t, "Ada", event.ProfileFirstName)
	assert.Equal(t, "Lovelace", event.ProfileLastName)
	assert.Equal(t, "hello", event.Content)
	assert.Equal(t, platform.MessageTypeText, event.MessageType)
	assert.Equal(t, "42", event.PlatformMessageID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), event.Timestamp)
	assert.Equal(t, "ada", event.Metadata["username"])
}

func TestParseWebhook_NoMessage(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"update_id": 1002, "callback_query": {"id": "cb1", "data": "clicked"}}`)

	events, err := newTestAdapter().ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseWebhook_ContentPlaceholders(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name        string
		fragment    string
		wantContent string
		wantType    platform.MessageType
	}{
		{
			name:        "photo",
			fragment:    `"photo": [{"file_id": "f1", "width": 1, "height": 1}]`,
			wantContent: "[Photo]",
			wantType:    platform.MessageTypeImage,
		},
		{
			name:        "audio",
			fragment:    `"audio": {"file_id": "f2", "duration": 3}`,
			wantContent: "[Audio]",
			wantType:    platform.MessageTypeAudio,
		},
		{
			name:        "video",
			fragment:    `"video": {"file_id": "f3"}`,
			wantContent: "[Video]",
			wantType:    platform.MessageTypeVideo,
		},
		{
			name:        "document",
			fragment:    `"document": {"file_id": "f4", "file_name": "report.pdf"}`,
			wantContent: "[Document: report.pdf]",
			wantType:    platform.MessageTypeFile,
		},
		{
			name:        "document without name",
			fragment:    `"document": {"file_id": "f5"}`,
			wantContent: "[Document: Unknown file]",
			wantType:    platform.MessageTypeFile,
		},
		{
			name:        "location",
			fragment:    `"location": {"latitude": 48.85, "longitude": 2.35}`,
			wantContent: "[Location: 48.85, 2.35]",
			wantType:    platform.MessageTypeLocation,
		},
		{
			name:        "contact",
			fragment:    `"contact": {"phone_number": "+15551234567", "first_name": "Jane"}`,
			wantContent: "[Contact information]",
			wantType:    platform.MessageTypeText,
		},
		{
			name:        "sticker",
			fragment:    `"sticker": {"file_id": "f6"}`,
			wantContent: "[Sticker]",
			wantType:    platform.MessageTypeText,
		},
		{
			name:        "voice",
			fragment:    `"voice": {"file_id": "f7", "duration": 2}`,
			wantContent: "[Voice message]",
			wantType:    platform.MessageTypeAudio,
		},
	}

	adapter := newTestAdapter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload := `{
				"update_id": 1003,
				"message": {
					"message_id": 7,
					"date": 1700000000,
					"chat": {"id": 5, "type": "private"},
					` + tc.fragment + `
				}
			}`

			events, err := adapter.ParseWebhook(context.Background(), []byte(payload))
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tc.wantContent, events[0].Content)
			assert.Equal(t, tc.wantType, events[0].MessageType)
		})
	}
}

func TestSend_MissingToken(t *testing.T) {
	t.Parallel()
	_, err := newTestAdapter().Send(context.Background(), platform.SendRequest{To: "5", Message: "hi"})
	assert.Error(t, err)
}

func TestDescriptor(t *testing.T) {
	t.Parallel()
	desc := newTestAdapter().Descriptor()
	assert.Equal(t, platform.PlatformTelegram, desc.Type)
	assert.Equal(t, "Telegram User", desc.DefaultName)
}
