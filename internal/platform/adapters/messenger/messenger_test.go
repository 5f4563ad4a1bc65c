package messenger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

func newTestFacebook() *Adapter {
	return NewFacebook(nil, config.FacebookConfig{AccessToken: "token", VerifyToken: "verify-me"})
}

func TestVerifySubscription(t *testing.T) {
	t.Parallel()
	adapter := newTestFacebook()

	assert.True(t, adapter.VerifySubscription("subscribe", "verify-me"))
	assert.False(t, adapter.VerifySubscription("subscribe", "wrong"))
	assert.False(t, adapter.VerifySubscription("unsubscribe", "verify-me"))
	assert.False(t, adapter.VerifySubscription("subscribe", ""))
}

func TestVerifySubscription_EmptyConfiguredToken(t *testing.T) {
	t.Parallel()
	adapter := NewFacebook(nil, config.FacebookConfig{})
	assert.False(t, adapter.VerifySubscription("subscribe", ""))
}

func TestParseWebhook_TextMessage(t *testing.T) {
	t.Parallel()
	payload := []byte(`{
		"entry": [{
			"messaging": [{
				"sender": {"id": "24601"},
				"recipient": {"id": "page-1"},
				"timestamp": 1700000000000,
				"message": {"mid": "mid.1", "text": "hello there"}
			}]
		}]
	}`)

	events, err := newTestFacebook().ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, platform.PlatformFacebook, event.Platform)
	assert.Equal(t, "24601", event.PlatformID)
	assert.Equal(t, "24601", event.CustomerKey)
	assert.Equal(t, "hello there", event.Content)
	assert.Equal(t, platform.MessageTypeText, event.MessageType)
	assert.Equal(t, "mid.1", event.PlatformMessageID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), event.Timestamp)
	assert.Equal(t, "page-1", event.Metadata["pageId"])
}

func TestParseWebhook_InstagramPlatformKey(t *testing.T) {
	t.Parallel()
	payload := []byte(`{
		"entry": [{
			"messaging": [{
				"sender": {"id": "ig-9"},
				"recipient": {"id": "acct-1"},
				"timestamp": 1700000000000,
				"message": {"mid": "mid.2", "text": "dm"}
			}]
		}]
	}`)

	adapter := NewInstagram(nil, config.InstagramConfig{})
	events, err := adapter.ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, platform.PlatformInstagram, events[0].Platform)
}

func TestParseWebhook_SkipsNonMessageEvents(t *testing.T) {
	t.Parallel()
	payload := []byte(`{
		"entry": [{
			"messaging": [
				{"sender": {"id": "1"}, "postback": {"payload": "GET_STARTED"}},
				{"sender": {"id": "1"}, "delivery": {"mids": ["mid.3"]}},
				{"sender": {"id": "1"}, "read": {"watermark": 1700000000000}}
			]
		}]
	}`)

	events, err := newTestFacebook().ParseWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.Empty(t, events)
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
			name:        "image attachment",
			message:     `{"mid": "m", "attachments": [{"type": "image"}]}`,
			wantContent: "[Image]",
			wantType:    platform.MessageTypeImage,
		},
		{
			name:        "video attachment",
			message:     `{"mid": "m", "attachments": [{"type": "video"}]}`,
			wantContent: "[Video]",
			wantType:    platform.MessageTypeVideo,
		},
		{
			name:        "audio attachment",
			message:     `{"mid": "m", "attachments": [{"type": "audio"}]}`,
			wantContent: "[Audio]",
			wantType:    platform.MessageTypeAudio,
		},
		{
			name:        "file attachment",
			message:     `{"mid": "m", "attachments": [{"type": "file"}]}`,
			wantContent: "[File]",
			wantType:    platform.MessageTypeFile,
		},
		{
			name:        "location attachment",
			message:     `{"mid": "m", "attachments": [{"type": "location"}]}`,
			wantContent: "[Location]",
			wantType:    platform.MessageTypeLocation,
		},
		{
			name:        "unknown attachment",
			message:     `{"mid": "m", "attachments": [{"type": "template"}]}`,
			wantContent: "[Attachment]",
			wantType:    platform.MessageTypeText,
		},
		{
			name:        "quick reply wins over text",
			message:     `{"mid": "m", "text": "Yes", "quick_reply": {"payload": "CONFIRM_YES"}}`,
			wantContent: "[Quick Reply: CONFIRM_YES]",
			wantType:    platform.MessageTypeText,
		},
		{
			name:        "empty message",
			message:     `{"mid": "m"}`,
			wantContent: "[Unsupported message type]",
			wantType:    platform.MessageTypeText,
		},
	}

	adapter := newTestFacebook()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload := `{
				"entry": [{
					"messaging": [{
						"sender": {"id": "24601"},
						"recipient": {"id": "page-1"},
						"timestamp": 1700000000000,
						"message": ` + tc.message + `
					}]
				}]
			}`

			events, err := adapter.ParseWebhook(context.Background(), []byte(payload))
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tc.wantContent, events[0].Content)
			assert.Equal(t, tc.wantType, events[0].MessageType)
		})
	}
}

func TestParseWebhook_InvalidJSON(t *testing.T) {
	t.Parallel()
	_, err := newTestFacebook().ParseWebhook(context.Background(), []byte("{"))
	assert.Error(t, err)
}
