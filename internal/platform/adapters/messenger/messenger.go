// Package messenger implements the Meta Messenger adapter used by both the
// Facebook and Instagram platforms. The two share the Graph send API and the
// entry[].messaging[] webhook envelope; they differ only in credentials and
// platform key.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// Adapter sends messages through the Graph API /me/messages endpoint and
// normalizes Messenger webhook events.
type Adapter struct {
	logger      *slog.Logger
	platform    platform.Platform
	displayName string
	defaultName string
	accessToken string
	verifyToken string
	apiBase     string
	client      *http.Client
}

// NewFacebook creates the Facebook Messenger adapter.
func NewFacebook(log *slog.Logger, cfg config.FacebookConfig) *Adapter {
	return newAdapter(log, platform.PlatformFacebook, "Facebook", "Facebook User",
		cfg.AccessToken, cfg.VerifyToken, cfg.APIBase)
}

// NewInstagram creates the Instagram messaging adapter.
func NewInstagram(log *slog.Logger, cfg config.InstagramConfig) *Adapter {
	return newAdapter(log, platform.PlatformInstagram, "Instagram", "Instagram User",
		cfg.AccessToken, cfg.VerifyToken, cfg.APIBase)
}

func newAdapter(log *slog.Logger, p platform.Platform, displayName, defaultName, accessToken, verifyToken, apiBase string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(apiBase) == "" {
		apiBase = config.DefaultGraphAPIBase
	}
	return &Adapter{
		logger:      log.With(slog.String("adapter", p.String())),
		platform:    p,
		displayName: displayName,
		defaultName: defaultName,
		accessToken: accessToken,
		verifyToken: verifyToken,
		apiBase:     apiBase,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the platform key this adapter instance serves.
func (a *Adapter) Type() platform.Platform {
	return a.platform
}

// Descriptor returns the platform metadata. Sender ids are stored in the
// customer phone field.
func (a *Adapter) Descriptor() platform.Descriptor {
	return platform.Descriptor{
		Type:             a.platform,
		DisplayName:      a.displayName,
		CustomerKeyField: "phone",
		DefaultName:      a.defaultName,
	}
}

// VerifySubscription implements the Meta GET subscription handshake.
func (a *Adapter) VerifySubscription(mode, token string) bool {
	return mode == "subscribe" && token != "" && token == a.verifyToken
}

// Send delivers an outbound message via the Graph send API. Text and media
// attachment variants are supported.
func (a *Adapter) Send(ctx context.Context, req platform.SendRequest) (platform.SendResult, error) {
	payload := map[string]any{
		"recipient": map[string]any{"id": req.To},
	}
	switch req.Type {
	case "", platform.MessageTypeText:
		payload["message"] = map[string]any{"text": req.Message}
	case platform.MessageTypeImage, platform.MessageTypeVideo, platform.MessageTypeAudio, platform.MessageTypeFile:
		payload["message"] = map[string]any{
			"attachment": map[string]any{
				"type":    attachmentType(req.Type),
				"payload": map[string]any{"url": req.MediaURL},
			},
		}
	default:
		return platform.SendResult{}, fmt.Errorf("unsupported message type: %s", req.Type)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return platform.SendResult{}, fmt.Errorf("marshal payload: %w", err)
	}
	url := a.apiBase + "/me/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return platform.SendResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return platform.SendResult{}, fmt.Errorf("%s api: %w", a.platform, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return platform.SendResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return platform.SendResult{}, fmt.Errorf("%s api status %d: %s", a.platform, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return platform.SendResult{}, fmt.Errorf("decode response: %w", err)
	}
	result := platform.SendResult{Raw: raw}
	result.PlatformMessageID, _ = raw["message_id"].(string)
	return result, nil
}

func attachmentType(t platform.MessageType) string {
	if t == platform.MessageTypeFile {
		return "file"
	}
	return string(t)
}

// webhookPayload mirrors the Messenger webhook envelope.
type webhookPayload struct {
	Entry []struct {
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64            `json:"timestamp"`
	Message   *webhookMessage  `json:"message"`
	Postback  *json.RawMessage `json:"postback"`
	Delivery  *json.RawMessage `json:"delivery"`
	Read      *json.RawMessage `json:"read"`
}

type webhookMessage struct {
	MID         string `json:"mid"`
	Text        string `json:"text"`
	Attachments []struct {
		Type string `json:"type"`
	} `json:"attachments"`
	QuickReply *struct {
		Payload string `json:"payload"`
	} `json:"quick_reply"`
}

// ParseWebhook normalizes a Messenger webhook body. Postback, delivery, and
// read events are acknowledged without producing inbound events.
func (a *Adapter) ParseWebhook(_ context.Context, payload []byte) ([]platform.InboundEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("invalid %s webhook payload: %w", a.platform, err)
	}

	var events []platform.InboundEvent
	for _, entry := range body.Entry {
		for _, evt := range entry.Messaging {
			if evt.Message == nil {
				if evt.Postback != nil || evt.Delivery != nil || evt.Read != nil {
					a.logger.Debug("ignore non-message event", slog.String("sender_id", evt.Sender.ID))
				}
				continue
			}
			if strings.TrimSpace(evt.Sender.ID) == "" {
				a.logger.Warn("skip message without sender", slog.String("platform_message_id", evt.Message.MID))
				continue
			}
			content, msgType := extractContent(evt.Message)
			events = append(events, platform.InboundEvent{
				Platform:          a.platform,
				PlatformID:        evt.Sender.ID,
				CustomerKey:       evt.Sender.ID,
				Content:           content,
				MessageType:       msgType,
				PlatformMessageID: evt.Message.MID,
				Timestamp:         parseUnixMillis(evt.Timestamp),
				Metadata: map[string]any{
					"senderId": evt.Sender.ID,
					"pageId":   evt.Recipient.ID,
				},
			})
		}
	}
	return events, nil
}

func extractContent(msg *webhookMessage) (string, platform.MessageType) {
	switch {
	// Quick replies carry both text and a payload; the payload wins.
	case msg.QuickReply != nil:
		return fmt.Sprintf("[Quick Reply: %s]", msg.QuickReply.Payload), platform.MessageTypeText
	case msg.Text != "":
		return msg.Text, platform.MessageTypeText
	case len(msg.Attachments) > 0:
		switch msg.Attachments[0].Type {
		case "image":
			return "[Image]", platform.MessageTypeImage
		case "video":
			return "[Video]", platform.MessageTypeVideo
		case "audio":
			return "[Audio]", platform.MessageTypeAudio
		case "file":
			return "[File]", platform.MessageTypeFile
		case "location":
			return "[Location]", platform.MessageTypeLocation
		default:
			return "[Attachment]", platform.MessageTypeText
		}
	default:
		return "[Unsupported message type]", platform.MessageTypeText
	}
}

func parseUnixMillis(millis int64) time.Time {
	if millis <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(millis).UTC()
}

var (
	_ platform.Adapter              = (*Adapter)(nil)
	_ platform.Sender               = (*Adapter)(nil)
	_ platform.WebhookParser        = (*Adapter)(nil)
	_ platform.SubscriptionVerifier = (*Adapter)(nil)
)
