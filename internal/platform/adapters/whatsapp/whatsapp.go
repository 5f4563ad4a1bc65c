// Package whatsapp implements the WhatsApp Cloud API adapter.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// Type is the platform key this adapter registers under.
const Type = platform.PlatformWhatsApp

// Adapter sends messages through the WhatsApp Cloud API and normalizes
// inbound webhook payloads.
type Adapter struct {
	logger *slog.Logger
	cfg    config.WhatsAppConfig
	client *http.Client
}

// New creates a WhatsApp adapter.
func New(log *slog.Logger, cfg config.WhatsAppConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = config.DefaultGraphAPIBase
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "whatsapp")),
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the WhatsApp platform key.
func (a *Adapter) Type() platform.Platform {
	return Type
}

// Descriptor returns the WhatsApp platform metadata.
func (a *Adapter) Descriptor() platform.Descriptor {
	return platform.Descriptor{
		Type:             Type,
		DisplayName:      "WhatsApp",
		CustomerKeyField: "phone",
		DefaultName:      "WhatsApp User",
	}
}

// Send delivers an outbound message via the Cloud API messages endpoint.
// Text, template, and media sends are supported.
func (a *Adapter) Send(ctx context.Context, req platform.SendRequest) (platform.SendResult, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.To,
	}
	switch req.Type {
	case "", platform.MessageTypeText:
		if req.TemplateName != "" {
			lang := req.LanguageCode
			if lang == "" {
				lang = "en"
			}
			payload["type"] = "template"
			payload["template"] = map[string]any{
				"name":     req.TemplateName,
				"language": map[string]any{"code": lang},
			}
			break
		}
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": req.Message}
	case platform.MessageTypeImage:
		payload["type"] = "image"
		payload["image"] = map[string]any{
			"link":    req.MediaURL,
			"caption": req.Caption,
		}
	default:
		return platform.SendResult{}, fmt.Errorf("unsupported message type: %s", req.Type)
	}

	url := fmt.Sprintf("%s/%s/messages", a.cfg.APIBase, a.cfg.PhoneNumberID)
	raw, err := a.post(ctx, url, payload)
	if err != nil {
		return platform.SendResult{}, err
	}

	result := platform.SendResult{Raw: raw}
	if msgs, ok := raw["messages"].([]any); ok && len(msgs) > 0 {
		if first, ok := msgs[0].(map[string]any); ok {
			result.PlatformMessageID, _ = first["id"].(string)
		}
	}
	return result, nil
}

func (a *Adapter) post(ctx context.Context, url string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return raw, nil
}

// webhookPayload mirrors the Cloud API webhook envelope.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image *struct {
		Caption string `json:"caption"`
	} `json:"image"`
	Audio *struct{} `json:"audio"`
	Video *struct{} `json:"video"`
	Document *struct {
		Filename string `json:"filename"`
	} `json:"document"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Contacts json.RawMessage `json:"contacts"`
}

// ParseWebhook normalizes a Cloud API webhook body. Entries whose change
// field is not "messages" (statuses, template updates) are skipped.
func (a *Adapter) ParseWebhook(_ context.Context, payload []byte) ([]platform.InboundEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("invalid whatsapp webhook payload: %w", err)
	}

	var events []platform.InboundEvent
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			profileName := ""
			if len(change.Value.Contacts) > 0 {
				profileName = strings.TrimSpace(change.Value.Contacts[0].Profile.Name)
			}
			for _, msg := range change.Value.Messages {
				if strings.TrimSpace(msg.From) == "" {
					a.logger.Warn("skip message without sender", slog.String("platform_message_id", msg.ID))
					continue
				}
				content, msgType := extractContent(msg)
				events = append(events, platform.InboundEvent{
					Platform:          Type,
					PlatformID:        msg.From,
					CustomerKey:       msg.From,
					ProfileName:       profileName,
					Content:           content,
					MessageType:       msgType,
					PlatformMessageID: msg.ID,
					Timestamp:         parseUnixSeconds(msg.Timestamp),
					Metadata: map[string]any{
						"phoneNumber": msg.From,
						"profileName": profileName,
					},
				})
			}
		}
	}
	return events, nil
}

// extractContent maps the Cloud API content variants to a normalized type and
// a human-readable placeholder for non-text content.
func extractContent(msg webhookMessage) (string, platform.MessageType) {
	switch {
	case msg.Text != nil:
		return msg.Text.Body, platform.MessageTypeText
	case msg.Image != nil:
		caption := msg.Image.Caption
		if caption == "" {
			caption = "No caption"
		}
		return fmt.Sprintf("[Image: %s]", caption), platform.MessageTypeImage
	case msg.Audio != nil:
		return "[Audio message]", platform.MessageTypeAudio
	case msg.Video != nil:
		return "[Video message]", platform.MessageTypeVideo
	case msg.Document != nil:
		filename := msg.Document.Filename
		if filename == "" {
			filename = "Unknown file"
		}
		return fmt.Sprintf("[Document: %s]", filename), platform.MessageTypeFile
	case msg.Location != nil:
		return fmt.Sprintf("[Location: %s, %s]",
			strconv.FormatFloat(msg.Location.Latitude, 'f', -1, 64),
			strconv.FormatFloat(msg.Location.Longitude, 'f', -1, 64),
		), platform.MessageTypeLocation
	case len(msg.Contacts) > 0:
		return "[Contact information]", platform.MessageTypeText
	default:
		return "[Unsupported message type]", platform.MessageTypeText
	}
}

func parseUnixSeconds(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

var (
	_ platform.Adapter       = (*Adapter)(nil)
	_ platform.Sender        = (*Adapter)(nil)
	_ platform.WebhookParser = (*Adapter)(nil)
)
