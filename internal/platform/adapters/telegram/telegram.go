// Package telegram implements the Telegram Bot API adapter.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// Type is the platform key this adapter registers under.
const Type = platform.PlatformTelegram

// Adapter sends messages through the Telegram Bot API and normalizes inbound
// webhook updates.
type Adapter struct {
	logger *slog.Logger
	cfg    config.TelegramConfig

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// New creates a Telegram adapter. The bot client is created lazily on the
// first send so a missing token only fails outbound traffic.
func New(log *slog.Logger, cfg config.TelegramConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		cfg:    cfg,
	}
}

// Type returns the Telegram platform key.
func (a *Adapter) Type() platform.Platform {
	return Type
}

// Descriptor returns the Telegram platform metadata. Telegram user ids are
// stored in the customer phone field.
func (a *Adapter) Descriptor() platform.Descriptor {
	return platform.Descriptor{
		Type:             Type,
		DisplayName:      "Telegram",
		CustomerKeyField: "phone",
		DefaultName:      "Telegram User",
	}
}

func (a *Adapter) getBot() (*tgbotapi.BotAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	if strings.TrimSpace(a.cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	bot, err := tgbotapi.NewBotAPI(a.cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	a.bot = bot
	return bot, nil
}

// Send delivers an outbound message to a Telegram chat. Text, photo,
// document, and location variants are supported.
func (a *Adapter) Send(_ context.Context, req platform.SendRequest) (platform.SendResult, error) {
	bot, err := a.getBot()
	if err != nil {
		return platform.SendResult{}, err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(req.To), 10, 64)
	if err != nil {
		return platform.SendResult{}, fmt.Errorf("invalid telegram chat id %q: %w", req.To, err)
	}

	var chattable tgbotapi.Chattable
	switch req.Type {
	case "", platform.MessageTypeText:
		msg := tgbotapi.NewMessage(chatID, req.Message)
		msg.ParseMode = tgbotapi.ModeHTML
		chattable = msg
	case platform.MessageTypeImage:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(req.MediaURL))
		photo.Caption = req.Caption
		chattable = photo
	case platform.MessageTypeFile:
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(req.MediaURL))
		doc.Caption = req.Caption
		chattable = doc
	case platform.MessageTypeLocation:
		chattable = tgbotapi.NewLocation(chatID, req.Latitude, req.Longitude)
	default:
		return platform.SendResult{}, fmt.Errorf("unsupported message type: %s", req.Type)
	}

	sent, err := bot.Send(chattable)
	if err != nil {
		return platform.SendResult{}, fmt.Errorf("telegram send: %w", err)
	}
	return platform.SendResult{
		PlatformMessageID: strconv.Itoa(sent.MessageID),
		Raw: map[string]any{
			"message_id": sent.MessageID,
			"date":       sent.Date,
		},
	}, nil
}

// ParseWebhook normalizes a Telegram webhook update. Updates without a
// message (callback queries, edits) are acknowledged with zero events.
func (a *Adapter) ParseWebhook(_ context.Context, payload []byte) ([]platform.InboundEvent, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, fmt.Errorf("invalid telegram webhook payload: %w", err)
	}
	msg := update.Message
	if msg == nil {
		if update.CallbackQuery != nil {
			a.logger.Debug("ignore callback query", slog.String("data", update.CallbackQuery.Data))
		}
		return nil, nil
	}
	if msg.Chat == nil {
		return nil, nil
	}

	content, msgType := extractContent(msg)

	event := platform.InboundEvent{
		Platform:          Type,
		PlatformID:        strconv.FormatInt(msg.Chat.ID, 10),
		Content:           content,
		MessageType:       msgType,
		PlatformMessageID: strconv.Itoa(msg.MessageID),
		Timestamp:         time.Unix(int64(msg.Date), 0).UTC(),
		Metadata: map[string]any{
			"chatId":   msg.Chat.ID,
			"chatType": msg.Chat.Type,
		},
	}
	if msg.From != nil {
		event.CustomerKey = strconv.FormatInt(msg.From.ID, 10)
		event.ProfileFirstName = msg.From.FirstName
		event.ProfileLastName = msg.From.LastName
		event.Metadata["userId"] = msg.From.ID
		event.Metadata["username"] = msg.From.UserName
	} else {
		event.CustomerKey = event.PlatformID
	}
	return []platform.InboundEvent{event}, nil
}

func extractContent(msg *tgbotapi.Message) (string, platform.MessageType) {
	switch {
	case msg.Text != "":
		return msg.Text, platform.MessageTypeText
	case len(msg.Photo) > 0:
		return "[Photo]", platform.MessageTypeImage
	case msg.Audio != nil:
		return "[Audio]", platform.MessageTypeAudio
	case msg.Video != nil:
		return "[Video]", platform.MessageTypeVideo
	case msg.Document != nil:
		filename := msg.Document.FileName
		if filename == "" {
			filename = "Unknown file"
		}
		return fmt.Sprintf("[Document: %s]", filename), platform.MessageTypeFile
	case msg.Location != nil:
		return fmt.Sprintf("[Location: %s, %s]",
			strconv.FormatFloat(msg.Location.Latitude, 'f', -1, 64),
			strconv.FormatFloat(msg.Location.Longitude, 'f', -1, 64),
		), platform.MessageTypeLocation
	case msg.Contact != nil:
		return "[Contact information]", platform.MessageTypeText
	case msg.Sticker != nil:
		return "[Sticker]", platform.MessageTypeText
	case msg.Voice != nil:
		return "[Voice message]", platform.MessageTypeAudio
	default:
		return "[Unsupported message type]", platform.MessageTypeText
	}
}

var (
	_ platform.Adapter       = (*Adapter)(nil)
	_ platform.Sender        = (*Adapter)(nil)
	_ platform.WebhookParser = (*Adapter)(nil)
)
