// Package email implements the email platform adapter. Outbound mail goes
// through SMTP or the Mailgun API; inbound mail arrives either as a parsed
// JSON webhook from an inbound mail service or through the IMAP poller.
package email

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	mg "github.com/mailgun/mailgun-go/v5"
	gomail "github.com/wneessen/go-mail"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// Type is the platform key this adapter registers under.
const Type = platform.PlatformEmail

// Adapter handles the email platform.
type Adapter struct {
	logger *slog.Logger
	cfg    config.EmailConfig

	mailgun *mg.Client
	poller  *imapPoller
}

// New creates an email adapter. The Mailgun client is only created when a
// Mailgun API key is configured; SMTP is the default outbound path.
func New(log *slog.Logger, cfg config.EmailConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		logger: log.With(slog.String("adapter", "email")),
		cfg:    cfg,
	}
	if strings.TrimSpace(cfg.Mailgun.APIKey) != "" {
		client := mg.NewMailgun(cfg.Mailgun.APIKey)
		if cfg.Mailgun.Region == "eu" {
			client.SetAPIBase(mg.APIBaseEU)
		}
		a.mailgun = client
	}
	if strings.TrimSpace(cfg.IMAPHost) != "" {
		a.poller = newIMAPPoller(a.logger, cfg)
	}
	return a
}

// Type returns the email platform key.
func (a *Adapter) Type() platform.Platform {
	return Type
}

// Descriptor returns the email platform metadata.
func (a *Adapter) Descriptor() platform.Descriptor {
	return platform.Descriptor{
		Type:             Type,
		DisplayName:      "Email",
		CustomerKeyField: "email",
		DefaultName:      "Email User",
	}
}

// Send delivers an outbound email. Mailgun is preferred when configured,
// otherwise SMTP.
func (a *Adapter) Send(ctx context.Context, req platform.SendRequest) (platform.SendResult, error) {
	subject := req.Subject
	if subject == "" {
		subject = "Message from support"
	}
	if a.mailgun != nil {
		return a.sendMailgun(ctx, req, subject)
	}
	return a.sendSMTP(ctx, req, subject)
}

func (a *Adapter) sendMailgun(ctx context.Context, req platform.SendRequest, subject string) (platform.SendResult, error) {
	from := a.cfg.FromAddress
	if from == "" {
		from = fmt.Sprintf("noreply@%s", a.cfg.Mailgun.Domain)
	}
	m := mg.NewMessage(a.cfg.Mailgun.Domain, from, subject, req.Message, req.To)
	if req.HTML {
		m.SetHTML(req.Message)
	}
	resp, err := a.mailgun.Send(ctx, m)
	if err != nil {
		return platform.SendResult{}, fmt.Errorf("mailgun send: %w", err)
	}
	return platform.SendResult{
		PlatformMessageID: resp.ID,
		Raw:               map[string]any{"id": resp.ID, "message": resp.Message},
	}, nil
}

func (a *Adapter) sendSMTP(ctx context.Context, req platform.SendRequest, subject string) (platform.SendResult, error) {
	if strings.TrimSpace(a.cfg.SMTPHost) == "" {
		return platform.SendResult{}, fmt.Errorf("email transport not configured")
	}
	m := gomail.NewMsg()
	if err := m.From(a.cfg.FromAddress); err != nil {
		return platform.SendResult{}, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(req.To); err != nil {
		return platform.SendResult{}, fmt.Errorf("set to: %w", err)
	}
	m.Subject(subject)
	if req.HTML {
		m.SetBodyString(gomail.TypeTextHTML, req.Message)
	} else {
		m.SetBodyString(gomail.TypeTextPlain, req.Message)
	}
	m.SetMessageID()

	opts := []gomail.Option{
		gomail.WithPort(a.cfg.SMTPPort),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(a.cfg.SMTPUser),
		gomail.WithPassword(a.cfg.SMTPPassword),
	}
	switch a.cfg.SMTPSecurity {
	case "tls":
		opts = append(opts, gomail.WithSSLPort(false), gomail.WithTLSPolicy(gomail.TLSMandatory))
	case "starttls":
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}

	client, err := gomail.NewClient(a.cfg.SMTPHost, opts...)
	if err != nil {
		return platform.SendResult{}, fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return platform.SendResult{}, fmt.Errorf("smtp send: %w", err)
	}
	return platform.SendResult{
		PlatformMessageID: m.GetMessageID(),
		Raw:               map[string]any{"messageId": m.GetMessageID()},
	}, nil
}

// webhookEmail is the parsed-message JSON shape posted by inbound mail
// services. The optional signature block carries the Mailgun webhook
// signature.
type webhookEmail struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	MessageID string `json:"messageId"`
	Date      string `json:"date"`
	Signature *struct {
		Timestamp string `json:"timestamp"`
		Token     string `json:"token"`
		Signature string `json:"signature"`
	} `json:"signature"`
}

// ParseWebhook normalizes a parsed inbound email. When a Mailgun signing key
// is configured the payload signature must verify.
func (a *Adapter) ParseWebhook(_ context.Context, payload []byte) ([]platform.InboundEvent, error) {
	var body webhookEmail
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("invalid email webhook payload: %w", err)
	}
	if strings.TrimSpace(body.From) == "" {
		return nil, fmt.Errorf("invalid email webhook payload: from is required")
	}
	if key := a.cfg.Mailgun.SigningKey; key != "" {
		if body.Signature == nil {
			return nil, fmt.Errorf("email webhook signature missing")
		}
		if !verifySignature(key, body.Signature.Timestamp, body.Signature.Token, body.Signature.Signature) {
			return nil, fmt.Errorf("email webhook signature verification failed")
		}
	}

	event := toInbound(body.From, body.To, body.Subject, body.Text, body.HTML, body.MessageID, parseDate(body.Date))
	return []platform.InboundEvent{event}, nil
}

// Poll fetches new mail over IMAP. Adapters without IMAP configured return
// nothing.
func (a *Adapter) Poll(ctx context.Context) ([]platform.InboundEvent, error) {
	if a.poller == nil {
		return nil, nil
	}
	return a.poller.fetch(ctx)
}

func verifySignature(signingKey, timestamp, token, signature string) bool {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// toInbound builds the normalized event shared by the webhook and IMAP
// inbound paths. The customer key is the bare address extracted from a
// "Name <addr>" sender.
func toInbound(from, to, subject, text, html, messageID string, date time.Time) platform.InboundEvent {
	address, first, last := splitAddress(from)
	content := text
	if strings.TrimSpace(content) == "" {
		content = html
	}
	return platform.InboundEvent{
		Platform:          Type,
		PlatformID:        address,
		CustomerKey:       address,
		ProfileFirstName:  first,
		ProfileLastName:   last,
		Content:           content,
		MessageType:       platform.MessageTypeText,
		PlatformMessageID: messageID,
		Timestamp:         date,
		Metadata: map[string]any{
			"emailAddress": address,
			"originalFrom": from,
			"to":           to,
			"subject":      subject,
			"html":         html != "",
		},
	}
}

func splitAddress(from string) (address, firstName, lastName string) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(from))
	if err != nil {
		return strings.TrimSpace(from), "", ""
	}
	address = parsed.Address
	parts := strings.Fields(parsed.Name)
	if len(parts) > 0 {
		firstName = parts[0]
		lastName = strings.Join(parts[1:], " ")
	}
	return address, firstName, lastName
}

func parseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

var (
	_ platform.Adapter       = (*Adapter)(nil)
	_ platform.Sender        = (*Adapter)(nil)
	_ platform.WebhookParser = (*Adapter)(nil)
	_ platform.Poller        = (*Adapter)(nil)
)
