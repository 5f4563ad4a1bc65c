package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// imapPoller fetches mailbox messages newer than the last processed UID.
// Tracking UIDs instead of the \Seen flag keeps other mail clients from
// interfering with ingestion.
type imapPoller struct {
	logger   *slog.Logger
	host     string
	port     int
	username string
	password string
	security string

	mu      sync.Mutex
	lastUID imap.UID
}

func newIMAPPoller(log *slog.Logger, cfg config.EmailConfig) *imapPoller {
	username := cfg.IMAPUser
	if username == "" {
		username = cfg.SMTPUser
	}
	password := cfg.IMAPPassword
	if password == "" {
		password = cfg.SMTPPassword
	}
	return &imapPoller{
		logger:   log,
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		username: username,
		password: password,
		security: cfg.IMAPSecurity,
	}
}

func (p *imapPoller) dial() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	opts := &imapclient.Options{TLSConfig: &tls.Config{ServerName: p.host}}

	var client *imapclient.Client
	var err error
	switch p.security {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap (%s): %w", p.security, err)
	}
	if err := client.Login(p.username, p.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("select inbox: %w", err)
	}
	return client, nil
}

// fetch returns inbound events for messages above the last processed UID. The
// first run only records the mailbox high-water mark so historical mail is
// not re-ingested.
func (p *imapPoller) fetch(_ context.Context) ([]platform.InboundEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, err := p.dial()
	if err != nil {
		return nil, err
	}
	defer client.Close()
	defer client.Logout()

	var uidSet imap.UIDSet
	if p.lastUID > 0 {
		uidSet.AddRange(p.lastUID+1, 0)
	} else {
		uidSet.AddRange(1, 0)
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	isFirstRun := p.lastUID == 0
	var events []platform.InboundEvent

	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil || buf.Envelope == nil {
			continue
		}
		if buf.UID > p.lastUID {
			p.lastUID = buf.UID
		}
		if isFirstRun {
			continue
		}

		env := buf.Envelope
		from := ""
		if len(env.From) > 0 {
			from = env.From[0].Addr()
			if name := env.From[0].Name; name != "" {
				from = fmt.Sprintf("%s <%s>", name, env.From[0].Addr())
			}
		}
		if from == "" {
			continue
		}
		to := ""
		if len(env.To) > 0 {
			to = env.To[0].Addr()
		}
		var bodyText string
		if len(buf.BodySection) > 0 {
			bodyText = string(buf.BodySection[0].Bytes)
		}

		events = append(events, toInbound(from, to, env.Subject, bodyText, "", env.MessageID, env.Date.UTC()))
	}

	p.logger.Info("imap fetch completed",
		slog.Int("events", len(events)),
		slog.Uint64("last_uid", uint64(p.lastUID)),
	)
	return events, nil
}
