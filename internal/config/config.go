package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "omnidesk"
	DefaultPGSSLMode    = "disable"
	DefaultGraphAPIBase = "https://graph.facebook.com/v18.0"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Admin     AdminConfig     `toml:"admin"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Facebook  FacebookConfig  `toml:"facebook"`
	Instagram InstagramConfig `toml:"instagram"`
	Email     EmailConfig     `toml:"email"`
	WordPress WordPressConfig `toml:"wordpress"`
	Reconcile ReconcileConfig `toml:"reconcile"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AdminConfig seeds the initial agent account on first start.
type AdminConfig struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type WhatsAppConfig struct {
	AccessToken   string `toml:"access_token"`
	PhoneNumberID string `toml:"phone_number_id"`
	APIBase       string `toml:"api_base"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

type FacebookConfig struct {
	AccessToken string `toml:"access_token"`
	VerifyToken string `toml:"verify_token"`
	APIBase     string `toml:"api_base"`
}

type InstagramConfig struct {
	AccessToken string `toml:"access_token"`
	VerifyToken string `toml:"verify_token"`
	APIBase     string `toml:"api_base"`
}

// EmailConfig covers SMTP send, the inbound parse webhook, and the IMAP
// unseen-mail poller. Mailgun fields are only needed when inbound mail is
// delivered through a Mailgun route.
type EmailConfig struct {
	FromAddress  string `toml:"from_address"`
	SMTPHost     string `toml:"smtp_host"`
	SMTPPort     int    `toml:"smtp_port"`
	SMTPUser     string `toml:"smtp_user"`
	SMTPPassword string `toml:"smtp_password"`
	SMTPSecurity string `toml:"smtp_security"`

	IMAPHost            string `toml:"imap_host"`
	IMAPPort            int    `toml:"imap_port"`
	IMAPUser            string `toml:"imap_user"`
	IMAPPassword        string `toml:"imap_password"`
	IMAPSecurity        string `toml:"imap_security"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`

	Mailgun MailgunConfig `toml:"mailgun"`
}

type MailgunConfig struct {
	Domain     string `toml:"domain"`
	APIKey     string `toml:"api_key"`
	SigningKey string `toml:"webhook_signing_key"`
	Region     string `toml:"region"`
}

type WordPressConfig struct {
	WebhookSecret string `toml:"webhook_secret"`
}

// ReconcileConfig drives the aggregate reconciliation cron job.
type ReconcileConfig struct {
	Schedule string `toml:"schedule"`
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// Load reads TOML config from path, falling back to built-in defaults for any
// missing section. A missing file is not an error so the binary can boot from
// environment-provisioned defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			APIBase: DefaultGraphAPIBase,
		},
		Facebook: FacebookConfig{
			APIBase: DefaultGraphAPIBase,
		},
		Instagram: InstagramConfig{
			APIBase: DefaultGraphAPIBase,
		},
		Email: EmailConfig{
			SMTPPort:            587,
			SMTPSecurity:        "starttls",
			IMAPPort:            993,
			IMAPSecurity:        "tls",
			PollIntervalSeconds: 60,
		},
		Reconcile: ReconcileConfig{
			Schedule: "@every 10m",
		},
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}
