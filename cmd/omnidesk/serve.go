package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/conversation"
	"github.com/omnidesk/omnidesk/internal/customer"
	"github.com/omnidesk/omnidesk/internal/db"
	"github.com/omnidesk/omnidesk/internal/handlers"
	"github.com/omnidesk/omnidesk/internal/inbox"
	"github.com/omnidesk/omnidesk/internal/lead"
	"github.com/omnidesk/omnidesk/internal/logger"
	"github.com/omnidesk/omnidesk/internal/message"
	"github.com/omnidesk/omnidesk/internal/platform"
	"github.com/omnidesk/omnidesk/internal/platform/adapters/email"
	"github.com/omnidesk/omnidesk/internal/platform/adapters/messenger"
	"github.com/omnidesk/omnidesk/internal/platform/adapters/telegram"
	"github.com/omnidesk/omnidesk/internal/platform/adapters/whatsapp"
	"github.com/omnidesk/omnidesk/internal/realtime"
	"github.com/omnidesk/omnidesk/internal/server"
	"github.com/omnidesk/omnidesk/internal/users"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			customer.NewStore,
			conversation.NewStore,
			message.NewStore,
			lead.NewStore,
			users.NewService,
			provideRegistry,
			platform.NewDispatcher,
			provideResolver,
			provideHub,
			provideInboxService,
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideConversationHandler),
			provideServerHandler(provideLeadHandler),
			provideServerHandler(provideWSHandler),
			provideServer,
		),
		fx.Invoke(
			startServer,
			startEmailPoller,
			startReconcileJob,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres.DSN()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.Connect(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideRegistry(log *slog.Logger, cfg config.Config) *platform.Registry {
	registry := platform.NewRegistry()
	registry.MustRegister(whatsapp.New(log, cfg.WhatsApp))
	registry.MustRegister(telegram.New(log, cfg.Telegram))
	registry.MustRegister(messenger.NewFacebook(log, cfg.Facebook))
	registry.MustRegister(messenger.NewInstagram(log, cfg.Instagram))
	registry.MustRegister(email.New(log, cfg.Email))
	return registry
}

func provideResolver(log *slog.Logger, customers *customer.Store, conversations *conversation.Store, registry *platform.Registry) *conversation.Resolver {
	return conversation.NewResolver(log, customers, conversations, registry)
}

func provideHub(log *slog.Logger, conversations *conversation.Store, messages *message.Store) *realtime.Hub {
	return realtime.NewHub(log, conversations, messages)
}

func provideInboxService(log *slog.Logger, resolver *conversation.Resolver, conversations *conversation.Store, messages *message.Store, dispatcher *platform.Dispatcher, hub *realtime.Hub) *inbox.Service {
	return inbox.NewService(log, resolver, conversations, messages, dispatcher, hub)
}

func provideHealthHandler(log *slog.Logger) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log)
}

func provideAuthHandler(log *slog.Logger, svc *users.Service, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, svc, cfg.Auth)
}

func provideWebhookHandler(log *slog.Logger, registry *platform.Registry, dispatcher *platform.Dispatcher, svc *inbox.Service, leads *lead.Store, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, registry, dispatcher, svc, leads, cfg)
}

func provideConversationHandler(log *slog.Logger, conversations *conversation.Store, messages *message.Store, svc *inbox.Service) *handlers.ConversationHandler {
	return handlers.NewConversationHandler(log, conversations, messages, svc)
}

func provideLeadHandler(log *slog.Logger, leads *lead.Store) *handlers.LeadHandler {
	return handlers.NewLeadHandler(log, leads)
}

func provideWSHandler(log *slog.Logger, hub *realtime.Hub, cfg config.Config) *handlers.WSHandler {
	return handlers.NewWSHandler(log, hub, cfg.Auth)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Handlers)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, userService *users.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
				if err := userService.SeedAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
					return fmt.Errorf("seed admin: %w", err)
				}
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

// startEmailPoller drives the IMAP unseen-mail loop. Email has no push
// webhook unless Mailgun routes are configured, so inbound mail arrives
// through periodic polls.
func startEmailPoller(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, registry *platform.Registry, svc *inbox.Service) {
	if cfg.Email.IMAPHost == "" {
		return
	}
	poller, ok := registry.GetPoller(platform.PlatformEmail)
	if !ok {
		return
	}
	interval := time.Duration(cfg.Email.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						events, err := poller.Poll(ctx)
						if err != nil {
							log.Error("email poll failed", slog.Any("error", err))
							continue
						}
						for _, event := range events {
							if err := svc.HandleInbound(ctx, event); err != nil {
								log.Error("handle polled email failed", slog.Any("error", err))
							}
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

// startReconcileJob periodically recomputes unread counters from the message
// table. Aggregate updates after a persisted message are best effort, so the
// counters can drift when one of those updates fails.
func startReconcileJob(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, conversations *conversation.Store) {
	if cfg.Reconcile.Schedule == "" {
		return
	}
	c := cron.New()
	_, err := c.AddFunc(cfg.Reconcile.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		fixed, err := conversations.ReconcileUnread(ctx)
		if err != nil {
			log.Error("unread reconcile failed", slog.Any("error", err))
			return
		}
		if fixed > 0 {
			log.Info("unread counters reconciled", slog.Int("conversations", fixed))
		}
	})
	if err != nil {
		log.Error("invalid reconcile schedule",
			slog.String("schedule", cfg.Reconcile.Schedule), slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { c.Start(); return nil },
		OnStop:  func(ctx context.Context) error { c.Stop(); return nil },
	})
}
