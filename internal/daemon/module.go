// Package daemon composes the chat core into a running process: config,
// logging, lock, gateway, realtime channel, store and bridge, wired
// through fx with lifecycle hooks.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/DERELya/instaking-chat/internal/bus"
	"github.com/DERELya/instaking-chat/internal/chat"
	"github.com/DERELya/instaking-chat/internal/config"
	"github.com/DERELya/instaking-chat/internal/gateway"
	"github.com/DERELya/instaking-chat/internal/lock"
	"github.com/DERELya/instaking-chat/internal/logging"
	"github.com/DERELya/instaking-chat/internal/realtime"
	"github.com/DERELya/instaking-chat/internal/session"
	"github.com/DERELya/instaking-chat/internal/status"
)

// Params holds the resolved profile configuration passed to the fx
// module. Token is the API token from the environment.
type Params struct {
	Profile string
	Token   string
}

// Module returns the fx module for the chat daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatd",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideGateway,
			provideChannel,
			provideStore,
			provideBridge,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideGateway(p Params, cfg *config.Config) gateway.ConversationGateway {
	return gateway.NewClient(cfg.Server.BaseURL, func() string { return p.Token })
}

func provideChannel(p Params, cfg *config.Config, machine *status.Machine, b *bus.Bus, logger *zap.Logger) realtime.Channel {
	backoff := realtime.Backoff{
		Initial:    time.Duration(cfg.Backoff.InitialMS) * time.Millisecond,
		Max:        time.Duration(cfg.Backoff.MaxMS) * time.Millisecond,
		MaxRetries: cfg.Backoff.MaxRetries,
	}
	return realtime.NewStompChannel(cfg.Server.SocketURL,
		func() string { return p.Token }, machine, b, logger, backoff)
}

func provideStore(cfg *config.Config, gw gateway.ConversationGateway, ch realtime.Channel, b *bus.Bus, logger *zap.Logger) *chat.Store {
	return chat.NewStore(gw, ch, b, logger, chat.Params{
		LocalUserID:    cfg.User.ID,
		LocalUsername:  cfg.User.Username,
		PageSize:       cfg.Chat.PageSize,
		SearchDebounce: cfg.SearchDebounce(),
		TypingTTL:      cfg.TypingTTL(),
	})
}

func provideBridge(store *chat.Store, ch realtime.Channel, logger *zap.Logger) *chat.Bridge {
	return chat.NewBridge(store, ch, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, ch realtime.Channel, store *chat.Store, bridge *chat.Bridge, b *bus.Bus, logger *zap.Logger) {
	var unsubResync func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Queue subscriptions before the channel connects; they
			// are flushed once the broker confirms the session.
			bridge.Start(context.Background())

			// Re-sync the REST snapshot on every (re)connect: push
			// events missed while the channel was down are recovered
			// from the list reload.
			events, unsub := b.Subscribe("channel.", 16)
			unsubResync = unsub
			go func() {
				for evt := range events {
					change, ok := evt.Payload.(status.StatusChange)
					if !ok || change.To != status.Connected {
						continue
					}
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if err := store.LoadConversations(ctx); err != nil {
						logger.Error("conversation sync failed", zap.Error(err))
					}
					cancel()
				}
			}()

			if err := ch.Connect(context.Background()); err != nil {
				return err
			}
			logger.Info("chat daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			ch.Disconnect()
			bridge.Stop()
			if unsubResync != nil {
				unsubResync()
			}
			store.Reset()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("chat daemon stopped")
			return nil
		},
	})
}
