// Command ledgerctl runs ledger maintenance jobs against the configured store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/configs"
	"github.com/mikeggyy/chat-app-all-sub002/internal/config"
	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/pkg/messagequeue"
)

var Version = "dev"

// app is what every subcommand runs against.
type app struct {
	cfg        *config.Config
	store      db.Store
	assets     *core.AssetService
	membership *core.MembershipService
	monitor    *core.AdMonitorService
	logger     *zap.Logger
	// consume subscribes to the alert queue; nil when RabbitMQ is not configured.
	consume func(ctx context.Context, handler func([]byte)) error
	close   func()
}

type opener func(ctx context.Context) (*app, error)

func newApp(store db.Store, economy *configs.Economy, cfg *config.Config, logger *zap.Logger) *app {
	return &app{
		cfg:        cfg,
		store:      store,
		assets:     core.NewAssetService(store, logger, nil),
		membership: core.NewMembershipService(store, economy, cfg.UpgradeLockTTL(), logger, nil),
		monitor:    core.NewAdMonitorService(store, int64(cfg.AdDailyLimit), logger, nil),
		logger:     logger,
		close:      func() {},
	}
}

func openFromEnv(ctx context.Context) (*app, error) {
	_ = godotenv.Load()
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	economy, err := configs.LoadEconomy(cfg.EconomyConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.StoreBackend != config.StoreFirestore {
		return nil, fmt.Errorf("ledgerctl needs STORE_BACKEND=%s, got %q", config.StoreFirestore, cfg.StoreBackend)
	}
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := db.InitFirestore(initCtx, cfg); err != nil {
		return nil, err
	}
	store := db.NewFirestoreStore(db.GetFirestoreClient())

	a := newApp(store, economy, cfg, logger)
	var queue *messagequeue.RabbitMQService
	if cfg.RabbitMQURL != "" {
		queue, err = messagequeue.NewRabbitMQService(messagequeue.NewRabbitMQServiceConfig{URL: cfg.RabbitMQURL}, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.consume = func(ctx context.Context, handler func([]byte)) error {
			return queue.Consume(ctx, cfg.AlertQueueName, handler)
		}
	}
	a.close = func() {
		if queue != nil {
			_ = queue.Close()
		}
		_ = store.Close()
		_ = logger.Sync()
	}
	return a, nil
}

func main() {
	if err := newRootCmd(openFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
