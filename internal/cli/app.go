package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/rbs/pkg/rbs"
	"github.com/aussiebroadwan/rbs/pkg/securestore"
	"github.com/aussiebroadwan/rbs/pkg/securestore/redis"
	"github.com/aussiebroadwan/rbs/pkg/securestore/sqlite"
	"github.com/aussiebroadwan/rbs/pkg/slogx"
)

// App holds the client and the store behind it for one rbsctl invocation.
type App struct {
	Config Config
	Logger *slog.Logger
	Client *rbs.Client

	closeStore func() error
}

// New opens the configured store and builds a client on top of it. Extra
// options are applied after the store and logger.
func New(ctx context.Context, cfg Config, opts ...rbs.Option) (*App, error) {
	logger := slogx.New(slogx.Config{
		Service: "rbsctl",
		Version: rbs.Version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	sdkCfg, err := cfg.SDKConfig()
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := rbs.New(sdkCfg, append([]rbs.Option{rbs.WithStore(store), rbs.WithLogger(logger)}, opts...)...)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	logger.Debug("rbsctl ready", "project_id", sdkCfg.ProjectID, "store", cfg.Store)
	return &App{Config: cfg, Logger: logger, Client: client, closeStore: closeStore}, nil
}

// Close shuts the client down, then the store.
func (a *App) Close() error {
	return errors.Join(a.Client.Close(), a.closeStore())
}

func openStore(ctx context.Context, cfg Config) (securestore.Store, func() error, error) {
	switch cfg.Store {
	case StoreMemory:
		return securestore.NewMemory(), func() error { return nil }, nil

	case StoreSQLite:
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", cfg.SQLitePath)
		s, err := sqlite.NewStore(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil

	case StoreRedis:
		s, err := redis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
