package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/adeilh/rakhcache/api"
	"github.com/adeilh/rakhcache/auth"
	"github.com/adeilh/rakhcache/cache"
	"github.com/adeilh/rakhcache/cache/memory"
	"github.com/adeilh/rakhcache/cache/redis"
	"github.com/adeilh/rakhcache/catalog"
	"github.com/adeilh/rakhcache/db/sql/postgres"
	"github.com/adeilh/rakhcache/internal/config"
	mylog "github.com/adeilh/rakhcache/internal/log"
	"github.com/adeilh/rakhcache/reqcache"
)

const minSecretLength = 32

var ErrSharedStoreRequired = errors.New("command needs a shared backing store (redis or postgres)")

// setup loads the configuration, applies flag overrides and installs the
// log handler.
func setup(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.IsSet("backend-url") {
		cfg.Backend.URL = cmd.String("backend-url")
	}
	if err := mylog.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return cfg, err
	}
	log.Debugf("config loaded from %q", cmd.String("config"))
	return cfg, nil
}

// openBacking returns the configured shared store. A nil store means the
// catalog runs on its in-process caches only.
func openBacking(ctx context.Context, b config.Backing) (cache.Store, func() error, error) {
	noop := func() error { return nil }
	switch b.Driver {
	case "", config.BackingNone:
		return nil, noop, nil
	case config.BackingMemory:
		return memory.NewStore(), noop, nil
	case config.BackingRedis:
		s := redis.NewStore(redis.Options{
			Addr:     b.Redis.Addr,
			Username: b.Redis.Username,
			Password: b.Redis.Password,
			DB:       b.Redis.DB,
		})
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, noop, fmt.Errorf("redis backing: %w", err)
		}
		return s, s.Close, nil
	case config.BackingPostgres:
		opts := []postgres.Option{postgres.WithDSN(b.Postgres.DSN)}
		if b.Postgres.Table != "" {
			opts = append(opts, postgres.WithCacheTable(b.Postgres.Table))
		}
		if b.Postgres.MaxConns > 0 {
			opts = append(opts, postgres.WithPool(postgres.Pool{MaxOpen: b.Postgres.MaxConns, MaxIdle: b.Postgres.MaxConns / 2}))
		}
		s, db, err := postgres.Connect(ctx, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres backing: %w", err)
		}
		return s, db.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: backing driver %q", config.ErrInvalid, b.Driver)
	}
}

// purgeStore drops expired rows from stores that keep them around.
func purgeStore(ctx context.Context, store cache.Store, every time.Duration) {
	if store == nil || every <= 0 {
		return
	}
	type sweeper interface{ Sweep() int }
	type purger interface {
		PurgeExpired(context.Context) (int64, error)
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			switch s := store.(type) {
			case sweeper:
				s.Sweep()
			case purger:
				if n, err := s.PurgeExpired(ctx); err != nil {
					log.WithError(err).Warn("purging expired backing entries")
				} else if n > 0 {
					log.WithField("removed", n).Debug("purged expired backing entries")
				}
			}
		}
	}()
}

func newProvider(cfg config.Config, store cache.Store) (*auth.HMACProvider, error) {
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("%w: auth.secret is required", config.ErrInvalid)
	}
	opts := []auth.ProviderOption{
		auth.WithMinSecretLength(minSecretLength),
		auth.WithLeeway(cfg.Auth.Leeway.Duration),
	}
	if cfg.Auth.Issuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.Auth.Issuer))
	}
	if len(cfg.Auth.Audience) > 0 {
		opts = append(opts, auth.WithAudience(cfg.Auth.Audience...))
	}
	if store != nil {
		opts = append(opts, auth.WithRevocationStore(store, cfg.Cache.Backing.Prefix+"-revoked"))
	}
	return auth.NewHMACProvider([]byte(cfg.Auth.Secret), opts...)
}

func newClient(cfg config.Config) (*api.Client, error) {
	if cfg.Backend.URL == "" {
		return nil, fmt.Errorf("%w: backend.url is required", config.ErrInvalid)
	}
	return api.New(cfg.Backend.URL,
		api.WithToken(cfg.Backend.Token),
		api.WithTimeout(cfg.Backend.Timeout.Duration),
	), nil
}

func newCatalog(cfg config.Config, src catalog.Source, store cache.Store) *catalog.Service {
	opts := []catalog.Option{catalog.WithLogger(log.Log)}
	if store != nil {
		opts = append(opts, catalog.WithBacking(reqcache.NewBacking(store,
			reqcache.WithBackingPrefix(cfg.Cache.Backing.Prefix),
			reqcache.WithBackingLogger(log.Log),
		)))
	}
	for r, d := range cfg.TTLs() {
		opts = append(opts, catalog.WithTTL(r, d))
	}
	return catalog.New(src, opts...)
}
