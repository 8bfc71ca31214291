package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// New returns the store for the configuration,
// or nil if the archive is not configured.
func New(ctx context.Context, cfg *config.Config) (MessageStoreManager, error) {
	sc := cfg.Store
	switch sc.Type {
	case "":
		return nil, nil
	case config.StoreMemory:
		return NewMemoryStore(sc.MaxMessages), nil
	case config.StoreRedis:
		opts, err := redis.ParseURL(sc.RedisURL)
		if err != nil {
			return nil, errors.WithMessagef(config.ErrInvalidConfig, "store: invalid redis_url: %s", err.Error())
		}
		client := redis.NewClient(opts)
		if err = client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "failed to connect to Redis")
		}
		logger.ContextKV(ctx, xlog.INFO,
			"status", "connected",
			"store", sc.Type,
			"addr", opts.Addr,
		)
		return NewRedisStore(client, RedisOptions{
			Prefix:      sc.Prefix,
			MaxMessages: sc.MaxMessages,
			TTL:         cfg.StoreTTL(),
		}), nil
	case config.StoreSQLite:
		return NewSQLiteStore(ctx, sc.Path, sc.MaxMessages)
	default:
		return nil, errors.WithMessagef(config.ErrInvalidConfig, "store: unsupported type %q", sc.Type)
	}
}
