package cache

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/config"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
)

var ErrUnknownCacheType = errors.New("unknown cache type")

// NamedTier is a durable tier with the name it reports on hits.
type NamedTier struct {
	Name  string
	Cache TileCache
}

// NewDurable creates one durable tier by type.
func NewDurable(cacheType string, cfg config.Cache, redisCfg config.Redis, l logger.Logger) (TileCache, error) {
	l = logger.OrNoOp(l)

	switch cacheType {
	case "map":
		l.Info("using map cache")
		return NewMapCache(), nil
	case "filesystem":
		l.Info("using filesystem cache", "dir", cfg.FilesystemDir)
		return NewFilesystemCache(cfg.FilesystemDir, l)
	case "sqlite":
		l.Info("using sqlite cache", "path", cfg.SQLitePath)
		return NewSQLiteCache(cfg.SQLitePath, l)
	case "redis":
		l.Info("using redis cache", "addr", redisCfg.Addr, "ttl", redisCfg.TTL)
		return NewRedisCache(RedisConfig{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
			TTL:      redisCfg.TTL,
		})
	case "none", "disabled":
		l.Info("durable cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: map, filesystem, sqlite, redis, none)", ErrUnknownCacheType, cacheType)
	}
}

// NewDurableTiers parses cfg.Durable as a comma separated, ordered list of
// tier types, e.g. "redis,sqlite". The returned close function releases
// every tier that holds a connection.
func NewDurableTiers(cfg config.Cache, redisCfg config.Redis, l logger.Logger) ([]NamedTier, func() error, error) {
	var (
		tiers   []NamedTier
		closers []io.Closer
	)

	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}

	for _, name := range strings.Split(cfg.Durable, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		tier, err := NewDurable(name, cfg, redisCfg, l)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create %s cache: %w", name, err)
		}
		if _, ok := tier.(*NoopCache); ok {
			continue
		}
		if c, ok := tier.(io.Closer); ok {
			closers = append(closers, c)
		}
		tiers = append(tiers, NamedTier{Name: name, Cache: tier})
	}

	return tiers, closeAll, nil
}
