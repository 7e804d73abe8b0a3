package main

import (
	"fmt"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// average stored response size used to size the hot layer's admission counters
const hotEntryEstimate = 16 << 10

func openProvider(sc StoreConfig) (cache.Provider, error) {
	var provider cache.Provider
	switch sc.Provider {
	case "sqlite":
		filename := sc.DB
		if filename == "memory" {
			filename = ""
		}
		p, err := cache.NewSQLiteProvider(filename)
		if err != nil {
			return nil, err
		}
		provider = p
	case "memory":
		provider = cache.NewMemoryProvider()
	case "bigcache":
		p, err := cache.NewBigCacheProvider(cache.BigCacheConfig{HardMaxCacheSizeMB: sc.BigCacheMaxMB})
		if err != nil {
			return nil, err
		}
		provider = p
	case "redis":
		opts, err := goredis.ParseURL(sc.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		p, err := cache.NewRedisProvider(cache.RedisConfig{
			Client:      goredis.NewClient(opts),
			Prefix:      sc.RedisPrefix,
			CloseClient: true,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", sc.Provider)
	}

	if sc.HotMaxBytes <= 0 {
		return provider, nil
	}
	counters := 10 * (sc.HotMaxBytes / hotEntryEstimate)
	if counters < 1000 {
		counters = 1000
	}
	hot, err := cache.NewHotProvider(provider, cache.HotConfig{
		NumCounters: counters,
		MaxCost:     sc.HotMaxBytes,
		BufferItems: 64,
		TTL:         sc.HotTTL,
	})
	if err != nil {
		provider.Close()
		return nil, err
	}
	return hot, nil
}

func openStorage(sc StoreConfig, logger *zerolog.Logger) (*cache.Storage, error) {
	codec, err := serializer.ByName(sc.Codec)
	if err != nil {
		return nil, err
	}
	provider, err := openProvider(sc)
	if err != nil {
		return nil, err
	}
	return cache.NewStorage(provider, codec, logger), nil
}
