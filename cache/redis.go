package cache

import (
	"context"
	"errors"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("redis provider: nil client")

// putScript writes the entry only while the generation is registered, so a
// late background write cannot resurrect a deleted generation.
var putScript = goredis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// RedisProvider stores generations in Redis: a sorted set of generation
// names scored by creation time, and one hash of entries per generation.
type RedisProvider struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ Provider = (*RedisProvider)(nil)

type RedisConfig struct {
	Client goredis.UniversalClient
	// Key prefix, defaults to "offline-cache".
	Prefix string
	// Set true only if this provider exclusively owns the client.
	CloseClient bool
}

func NewRedisProvider(cfg RedisConfig) (*RedisProvider, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "offline-cache"
	}
	return &RedisProvider{rdb: cfg.Client, prefix: prefix, closeClient: cfg.CloseClient}, nil
}

func (p *RedisProvider) generationsKey() string {
	return p.prefix + ":generations"
}

func (p *RedisProvider) entriesKey(generation string) string {
	return p.prefix + ":gen:" + generation
}

func (p *RedisProvider) CreateGeneration(ctx context.Context, name string, createdAt time.Time) (GenerationInfo, error) {
	err := p.rdb.ZAddNX(ctx, p.generationsKey(), goredis.Z{
		Score:  float64(createdAt.UnixMilli()),
		Member: name,
	}).Err()
	if err != nil {
		return GenerationInfo{}, err
	}
	score, err := p.rdb.ZScore(ctx, p.generationsKey(), name).Result()
	if err != nil {
		return GenerationInfo{}, err
	}
	return GenerationInfo{Name: name, CreatedAt: time.UnixMilli(int64(score))}, nil
}

func (p *RedisProvider) Generations(ctx context.Context) ([]GenerationInfo, error) {
	zs, err := p.rdb.ZRangeWithScores(ctx, p.generationsKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	infos := make([]GenerationInfo, 0, len(zs))
	for _, z := range zs {
		name, ok := z.Member.(string)
		if !ok {
			continue
		}
		infos = append(infos, GenerationInfo{Name: name, CreatedAt: time.UnixMilli(int64(z.Score))})
	}
	return infos, nil
}

func (p *RedisProvider) DeleteGeneration(ctx context.Context, name string) (bool, error) {
	var removed *goredis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.ZRem(ctx, p.generationsKey(), name)
		pipe.Del(ctx, p.entriesKey(name))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (p *RedisProvider) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	b, err := p.rdb.HGet(ctx, p.entriesKey(generation), key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *RedisProvider) Put(ctx context.Context, generation, key string, value []byte) error {
	written, err := putScript.Run(ctx, p.rdb,
		[]string{p.generationsKey(), p.entriesKey(generation)},
		generation, key, value).Int()
	if err != nil {
		return err
	}
	if written == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *RedisProvider) Del(ctx context.Context, generation, key string) error {
	return p.rdb.HDel(ctx, p.entriesKey(generation), key).Err()
}

func (p *RedisProvider) Keys(ctx context.Context, generation string) ([]string, error) {
	if _, err := p.rdb.ZScore(ctx, p.generationsKey(), generation).Result(); err == goredis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	keys, err := p.rdb.HKeys(ctx, p.entriesKey(generation)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the underlying redis client only when this provider owns it.
func (p *RedisProvider) Close() error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
