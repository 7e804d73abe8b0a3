package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/dgraph-io/ristretto/z"
)

const hotStripes = 256

// HotProvider puts a Ristretto read cache in front of another provider.
// Reads are served from memory when possible; writes go to the underlying
// provider and invalidate the hot copy.
//
// A read that misses fills the hot copy only if no write to the same key
// stripe, and no generation delete, happened while it read the backing
// provider. Otherwise a slow read could put back a value that was already
// replaced.
type HotProvider struct {
	Provider
	c   *ristretto.Cache
	ttl time.Duration

	mu      sync.Mutex
	epoch   uint64
	stripes [hotStripes]uint64
}

var _ Provider = (*HotProvider)(nil)

type HotConfig struct {
	NumCounters int64
	// Maximum total bytes held in memory.
	MaxCost     int64
	BufferItems int64
	// TTL of hot copies, 0 keeps them until evicted.
	TTL time.Duration
}

func NewHotProvider(p Provider, cfg HotConfig) (*HotProvider, error) {
	if p == nil {
		return nil, errors.New("hot provider: nil backing provider")
	}
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("hot provider: invalid ristretto config")
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &HotProvider{Provider: p, c: c, ttl: cfg.TTL}, nil
}

func hotKey(generation, key string) string {
	return generation + "\x00" + key
}

func stripe(hk string) int {
	h, _ := z.KeyToHash(hk)
	return int(h % hotStripes)
}

func (h *HotProvider) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	hk := hotKey(generation, key)
	if v, ok := h.c.Get(hk); ok {
		if b, ok := v.([]byte); ok {
			return b, true, nil
		}
		// self-heal: drop unexpected entry shape
		h.invalidate(hk)
	}

	s := stripe(hk)
	h.mu.Lock()
	epoch, version := h.epoch, h.stripes[s]
	h.mu.Unlock()

	b, ok, err := h.Provider.Get(ctx, generation, key)
	if err != nil || !ok {
		return b, ok, err
	}

	h.mu.Lock()
	if h.epoch == epoch && h.stripes[s] == version {
		h.c.SetWithTTL(hk, b, int64(len(b)), h.ttl)
	}
	h.mu.Unlock()
	return b, true, nil
}

// invalidate drops the hot copy of hk and fails fills that are in flight.
func (h *HotProvider) invalidate(hk string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stripes[stripe(hk)]++
	h.c.Del(hk)
}

// Put and Del invalidate before and after the backing write, so that a fill
// racing the write is either refused or removed.
func (h *HotProvider) Put(ctx context.Context, generation, key string, value []byte) error {
	hk := hotKey(generation, key)
	h.invalidate(hk)
	defer h.invalidate(hk)
	return h.Provider.Put(ctx, generation, key, value)
}

func (h *HotProvider) Del(ctx context.Context, generation, key string) error {
	hk := hotKey(generation, key)
	h.invalidate(hk)
	defer h.invalidate(hk)
	return h.Provider.Del(ctx, generation, key)
}

// clear drops every hot copy. Hot keys are not enumerable per generation.
func (h *HotProvider) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.epoch++
	h.c.Clear()
}

func (h *HotProvider) DeleteGeneration(ctx context.Context, name string) (bool, error) {
	h.clear()
	defer h.clear()
	return h.Provider.DeleteGeneration(ctx, name)
}

// Wait blocks until buffered hot writes have been applied.
func (h *HotProvider) Wait() {
	h.c.Wait()
}

func (h *HotProvider) Close() error {
	h.c.Close()
	return h.Provider.Close()
}
