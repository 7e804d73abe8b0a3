package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"
)

const bigcacheKeySeparator = "\x00"

type bigGeneration struct {
	info GenerationInfo
	seq  int

	// Put only holds the provider's read lock, so the key set has its own.
	keysMu sync.Mutex
	keys   map[string]struct{}
}

// BigCacheProvider keeps entry bytes in BigCache shards and the generation
// registry in a map. Entries may be evicted by BigCache's life window; evicted
// entries read as misses.
type BigCacheProvider struct {
	c           *bc.BigCache
	mu          sync.RWMutex
	seq         int
	generations map[string]*bigGeneration
}

var _ Provider = (*BigCacheProvider)(nil)

type BigCacheConfig struct {
	// Lifetime of an entry. Defaults to one year, i.e. practically no expiry.
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func NewBigCacheProvider(cfg BigCacheConfig) (*BigCacheProvider, error) {
	lifeWindow := cfg.LifeWindow
	if lifeWindow <= 0 {
		lifeWindow = 365 * 24 * time.Hour
	}
	conf := bc.DefaultConfig(lifeWindow)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &BigCacheProvider{c: c, generations: make(map[string]*bigGeneration)}, nil
}

func bigcacheKey(generation, key string) string {
	return generation + bigcacheKeySeparator + key
}

func (p *BigCacheProvider) CreateGeneration(_ context.Context, name string, createdAt time.Time) (GenerationInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.generations[name]; ok {
		return g.info, nil
	}
	p.seq++
	g := &bigGeneration{
		info: GenerationInfo{Name: name, CreatedAt: createdAt},
		seq:  p.seq,
		keys: make(map[string]struct{}),
	}
	p.generations[name] = g
	return g.info, nil
}

func (p *BigCacheProvider) Generations(_ context.Context) ([]GenerationInfo, error) {
	p.mu.RLock()
	gens := make([]*bigGeneration, 0, len(p.generations))
	for _, g := range p.generations {
		gens = append(gens, g)
	}
	p.mu.RUnlock()
	sort.Slice(gens, func(i, j int) bool { return gens[i].seq < gens[j].seq })
	infos := make([]GenerationInfo, len(gens))
	for i, g := range gens {
		infos[i] = g.info
	}
	return infos, nil
}

func (p *BigCacheProvider) DeleteGeneration(_ context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.generations[name]
	if !ok {
		return false, nil
	}
	delete(p.generations, name)
	for key := range g.keys {
		if err := p.c.Delete(bigcacheKey(name, key)); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
			return true, err
		}
	}
	return true, nil
}

func (p *BigCacheProvider) Get(_ context.Context, generation, key string) ([]byte, bool, error) {
	b, err := p.c.Get(bigcacheKey(generation, key))
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (p *BigCacheProvider) Put(_ context.Context, generation, key string, value []byte) error {
	// the read lock keeps DeleteGeneration from running between check and set
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.generations[generation]
	if !ok {
		return ErrNotFound
	}
	if err := p.c.Set(bigcacheKey(generation, key), value); err != nil {
		return err
	}
	g.keysMu.Lock()
	g.keys[key] = struct{}{}
	g.keysMu.Unlock()
	return nil
}

func (p *BigCacheProvider) Del(_ context.Context, generation, key string) error {
	err := p.c.Delete(bigcacheKey(generation, key))
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	return err
}

// Keys lists the keys of entries that are still present in BigCache.
func (p *BigCacheProvider) Keys(_ context.Context, generation string) ([]string, error) {
	p.mu.RLock()
	g, ok := p.generations[generation]
	if !ok {
		p.mu.RUnlock()
		return nil, ErrNotFound
	}
	g.keysMu.Lock()
	candidates := make([]string, 0, len(g.keys))
	for key := range g.keys {
		candidates = append(candidates, key)
	}
	g.keysMu.Unlock()
	p.mu.RUnlock()

	keys := make([]string, 0, len(candidates))
	for _, key := range candidates {
		if _, err := p.c.Get(bigcacheKey(generation, key)); err == nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (p *BigCacheProvider) Close() error {
	return p.c.Close()
}
