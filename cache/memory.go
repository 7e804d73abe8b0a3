package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memGeneration struct {
	info    GenerationInfo
	seq     int
	entries map[string][]byte
}

// MemoryProvider keeps generations in process memory.
type MemoryProvider struct {
	mutex       *sync.RWMutex
	seq         int
	generations map[string]*memGeneration
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		mutex:       &sync.RWMutex{},
		generations: make(map[string]*memGeneration),
	}
}

func (m *MemoryProvider) CreateGeneration(_ context.Context, name string, createdAt time.Time) (GenerationInfo, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if g, ok := m.generations[name]; ok {
		return g.info, nil
	}
	m.seq++
	g := &memGeneration{
		info:    GenerationInfo{Name: name, CreatedAt: createdAt},
		seq:     m.seq,
		entries: make(map[string][]byte),
	}
	m.generations[name] = g
	return g.info, nil
}

func (m *MemoryProvider) Generations(_ context.Context) ([]GenerationInfo, error) {
	m.mutex.RLock()
	gens := make([]*memGeneration, 0, len(m.generations))
	for _, g := range m.generations {
		gens = append(gens, g)
	}
	m.mutex.RUnlock()
	sort.Slice(gens, func(i, j int) bool {
		return gens[i].seq < gens[j].seq
	})
	infos := make([]GenerationInfo, len(gens))
	for i, g := range gens {
		infos[i] = g.info
	}
	return infos, nil
}

func (m *MemoryProvider) DeleteGeneration(_ context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.generations[name]
	delete(m.generations, name)
	return ok, nil
}

func (m *MemoryProvider) Get(_ context.Context, generation, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	g, ok := m.generations[generation]
	if !ok {
		return nil, false, nil
	}
	b, ok := g.entries[key]
	return b, ok, nil
}

func (m *MemoryProvider) Put(_ context.Context, generation, key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	g, ok := m.generations[generation]
	if !ok {
		return ErrNotFound
	}
	// keep our own copy, callers may reuse their buffer
	g.entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryProvider) Del(_ context.Context, generation, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if g, ok := m.generations[generation]; ok {
		delete(g.entries, key)
	}
	return nil
}

func (m *MemoryProvider) Keys(_ context.Context, generation string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	g, ok := m.generations[generation]
	if !ok {
		return nil, ErrNotFound
	}
	keys := make([]string, 0, len(g.entries))
	for key := range g.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryProvider) Close() error {
	return nil
}
