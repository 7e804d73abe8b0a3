// Package cache manages versioned response stores ("generations").
// A Storage opens, lists and deletes generations on top of a byte Provider;
// a Generation reads and writes stored responses by request key.
package cache

import (
	"context"
	"fmt"
	"regexp"
	"time"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,200}$`)

// ValidName reports whether name can identify a generation.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// Storage is the store generation manager.
type Storage struct {
	provider Provider
	codec    serializer.Codec
	log      zerolog.Logger
	now      func() time.Time
}

// NewStorage creates a Storage on top of the given provider.
// A nil codec selects msgpack, a nil logger disables logging.
func NewStorage(provider Provider, codec serializer.Codec, logger *zerolog.Logger) *Storage {
	if codec == nil {
		codec = serializer.Msgpack{}
	}
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "storage").Logger()
	}
	return &Storage{
		provider: provider,
		codec:    codec,
		log:      log,
		now:      time.Now,
	}
}

// Open returns the generation with the given name, creating it empty if it
// does not exist yet. Opening the same name twice yields handles to the same
// content.
func (s *Storage) Open(ctx context.Context, name string) (*Generation, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	info, err := s.provider.CreateGeneration(ctx, name, s.now())
	if err != nil {
		return nil, fmt.Errorf("open generation %s: %w", name, err)
	}
	s.log.Trace().Str("generation", name).Time("created", info.CreatedAt).Msg("Opened generation")
	return &Generation{storage: s, info: info}, nil
}

// List returns the names of all generations, oldest first.
func (s *Storage) List(ctx context.Context) ([]string, error) {
	infos, err := s.provider.Generations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

// Generations returns the info of all generations, oldest first.
func (s *Storage) Generations(ctx context.Context) ([]GenerationInfo, error) {
	infos, err := s.provider.Generations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return infos, nil
}

// Delete removes the named generation and reports whether it existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	deleted, err := s.provider.DeleteGeneration(ctx, name)
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	s.log.Debug().Str("generation", name).Bool("existed", deleted).Msg("Deleted generation")
	return deleted, nil
}

// Keys lists the keys of the named generation without creating it.
// ErrNotFound is returned for unknown generations.
func (s *Storage) Keys(ctx context.Context, name string) ([]string, error) {
	return s.provider.Keys(ctx, name)
}

// Close closes the underlying provider.
func (s *Storage) Close() error {
	return s.provider.Close()
}

// Generation is a handle to one named store.
// Handles are cheap and safe for concurrent use.
type Generation struct {
	storage *Storage
	info    GenerationInfo
}

func (g *Generation) Name() string {
	return g.info.Name
}

func (g *Generation) CreatedAt() time.Time {
	return g.info.CreatedAt
}

// Match looks up the stored response for key.
// Entries that cannot be decoded are dropped and reported as a miss.
func (g *Generation) Match(ctx context.Context, key string) (serializer.StoredResponse, bool, error) {
	b, ok, err := g.storage.provider.Get(ctx, g.info.Name, key)
	if err != nil || !ok {
		return serializer.StoredResponse{}, false, err
	}
	sRes, err := g.storage.codec.Decode(b)
	if err != nil {
		g.storage.log.Warn().Err(err).Str("generation", g.info.Name).Str("key", key).Msg("Dropping undecodable entry")
		_ = g.storage.provider.Del(ctx, g.info.Name, key)
		return serializer.StoredResponse{}, false, nil
	}
	return sRes, true, nil
}

// Put stores the response under key, replacing any previous entry.
func (g *Generation) Put(ctx context.Context, key string, sRes serializer.StoredResponse) error {
	b, err := g.storage.codec.Encode(sRes)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", key, err)
	}
	if err := g.storage.provider.Put(ctx, g.info.Name, key, b); err != nil {
		return fmt.Errorf("write entry %s: %w", key, err)
	}
	g.storage.log.Trace().Str("generation", g.info.Name).Str("key", key).Int("bytes", len(b)).Msg("Cache write")
	return nil
}

// Keys lists the keys stored in the generation.
func (g *Generation) Keys(ctx context.Context) ([]string, error) {
	return g.storage.provider.Keys(ctx, g.info.Name)
}
