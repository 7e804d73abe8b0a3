package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a generation does not exist.
	ErrNotFound = errors.New("generation not found")
	// ErrInvalidName is returned for generation names that are empty or
	// contain characters outside [A-Za-z0-9._@:-].
	ErrInvalidName = errors.New("invalid generation name")
)

// GenerationInfo describes one generation held by a provider.
type GenerationInfo struct {
	Name      string
	CreatedAt time.Time
}

// Provider is a byte store partitioned into named generations.
// Values are opaque bytes and must be returned exactly as they were put.
//
// Implementations must be thread-safe!
type Provider interface {
	// CreateGeneration registers the generation if it does not exist yet and
	// returns its info. Calling it for an existing generation returns the
	// existing info unchanged.
	CreateGeneration(ctx context.Context, name string, createdAt time.Time) (GenerationInfo, error)
	// Generations lists all generations, oldest first.
	Generations(ctx context.Context) ([]GenerationInfo, error)
	// DeleteGeneration removes the generation and all of its entries.
	// It reports whether the generation existed.
	DeleteGeneration(ctx context.Context, name string) (bool, error)
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, generation, key string) ([]byte, bool, error)
	// Put stores value under key, replacing any previous value.
	// It returns ErrNotFound if the generation does not exist.
	Put(ctx context.Context, generation, key string, value []byte) error
	// Del removes a single entry (best-effort).
	Del(ctx context.Context, generation, key string) error
	// Keys lists the entry keys of a generation in lexical order.
	Keys(ctx context.Context, generation string) ([]string, error)
	// Close releases resources.
	Close() error
}
