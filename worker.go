// Package offlinecache implements an offline-first interception layer.
//
// A Worker owns one versioned response store. It decides per request whether
// to bypass, ask the network first or serve from the store first, keeps the
// store populated in the background and falls back to cached content when the
// network is unreachable. A Registration hosts workers, swaps in new versions
// and exposes the active one as an http.RoundTripper and an http.Handler.
package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a Worker.
type State int32

const (
	StateUninstalled State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Worker struct {
	version            string
	scope              *url.URL
	manifest           []string
	fallbackKey        string
	installConcurrency int
	writeTimeout       time.Duration
	maxEntryBytes      int64
	notification       NotificationConfig

	storage    *cache.Storage
	network    http.RoundTripper
	clients    Clients
	notifier   Notifier
	classifier classifier.Classifier
	keyer      cachekey.CacheKeyer
	log        zerolog.Logger
	now        func() time.Time

	// mu guards the lifecycle fields below
	mu          sync.Mutex
	state       State
	skipWaiting bool
	target      *cache.Generation

	// active is set once activation completes; strategies read it lock-free
	active atomic.Pointer[cache.Generation]

	background sync.WaitGroup
}

// NewWorker validates the configuration and returns an uninstalled worker.
func NewWorker(config Config) (*Worker, error) {
	if !cache.ValidName(config.Version) {
		return nil, fmt.Errorf("version %q: %w", config.Version, cache.ErrInvalidName)
	}
	if !config.Scope.IsAbs() || config.Scope.Host == "" {
		return nil, fmt.Errorf("scope %q must be an absolute url", config.Scope.String())
	}
	if config.Storage == nil {
		return nil, errors.New("storage is required")
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("version", config.Version).
		Logger()

	scope := config.Scope
	w := &Worker{
		version:            config.Version,
		scope:              &scope,
		manifest:           config.Manifest,
		fallbackKey:        config.FallbackKey,
		installConcurrency: config.InstallConcurrency,
		writeTimeout:       config.WriteTimeout,
		maxEntryBytes:      config.MaxEntryBytes,
		notification:       config.Notification.withDefaults(),
		storage:            config.Storage,
		network:            config.Network,
		clients:            config.Clients,
		notifier:           config.Notifier,
		keyer:              cachekey.NewCacheKeyer(&scope),
		log:                logger,
		now:                time.Now,
	}
	if w.manifest == nil {
		w.manifest = DefaultManifest
	}
	if w.fallbackKey == "" {
		w.fallbackKey = defaultFallbackKey
	}
	if w.installConcurrency <= 0 {
		w.installConcurrency = defaultInstallConcurrency
	}
	if w.writeTimeout <= 0 {
		w.writeTimeout = defaultWriteTimeout
	}
	if w.maxEntryBytes == 0 {
		w.maxEntryBytes = defaultMaxEntryBytes
	}
	if w.network == nil {
		w.network = http.DefaultTransport
	}

	excluded := config.ExcludedOrigins
	if excluded == nil {
		excluded = DefaultExcludedOrigins
	}
	suffixes := config.DocumentSuffixes
	if suffixes == nil {
		suffixes = DefaultDocumentSuffixes
	}
	for _, rule := range config.Routes {
		if !rule.Class.Valid() {
			return nil, fmt.Errorf("route %+v: unknown class %q", rule, rule.Class)
		}
	}
	rootPaths := []string{}
	if scope.Path != "" {
		rootPaths = append(rootPaths, scope.Path)
	}
	w.classifier = classifier.New(classifier.Config{
		ExcludedOrigins:  excluded,
		DocumentSuffixes: suffixes,
		RootPaths:        rootPaths,
		Rules:            config.Routes,
	})

	return w, nil
}

func (w *Worker) Version() string {
	return w.version
}

func (w *Worker) Scope() url.URL {
	return *w.scope
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SkipWaiting reports whether the worker asked to replace the active worker
// as soon as it is installed.
func (w *Worker) SkipWaiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

// Generation returns the store serving fetches, or nil before activation.
func (w *Worker) Generation() *cache.Generation {
	return w.active.Load()
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return &TransitionError{From: w.state, To: to}
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Install opens the store for this version and populates it with the manifest.
// Manifest entries that cannot be fetched are logged and skipped. Install only
// fails if the store itself cannot be opened, in which case the worker becomes
// redundant.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateUninstalled, StateInstalling); err != nil {
		return err
	}
	w.log.Info().Msg("Installing")

	gen, err := w.storage.Open(ctx, w.version)
	if err != nil {
		w.setState(StateRedundant)
		w.log.Error().Err(err).Msg("Could not open cache")
		return fmt.Errorf("install %s: %w", w.version, err)
	}

	cached := w.precache(ctx, gen)
	w.log.Info().
		Int("cached", cached).
		Int("manifest", len(w.manifest)).
		Msg("Installed")

	w.mu.Lock()
	w.target = gen
	w.skipWaiting = true
	w.state = StateInstalled
	w.mu.Unlock()
	return nil
}

func (w *Worker) precache(ctx context.Context, gen *cache.Generation) int {
	var cached atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.installConcurrency)
	for _, ref := range w.manifest {
		ref := ref
		g.Go(func() error {
			if err := w.addToCache(ctx, gen, ref); err != nil {
				w.log.Warn().Err(err).Str("ref", ref).Msg("Could not cache manifest entry")
				return nil
			}
			cached.Add(1)
			return nil
		})
	}
	g.Wait()
	return int(cached.Load())
}

func (w *Worker) addToCache(ctx context.Context, gen *cache.Generation, ref string) error {
	u, err := w.keyer.Resolve(ref)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	res, err := w.network.RoundTrip(req)
	if err != nil {
		return err
	}
	defer func() { res.Body.Close() }()

	if verdict := w.cacheability(req, res); !verdict.Cacheable {
		return fmt.Errorf("%s: not cacheable (%s, status %d)", u, verdict.Reason, res.StatusCode)
	}
	sRes, err := serializer.Capture(res, w.maxEntryBytes, w.now())
	if err != nil {
		return err
	}
	return gen.Put(ctx, w.keyer.GetKey(req), sRes)
}

// Activate deletes every store except this version's, starts serving from it
// and claims the host's clients.
// If cleanup fails the worker stays installed and activation may be retried.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	w.log.Info().Msg("Activating")

	if err := w.deleteStaleGenerations(ctx); err != nil {
		w.setState(StateInstalled)
		w.log.Error().Err(err).Msg("Activation failed")
		return fmt.Errorf("activate %s: %w", w.version, err)
	}

	w.mu.Lock()
	w.active.Store(w.target)
	w.state = StateActivated
	w.mu.Unlock()
	w.log.Info().Msg("Activated")

	if w.clients != nil {
		if err := w.clients.Claim(ctx, w); err != nil {
			w.log.Warn().Err(err).Msg("Could not claim clients")
		}
	}
	return nil
}

func (w *Worker) deleteStaleGenerations(ctx context.Context) error {
	names, err := w.storage.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == w.version {
			continue
		}
		w.log.Info().Str("generation", name).Msg("Deleting old cache")
		if _, err := w.storage.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// MarkRedundant retires the worker. A redundant worker keeps answering fetches
// that are already in flight but is no longer eligible for activation.
func (w *Worker) MarkRedundant() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRedundant {
		w.log.Debug().Stringer("from", w.state).Msg("Worker is redundant")
		w.state = StateRedundant
	}
}

// Wait blocks until the background writes of every response read to its end
// so far have finished.
func (w *Worker) Wait() {
	w.background.Wait()
}
