package offlinecache

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerValidatesConfig(t *testing.T) {
	storage := newTestStorage(t)
	scope, _ := url.Parse(testScope)

	_, err := NewWorker(Config{Version: "bad version!", Scope: *scope, Storage: storage})
	assert.ErrorIs(t, err, cache.ErrInvalidName)

	_, err = NewWorker(Config{Version: "v1", Scope: url.URL{Path: "/"}, Storage: storage})
	assert.Error(t, err)

	_, err = NewWorker(Config{Version: "v1", Scope: *scope})
	assert.Error(t, err)
}

func TestNewWorkerDefaultsManifest(t *testing.T) {
	scope, _ := url.Parse(testScope)
	w, err := NewWorker(Config{Version: "v1", Scope: *scope, Storage: newTestStorage(t), Logger: nopLogger()})
	require.NoError(t, err)
	assert.Equal(t, DefaultManifest, w.manifest)
	assert.Len(t, w.manifest, 4)
	assert.Equal(t, "./", w.manifest[0])

	w = newTestWorker(t, "v2", newTestStorage(t), newFakeNetwork())
	assert.Equal(t, []string{"./"}, w.manifest)
}

func TestInstallToleratesFailingManifestEntries(t *testing.T) {
	network := newFakeNetwork()
	network.serve(testScope, 200, "root")
	network.serve(testScope+"app.js", 200, "js")
	network.serve(testScope+"broken.css", 500, "oops")

	w := newTestWorker(t, "ma-maison-v13", newTestStorage(t), network, func(c *Config) {
		c.Manifest = []string{"./", "./app.js", "./broken.css", "./missing.png"}
	})
	require.NoError(t, w.Install(context.Background()))
	assert.Equal(t, StateInstalled, w.State())
	assert.True(t, w.SkipWaiting())
	// nothing is served before activation
	assert.Nil(t, w.Generation())

	require.NoError(t, w.Activate(context.Background()))
	keys, err := w.Generation().Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"GET https://app.example/", "GET https://app.example/app.js"}, keys)
}

func TestInstallSkipsUnreachableEntry(t *testing.T) {
	network := newFakeNetwork()
	network.serve(testScope, 200, "root")
	network.serve(testScope+"fonts.css", 200, "fonts")
	network.serve(testScope+"vendor/export.js", 200, "export")
	network.unreachable("https://cdn.example/vendor/pdf.js")

	w := newTestWorker(t, "ma-maison-v13", newTestStorage(t), network, func(c *Config) {
		c.Manifest = []string{"./", "./fonts.css", "https://cdn.example/vendor/pdf.js", "./vendor/export.js"}
	})
	require.NoError(t, w.Install(context.Background()))
	require.NoError(t, w.Activate(context.Background()))

	keys, err := w.Generation().Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"GET https://app.example/",
		"GET https://app.example/fonts.css",
		"GET https://app.example/vendor/export.js",
	}, keys)
}

func TestInstallWithUnreachableNetwork(t *testing.T) {
	network := newFakeNetwork()
	network.setOffline(true)
	w := newTestWorker(t, "v1", newTestStorage(t), network)
	require.NoError(t, w.Install(context.Background()))
	require.NoError(t, w.Activate(context.Background()))

	keys, err := w.Generation().Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLifecycleRejectsInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	network := newFakeNetwork()
	w := newTestWorker(t, "v1", newTestStorage(t), network)

	err := w.Activate(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StateUninstalled, te.From)
	assert.Equal(t, StateActivating, te.To)

	require.NoError(t, w.Install(ctx))
	assert.ErrorIs(t, w.Install(ctx), ErrInvalidState)
	require.NoError(t, w.Activate(ctx))
	assert.Equal(t, StateActivated, w.State())
	assert.ErrorIs(t, w.Activate(ctx), ErrInvalidState)

	w.MarkRedundant()
	assert.Equal(t, StateRedundant, w.State())
	assert.ErrorIs(t, w.Install(ctx), ErrInvalidState)
}

func TestActivateDeletesOtherGenerations(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	for _, name := range []string{"ma-maison-v11", "ma-maison-v12", "other-app"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}
	network := newFakeNetwork()
	network.serve(testScope, 200, "root")

	activeWorker(t, "ma-maison-v13", storage, network)

	names, err := storage.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ma-maison-v13"}, names)
}

func TestActivateIsRetriedAfterFailure(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	w := newTestWorker(t, "v2", storage, newFakeNetwork())
	require.NoError(t, w.Install(ctx))

	failing := cache.NewStorage(&failingProvider{Provider: cache.NewMemoryProvider()}, nil, nopLogger())
	w.storage = failing
	assert.Error(t, w.Activate(ctx))
	assert.Equal(t, StateInstalled, w.State())
	assert.Nil(t, w.Generation())

	w.storage = storage
	require.NoError(t, w.Activate(ctx))
	assert.Equal(t, StateActivated, w.State())
}

type failingProvider struct {
	cache.Provider
}

func (p *failingProvider) Generations(ctx context.Context) ([]cache.GenerationInfo, error) {
	return nil, errors.New("storage unavailable")
}

type recordingClients struct {
	claimed []string
	opened  []string
}

func (c *recordingClients) Claim(ctx context.Context, w *Worker) error {
	c.claimed = append(c.claimed, w.Version())
	return nil
}

func (c *recordingClients) OpenWindow(ctx context.Context, url string) error {
	c.opened = append(c.opened, url)
	return nil
}

func TestActivateClaimsClients(t *testing.T) {
	clients := &recordingClients{}
	activeWorker(t, "v3", newTestStorage(t), newFakeNetwork(), func(c *Config) {
		c.Clients = clients
	})
	assert.Equal(t, []string{"v3"}, clients.claimed)
}
