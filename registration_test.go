package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistration(t *testing.T, origin string, network http.RoundTripper) *Registration {
	t.Helper()
	u, err := url.Parse(origin)
	require.NoError(t, err)
	return NewRegistration(RegistrationConfig{
		Origin:  *u,
		Network: network,
		Logger:  nopLogger(),
	})
}

func TestRegisterReplacesActiveWorker(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	network := newFakeNetwork()
	network.serve(testScope, 200, "v12 root")
	reg := newTestRegistration(t, testScope, network)
	withClients := func(c *Config) { c.Clients = reg }

	v12 := newTestWorker(t, "ma-maison-v12", storage, network, withClients)
	require.NoError(t, reg.Register(ctx, v12))
	assert.Same(t, v12, reg.Active())

	network.serve(testScope, 200, "v13 root")
	v13 := newTestWorker(t, "ma-maison-v13", storage, network, withClients)
	require.NoError(t, reg.Register(ctx, v13))

	assert.Same(t, v13, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, StateRedundant, v12.State())
	assert.Equal(t, StateActivated, v13.State())

	names, err := storage.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ma-maison-v13"}, names)

	network.setOffline(true)
	res, err := reg.RoundTrip(get(t, testScope+"unknown.html"))
	require.NoError(t, err)
	assert.Equal(t, "v13 root", readBody(t, res))
}

// slowNetwork delays every round trip so that installs overlap.
type slowNetwork struct {
	http.RoundTripper
	delay time.Duration
}

func (n slowNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	time.Sleep(n.delay)
	return n.RoundTripper.RoundTrip(req)
}

func TestConcurrentRegisterKeepsActiveGeneration(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	network := newFakeNetwork()
	network.serve(testScope, 200, "root")
	slow := slowNetwork{RoundTripper: network, delay: 20 * time.Millisecond}
	reg := newTestRegistration(t, testScope, network)
	withClients := func(c *Config) { c.Clients = reg }

	workers := []*Worker{
		newTestWorker(t, "ma-maison-v14", storage, slow, withClients),
		newTestWorker(t, "ma-maison-v15", storage, slow, withClients),
	}
	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			errs[i] = reg.Register(ctx, w)
		}(i, w)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	active := reg.Active()
	require.NotNil(t, active)
	assert.Equal(t, StateActivated, active.State())
	for _, w := range workers {
		if w != active {
			assert.Equal(t, StateRedundant, w.State())
		}
	}

	names, err := storage.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{active.Version()}, names)

	gen := active.Generation()
	require.NotNil(t, gen)
	_, ok, err := gen.Match(ctx, "GET "+testScope)
	require.NoError(t, err)
	assert.True(t, ok)

	network.serve(testScope+"app.js", 200, "js")
	assert.Equal(t, "js", readBody(t, active.HandleFetch(get(t, testScope+"app.js")).Response))
	body, ok := stored(t, active, testScope+"app.js")
	require.True(t, ok)
	assert.Equal(t, "js", body)
}

func TestRoundTripWithoutWorkerGoesToNetwork(t *testing.T) {
	network := newFakeNetwork()
	network.serve(testScope+"app.js", 200, "js")
	reg := newTestRegistration(t, testScope, network)

	res, err := reg.RoundTrip(get(t, testScope+"app.js"))
	require.NoError(t, err)
	assert.Equal(t, "js", readBody(t, res))
	assert.Empty(t, res.Header.Get("Cache-Status"))
}

func TestRoundTripDeclinedRequests(t *testing.T) {
	ctx := context.Background()
	network := newFakeNetwork()
	reg := newTestRegistration(t, testScope, network)
	require.NoError(t, reg.Register(ctx, newTestWorker(t, "v1", newTestStorage(t), network)))

	post, err := http.NewRequest(http.MethodPost, testScope+"api", strings.NewReader("{}"))
	require.NoError(t, err)
	res, err := reg.RoundTrip(post)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "OfflineCache; fwd=method", res.Header.Get("Cache-Status"))
	readBody(t, res)

	network.setOffline(true)
	_, err = reg.RoundTrip(get(t, "https://ma-maison.firebaseio.com/rooms.json"))
	assert.ErrorIs(t, err, errUnreachable)
}

func TestRoundTripOfflineWithNothingStored(t *testing.T) {
	network := newFakeNetwork()
	network.setOffline(true)
	reg := newTestRegistration(t, testScope, network)
	require.NoError(t, reg.Register(context.Background(), newTestWorker(t, "v1", newTestStorage(t), network)))

	res, err := reg.RoundTrip(get(t, testScope+"app.js"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "offline\n", readBody(t, res))
	assert.Contains(t, res.Header.Get("Cache-Status"), "detail=offline")
}

func TestClaimRequiresActivatedWorker(t *testing.T) {
	reg := newTestRegistration(t, testScope, newFakeNetwork())
	w := newTestWorker(t, "v1", newTestStorage(t), newFakeNetwork())
	assert.ErrorIs(t, reg.Claim(context.Background(), w), ErrNotActive)
	assert.Nil(t, reg.Active())
}

func TestServeHTTPWorksOffline(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, "home")
		case "/app.js":
			io.WriteString(w, "js")
		default:
			http.NotFound(w, r)
		}
	}))
	originURL := origin.URL + "/"

	ctx := context.Background()
	reg := newTestRegistration(t, originURL, nil)
	scope, err := url.Parse(originURL)
	require.NoError(t, err)
	w, err := NewWorker(Config{
		Version:  "v1",
		Scope:    *scope,
		Manifest: []string{"./"},
		Storage:  newTestStorage(t),
		Logger:   nopLogger(),
		Clients:  reg,
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, w))

	serve := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(ClientIDHeader, "tab-1")
		rr := httptest.NewRecorder()
		reg.ServeHTTP(rr, req)
		return rr
	}

	rr := serve("/app.js")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "js", rr.Body.String())
	assert.Equal(t, "OfflineCache; fwd=uri-miss; stored", rr.Header().Get("Cache-Status"))
	w.Wait()

	origin.Close()

	rr = serve("/app.js")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "js", rr.Body.String())
	assert.Equal(t, "OfflineCache; hit", rr.Header().Get("Cache-Status"))

	rr = serve("/rooms.html")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "home", rr.Body.String())

	rr = serve("/new.png")
	assert.Equal(t, "home", rr.Body.String())
	assert.Equal(t, "OfflineCache; hit; detail=fallback", rr.Header().Get("Cache-Status"))

	clients := reg.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, "tab-1", clients[0].ID)
	assert.Equal(t, "v1", clients[0].Controller)
}

func TestOpenWindowIsRecorded(t *testing.T) {
	reg := newTestRegistration(t, testScope, newFakeNetwork())
	require.NoError(t, reg.OpenWindow(context.Background(), "/"))
	assert.Equal(t, []string{"/"}, reg.Windows())
}
