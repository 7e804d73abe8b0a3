package offlinecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testScope = "https://app.example/"

var errUnreachable = errors.New("network unreachable")

type page struct {
	code   int
	body   string
	header http.Header
}

// fakeNetwork serves canned pages keyed by absolute url and can go offline.
type fakeNetwork struct {
	mu      sync.Mutex
	offline bool
	pages   map[string]page
	down    map[string]bool
	calls   map[string]int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{pages: map[string]page{}, down: map[string]bool{}, calls: map[string]int{}}
}

func (n *fakeNetwork) serve(u string, code int, body string) {
	n.serveWithHeader(u, code, body, nil)
}

func (n *fakeNetwork) serveWithHeader(u string, code int, body string, header http.Header) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pages[u] = page{code, body, header}
}

// unreachable makes a single url fail at the transport level.
func (n *fakeNetwork) unreachable(u string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[u] = true
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) callsTo(u string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[u]
}

func (n *fakeNetwork) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

func (n *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.URL.String()]++
	if n.offline || n.down[req.URL.String()] {
		return nil, errUnreachable
	}
	p, ok := n.pages[req.URL.String()]
	if !ok {
		p = page{code: http.StatusNotFound, body: "not found"}
	}
	header := http.Header{"Content-Length": {strconv.Itoa(len(p.body))}}
	for k, vv := range p.header {
		header[k] = append([]string(nil), vv...)
	}
	return &http.Response{
		StatusCode:    p.code,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(p.body)),
		ContentLength: int64(len(p.body)),
		Request:       req,
	}, nil
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestStorage(t *testing.T) *cache.Storage {
	t.Helper()
	s := cache.NewStorage(cache.NewMemoryProvider(), nil, nopLogger())
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestWorker(t *testing.T, version string, storage *cache.Storage, network http.RoundTripper, modify ...func(*Config)) *Worker {
	t.Helper()
	scope, err := url.Parse(testScope)
	require.NoError(t, err)
	config := Config{
		Version:  version,
		Scope:    *scope,
		Manifest: []string{"./"},
		Storage:  storage,
		Network:  network,
		Logger:   nopLogger(),
	}
	for _, m := range modify {
		m(&config)
	}
	w, err := NewWorker(config)
	require.NoError(t, err)
	return w
}

// activeWorker returns an installed and activated worker for version.
func activeWorker(t *testing.T, version string, storage *cache.Storage, network http.RoundTripper, modify ...func(*Config)) *Worker {
	t.Helper()
	w := newTestWorker(t, version, storage, network, modify...)
	require.NoError(t, w.Install(context.Background()))
	require.NoError(t, w.Activate(context.Background()))
	return w
}

func get(t *testing.T, u string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, u, nil)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	require.NotNil(t, res)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

func stored(t *testing.T, w *Worker, u string) (string, bool) {
	t.Helper()
	w.Wait()
	sRes, ok, err := w.Generation().Match(context.Background(), "GET "+u)
	require.NoError(t, err)
	return string(sRes.Body), ok
}
