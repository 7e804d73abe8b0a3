package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T) (http.Handler, *offlinecache.Registration) {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "page "+r.URL.Path)
	}))
	t.Cleanup(origin.Close)

	logger := zerolog.Nop()
	config := defaultConfig()
	config.Origin = origin.URL
	config.Manifest = []string{"./"}
	storage := cache.NewStorage(cache.NewMemoryProvider(), nil, &logger)
	t.Cleanup(func() { storage.Close() })

	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)
	reg := offlinecache.NewRegistration(offlinecache.RegistrationConfig{Origin: *originURL, Logger: &logger})
	notifier := newNotificationLog(logger)
	newWorker := func(cacheVersion string) (*offlinecache.Worker, error) {
		wc, err := config.workerConfig(cacheVersion, storage, &logger)
		if err != nil {
			return nil, err
		}
		wc.Clients = reg
		wc.Notifier = notifier
		return offlinecache.NewWorker(wc)
	}
	w, err := newWorker("ma-maison-v12")
	require.NoError(t, err)
	require.NoError(t, reg.Register(context.Background(), w))

	return router(&admin{
		reg:       reg,
		storage:   storage,
		notifier:  notifier,
		newWorker: newWorker,
		log:       logger,
	}, reg), reg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func TestAdminStatus(t *testing.T) {
	h, _ := newTestAdmin(t)
	rr := do(t, h, http.MethodGet, "/.offline-cache/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "ma-maison-v12", status.Active)
	assert.Equal(t, "activated", status.State)
}

func TestAdminProxiesEverythingElse(t *testing.T) {
	h, _ := newTestAdmin(t)
	rr := do(t, h, http.MethodGet, "/rooms.html", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "page /rooms.html", rr.Body.String())
	assert.Equal(t, "OfflineCache; fwd=request; stored", rr.Header().Get("Cache-Status"))
}

func TestAdminUpdateReplacesGeneration(t *testing.T) {
	h, reg := newTestAdmin(t)

	rr := do(t, h, http.MethodPost, "/.offline-cache/update", `{"version":"ma-maison-v13"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "ma-maison-v13", reg.Active().Version())

	rr = do(t, h, http.MethodGet, "/.offline-cache/generations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var gens []generationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &gens))
	require.Len(t, gens, 1)
	assert.Equal(t, "ma-maison-v13", gens[0].Name)
	assert.True(t, gens[0].Active)
	assert.Equal(t, 1, gens[0].Entries)

	rr = do(t, h, http.MethodPost, "/.offline-cache/update", `{"version":"ma-maison-v13"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = do(t, h, http.MethodPost, "/.offline-cache/update", `{"version":"not valid!"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminPushAndClick(t *testing.T) {
	h, reg := newTestAdmin(t)

	rr := do(t, h, http.MethodPost, "/.offline-cache/push", "Dinner is ready")
	require.Equal(t, http.StatusCreated, rr.Code)
	var n struct {
		ID      string                           `json:"id"`
		Title   string                           `json:"title"`
		Options offlinecache.NotificationOptions `json:"options"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &n))
	assert.Equal(t, "Ma Maison", n.Title)
	assert.Equal(t, "Dinner is ready", n.Options.Body)

	rr = do(t, h, http.MethodPost, "/.offline-cache/notificationclick", `{"id":"`+n.ID+`"}`)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"/"}, reg.Windows())

	// closed notifications are gone
	rr = do(t, h, http.MethodPost, "/.offline-cache/notificationclick", `{"id":"`+n.ID+`"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminPushTooLarge(t *testing.T) {
	h, _ := newTestAdmin(t)
	rr := do(t, h, http.MethodPost, "/.offline-cache/push", strings.Repeat("x", maxPushBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestAdminSync(t *testing.T) {
	h, _ := newTestAdmin(t)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/.offline-cache/sync", "").Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/.offline-cache/sync", `{"tag":"sync-firebase"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/.offline-cache/sync", `{`).Code)
}
