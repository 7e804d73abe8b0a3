package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const adminPrefix = "/.offline-cache"

// push payloads are notification bodies, anything larger is refused
const maxPushBytes = 4 << 10

// admin exposes the host runtime events and the store contents over HTTP.
type admin struct {
	reg       *offlinecache.Registration
	storage   *cache.Storage
	notifier  *notificationLog
	newWorker func(version string) (*offlinecache.Worker, error)
	log       zerolog.Logger
}

func (a *admin) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", a.status)
	r.Get("/generations", a.generations)
	r.Post("/push", a.push)
	r.Post("/notificationclick", a.notificationClick)
	r.Post("/sync", a.sync)
	r.Post("/update", a.update)
	return r
}

// router mounts the admin endpoints next to the proxy.
func router(a *admin, proxy http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Mount(adminPrefix, a.routes())
	r.Handle("/*", proxy)
	return r
}

type statusResponse struct {
	Active        string                `json:"active,omitempty"`
	State         string                `json:"state,omitempty"`
	Waiting       string                `json:"waiting,omitempty"`
	Clients       []offlinecache.Client `json:"clients"`
	Windows       []string              `json:"windows"`
	Notifications int                   `json:"notifications"`
}

func (a *admin) status(w http.ResponseWriter, r *http.Request) {
	res := statusResponse{
		Clients:       a.reg.Clients(),
		Windows:       a.reg.Windows(),
		Notifications: a.notifier.Len(),
	}
	if active := a.reg.Active(); active != nil {
		res.Active = active.Version()
		res.State = active.State().String()
	}
	if waiting := a.reg.Waiting(); waiting != nil {
		res.Waiting = waiting.Version()
	}
	a.writeJSON(w, http.StatusOK, res)
}

type generationResponse struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Entries   int       `json:"entries"`
	Active    bool      `json:"active"`
}

func (a *admin) generations(w http.ResponseWriter, r *http.Request) {
	infos, err := a.storage.Generations(r.Context())
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	activeVersion := ""
	if active := a.reg.Active(); active != nil {
		activeVersion = active.Version()
	}
	res := make([]generationResponse, 0, len(infos))
	for _, info := range infos {
		keys, err := a.storage.Keys(r.Context(), info.Name)
		if errors.Is(err, cache.ErrNotFound) {
			// deleted since listing
			continue
		}
		if err != nil {
			a.fail(w, http.StatusInternalServerError, err)
			return
		}
		res = append(res, generationResponse{
			Name:      info.Name,
			CreatedAt: info.CreatedAt,
			Entries:   len(keys),
			Active:    info.Name == activeVersion,
		})
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *admin) push(w http.ResponseWriter, r *http.Request) {
	active := a.reg.Active()
	if active == nil {
		a.fail(w, http.StatusServiceUnavailable, offlinecache.ErrNotActive)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes+1))
	if err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	if len(data) > maxPushBytes {
		a.fail(w, http.StatusRequestEntityTooLarge, errors.New("push payload too large"))
		return
	}
	n, err := active.HandlePush(r.Context(), data)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	if n == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.writeJSON(w, http.StatusCreated, n)
}

type clickRequest struct {
	ID string `json:"id"`
}

func (a *admin) notificationClick(w http.ResponseWriter, r *http.Request) {
	active := a.reg.Active()
	if active == nil {
		a.fail(w, http.StatusServiceUnavailable, offlinecache.ErrNotActive)
		return
	}
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	n := a.notifier.Get(req.ID)
	if n == nil {
		a.fail(w, http.StatusNotFound, errors.New("unknown notification"))
		return
	}
	if err := active.HandleNotificationClick(r.Context(), n); err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncRequest struct {
	Tag string `json:"tag"`
}

func (a *admin) sync(w http.ResponseWriter, r *http.Request) {
	active := a.reg.Active()
	if active == nil {
		a.fail(w, http.StatusServiceUnavailable, offlinecache.ErrNotActive)
		return
	}
	req := syncRequest{Tag: offlinecache.SyncTag}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			a.fail(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := active.HandleSync(r.Context(), req.Tag); err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type updateRequest struct {
	Version string `json:"version"`
}

// update installs and activates a new version.
func (a *admin) update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	if active := a.reg.Active(); active != nil && active.Version() == req.Version {
		a.fail(w, http.StatusConflict, errors.New("version is already active"))
		return
	}
	worker, err := a.newWorker(req.Version)
	if err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := a.reg.Register(r.Context(), worker); err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	a.status(w, r)
}

func (a *admin) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("Could not write response")
	}
}

func (a *admin) fail(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		a.log.Error().Err(err).Msg("Admin request failed")
	}
	a.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// notificationLog is the notifier of the standalone proxy. Notifications are
// logged and kept until clicked so that a click can refer to them by id.
type notificationLog struct {
	log zerolog.Logger

	mu    sync.Mutex
	shown map[string]*offlinecache.Notification
}

func newNotificationLog(logger zerolog.Logger) *notificationLog {
	return &notificationLog{log: logger, shown: map[string]*offlinecache.Notification{}}
}

func (l *notificationLog) ShowNotification(ctx context.Context, title string, opts offlinecache.NotificationOptions) (*offlinecache.Notification, error) {
	var n *offlinecache.Notification
	n = offlinecache.NewNotification(title, opts, func() {
		l.mu.Lock()
		delete(l.shown, n.ID)
		l.mu.Unlock()
	})
	l.mu.Lock()
	l.shown[n.ID] = n
	l.mu.Unlock()
	l.log.Info().
		Str("id", n.ID).
		Str("title", title).
		Str("body", opts.Body).
		Msg("Showing notification")
	return n, nil
}

func (l *notificationLog) Get(id string) *offlinecache.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shown[id]
}

func (l *notificationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.shown)
}
