package offlinecache

import (
	"context"
	"errors"
	"net/http"

	"github.com/always-cache/offline-cache/cache"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Result is the outcome of handling one intercepted request.
// A nil Response on a non-bypass route means nothing could be served.
type Result struct {
	Response *http.Response
	Route    classifier.RouteClass
	Status   cachestatus.CacheStatus
}

// Declined reports whether the host should perform the request itself.
func (r Result) Declined() bool {
	return r.Route == classifier.Bypass
}

// interception carries the per-request state through a strategy.
type interception struct {
	id    string
	req   *http.Request
	key   string
	route classifier.RouteClass
	gen   *cache.Generation
	cs    cachestatus.CacheStatus
	log   zerolog.Logger
}

// HandleFetch routes r to the strategy of its class.
// Bypassed requests, and every request before activation, are declined.
func (w *Worker) HandleFetch(r *http.Request) (result Result) {
	decision := w.classifier.Explain(r)
	if decision.Class == classifier.Bypass {
		result.Route = classifier.Bypass
		if decision.Reason == classifier.ReasonMethod {
			result.Status.Forward(cachestatus.FwdMethod)
		} else {
			result.Status.Forward(cachestatus.FwdBypass)
		}
		return result
	}

	gen := w.active.Load()
	if gen == nil {
		result.Route = classifier.Bypass
		result.Status.Forward(cachestatus.FwdBypass)
		return result
	}

	ic := &interception{
		id:    uuid.NewString(),
		req:   r,
		key:   w.keyer.GetKey(r),
		route: decision.Class,
		gen:   gen,
	}
	ic.log = w.log.With().
		Str("id", ic.id).
		Str("route", string(decision.Class)).
		Str("reason", string(decision.Reason)).
		Str("url", r.URL.String()).
		Logger()

	// escape hatch: a panicking strategy is treated like an unreachable network
	defer func() {
		if rec := recover(); rec != nil {
			ic.log.Error().Interface("panic", rec).Msg("Strategy panicked, serving fallback")
			result = w.fallback(ic)
		}
	}()

	switch decision.Class {
	case classifier.NetworkFirst:
		result = w.networkFirst(ic)
	default:
		result = w.cacheFirst(ic)
	}
	ic.log.Debug().
		Str("status", ic.cs.String()).
		Bool("served", result.Response != nil).
		Msg("Handled fetch")
	return result
}

// networkFirst asks the network and refreshes the store with a good answer.
// Only when the network cannot be reached is the store consulted.
func (w *Worker) networkFirst(ic *interception) Result {
	res, err := w.fetch(ic)
	if err != nil {
		ic.log.Debug().Err(err).Msg("Network unavailable")
		return w.fallback(ic)
	}
	ic.cs.Forward(cachestatus.FwdRequest)
	w.storeInBackground(ic, res)
	return ic.result(res)
}

// cacheFirst serves a stored copy when present and fills the store on a miss.
func (w *Worker) cacheFirst(ic *interception) Result {
	if res := w.match(ic, ic.key); res != nil {
		ic.cs.Hit()
		return ic.result(res)
	}
	ic.cs.Forward(cachestatus.FwdUriMiss)
	res, err := w.fetch(ic)
	if err != nil {
		ic.log.Debug().Err(err).Msg("Network unavailable")
		return w.fallback(ic)
	}
	w.storeInBackground(ic, res)
	return ic.result(res)
}

func (w *Worker) fetch(ic *interception) (*http.Response, error) {
	ic.log.Trace().Msg("Fetching from network")
	res, err := w.network.RoundTrip(ic.req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("transport returned no response")
	}
	return res, nil
}

func (w *Worker) match(ic *interception, key string) *http.Response {
	sRes, ok, err := ic.gen.Match(ic.req.Context(), key)
	if err != nil {
		ic.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil
	}
	if !ok {
		ic.log.Trace().Str("key", key).Msg("Not in cache")
		return nil
	}
	return sRes.Response(ic.req)
}

// storeInBackground saves a cacheable res while the caller reads it and
// persists the copy once the body has been read to its end. The caller's
// reads are never delayed by the store.
func (w *Worker) storeInBackground(ic *interception, res *http.Response) {
	verdict := w.cacheability(ic.req, res)
	if !verdict.Cacheable {
		ic.log.Trace().Str("skip", string(verdict.Reason)).Int("code", res.StatusCode).Msg("Not caching response")
		return
	}
	ic.cs.Stored = true
	serializer.Tee(res, w.maxEntryBytes, w.now(), func(sRes serializer.StoredResponse) {
		w.write(ic, sRes)
	})
}

func (w *Worker) write(ic *interception, sRes serializer.StoredResponse) {
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		// the request may be done long before the write is
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ic.req.Context()), w.writeTimeout)
		defer cancel()
		if err := ic.gen.Put(ctx, ic.key, sRes); err != nil {
			ic.log.Warn().Err(err).Msg("Could not write to cache")
			return
		}
		ic.log.Trace().Int("bytes", len(sRes.Body)).Msg("Wrote to cache")
	}()
}

func (ic *interception) result(res *http.Response) Result {
	return Result{Response: res, Route: ic.route, Status: ic.cs}
}
