package offlinecache

import (
	"net/http"

	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// fallback answers a request the network could not.
// The exact request is looked up first, then the application root substitute.
// When neither is stored the result carries no response.
func (w *Worker) fallback(ic *interception) Result {
	if res := w.match(ic, ic.key); res != nil {
		ic.cs.Hit()
		ic.log.Debug().Msg("Serving stored response while offline")
		return ic.result(res)
	}

	key, err := w.keyer.RefKey(w.fallbackKey)
	if err != nil {
		ic.log.Error().Err(err).Str("ref", w.fallbackKey).Msg("Could not resolve fallback")
	} else if res := w.match(ic, key); res != nil {
		ic.cs.Hit()
		ic.cs.Detail = cachestatus.DetailFallback
		ic.log.Debug().Str("fallback", key).Msg("Serving fallback while offline")
		return ic.result(res)
	}

	ic.cs.Forward(cachestatus.FwdUriMiss)
	ic.cs.Stored = false
	ic.cs.Detail = cachestatus.DetailOffline
	ic.log.Info().Msg("Offline and nothing stored")
	return ic.result(nil)
}

// offlineResponse is what the host serves when a worker had nothing to offer.
func offlineResponse(req *http.Request) *http.Response {
	page := serializer.StoredResponse{
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte("offline\n"),
	}
	return page.Response(req)
}
