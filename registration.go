package offlinecache

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ClientIDHeader lets a page identify itself across requests.
// Without it the source address is used.
const ClientIDHeader = "X-Client-Id"

type RegistrationConfig struct {
	// URL of the application origin, used for requests that are not in
	// absolute form.
	Origin url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Transport used for declined requests. http.DefaultTransport if nil.
	Network http.RoundTripper
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Client is a page controlled, or about to be controlled, by a worker.
type Client struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Controller string    `json:"controller,omitempty"`
	LastSeen   time.Time `json:"lastSeen"`
}

// Registration is the runtime hosting workers for one application.
// It installs and activates new versions, retires superseded ones and routes
// every request through the active worker.
type Registration struct {
	network http.RoundTripper
	log     zerolog.Logger
	proxy   httputil.ReverseProxy
	now     func() time.Time

	// upgrade serializes Register and Update so that one version finishes
	// installing and activating before the next one starts.
	upgrade sync.Mutex

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
	clients map[string]*Client
	windows []string
}

func NewRegistration(config RegistrationConfig) *Registration {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.Origin.String()).
		Logger()

	reg := &Registration{
		network: config.Network,
		log:     logger,
		now:     time.Now,
		clients: map[string]*Client{},
	}
	if reg.network == nil {
		reg.network = http.DefaultTransport
	}
	if config.OriginHost != "" {
		if t, ok := reg.network.(*http.Transport); ok {
			t = t.Clone()
			t.TLSClientConfig = &tls.Config{ServerName: config.OriginHost}
			reg.network = t
		}
	}

	host := config.Origin.Host
	hostHeader := host
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
	}
	reg.proxy = httputil.ReverseProxy{
		Director:     createDirector(config.Origin.Scheme, host, hostHeader),
		Transport:    reg,
		ErrorHandler: reg.proxyError,
	}
	return reg
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		// absolute-form requests keep their target
		if req.URL.IsAbs() {
			return
		}
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

// Register installs w and, unless another worker is active and w does not
// want to skip waiting, activates it.
func (reg *Registration) Register(ctx context.Context, w *Worker) error {
	reg.upgrade.Lock()
	defer reg.upgrade.Unlock()

	if err := w.Install(ctx); err != nil {
		return err
	}
	if reg.Active() != nil && !w.SkipWaiting() {
		reg.mu.Lock()
		previous := reg.waiting
		reg.waiting = w
		reg.mu.Unlock()
		if previous != nil && previous != w {
			previous.MarkRedundant()
		}
		reg.log.Info().Str("version", w.Version()).Msg("Worker is waiting")
		return nil
	}
	return reg.activate(ctx, w)
}

// Update activates the waiting worker, if there is one.
func (reg *Registration) Update(ctx context.Context) error {
	reg.upgrade.Lock()
	defer reg.upgrade.Unlock()

	w := reg.Waiting()
	if w == nil {
		return nil
	}
	return reg.activate(ctx, w)
}

func (reg *Registration) activate(ctx context.Context, w *Worker) error {
	if err := w.Activate(ctx); err != nil {
		reg.mu.Lock()
		reg.waiting = w
		reg.mu.Unlock()
		return err
	}
	reg.promote(w)
	return nil
}

// promote makes w the worker handling requests and retires its predecessor.
func (reg *Registration) promote(w *Worker) {
	reg.mu.Lock()
	previous := reg.active
	reg.active = w
	if reg.waiting == w {
		reg.waiting = nil
	}
	for _, c := range reg.clients {
		c.Controller = w.Version()
	}
	reg.mu.Unlock()

	if previous != nil && previous != w {
		previous.MarkRedundant()
		reg.log.Info().
			Str("previous", previous.Version()).
			Str("version", w.Version()).
			Msg("Worker replaced")
	}
}

// Network returns the transport used for requests to the origin.
func (reg *Registration) Network() http.RoundTripper {
	return reg.network
}

func (reg *Registration) Active() *Worker {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.active
}

func (reg *Registration) Waiting() *Worker {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.waiting
}

// Claim implements Clients.
func (reg *Registration) Claim(ctx context.Context, w *Worker) error {
	if w.State() != StateActivated {
		return ErrNotActive
	}
	reg.promote(w)
	return nil
}

// OpenWindow implements Clients. Windows are recorded for the embedding
// application to present.
func (reg *Registration) OpenWindow(ctx context.Context, url string) error {
	reg.mu.Lock()
	reg.windows = append(reg.windows, url)
	reg.mu.Unlock()
	reg.log.Info().Str("url", url).Msg("Opening window")
	return nil
}

// Windows returns the urls opened so far.
func (reg *Registration) Windows() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return append([]string(nil), reg.windows...)
}

// Clients returns the known clients ordered by id.
func (reg *Registration) Clients() []Client {
	reg.mu.RLock()
	clients := make([]Client, 0, len(reg.clients))
	for _, c := range reg.clients {
		clients = append(clients, *c)
	}
	reg.mu.RUnlock()
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

// RoundTrip implements http.RoundTripper by routing req through the active
// worker. Requests the worker declines go to the network unchanged.
func (reg *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	w := reg.Active()
	if w == nil {
		return reg.network.RoundTrip(req)
	}
	result := w.HandleFetch(req)

	var res *http.Response
	switch {
	case result.Declined():
		var err error
		if res, err = reg.network.RoundTrip(req); err != nil {
			return nil, err
		}
	case result.Response == nil:
		res = offlineResponse(req)
	default:
		res = result.Response
	}
	if res.Header == nil {
		res.Header = http.Header{}
	}
	result.Status.Apply(res.Header)
	reg.logRequest(req, result)
	return res, nil
}

// ServeHTTP implements http.Handler, proxying to the origin through RoundTrip.
func (reg *Registration) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reg.touch(r)
	reg.proxy.ServeHTTP(w, r)
}

func (reg *Registration) touch(r *http.Request) {
	id := r.Header.Get(ClientIDHeader)
	if id == "" {
		id = getRequestSourceIp(r)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	c, ok := reg.clients[id]
	if !ok {
		c = &Client{ID: id}
		reg.clients[id] = c
	}
	c.URL = r.URL.String()
	c.LastSeen = reg.now()
	if reg.active != nil {
		c.Controller = reg.active.Version()
	}
}

func (reg *Registration) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	reg.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not reach origin")
	w.WriteHeader(http.StatusBadGateway)
}

func (reg *Registration) logRequest(r *http.Request, result Result) {
	isHit := 0
	if result.Status.IsHit() {
		isHit = 1
	}
	reg.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("route", string(result.Route)).
		Str("status", string(result.Status.Status)).
		Str("fwd", string(result.Status.FwdReason)).
		Bool("stored", result.Status.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
