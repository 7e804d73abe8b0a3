package offlinecache

import (
	"net/http"
	"net/url"
	"time"

	"github.com/always-cache/offline-cache/cache"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"

	"github.com/rs/zerolog"
)

const (
	defaultInstallConcurrency = 4
	defaultWriteTimeout       = 30 * time.Second
	defaultMaxEntryBytes      = 32 << 20
	defaultFallbackKey        = "./"
)

// DefaultManifest is precached at install: the application root, its web
// fonts and the export libraries.
var DefaultManifest = []string{
	"./",
	"https://fonts.googleapis.com/css2?family=Cormorant+Garamond:wght@300;400;500;600&family=Work+Sans:wght@300;400;500&family=Allura&display=swap",
	"https://cdnjs.cloudflare.com/ajax/libs/jspdf/2.5.1/jspdf.umd.min.js",
	"https://cdnjs.cloudflare.com/ajax/libs/html2canvas/1.4.1/html2canvas.min.js",
}

// DefaultExcludedOrigins are hosts whose requests are never intercepted:
// identity providers, real-time data backends and media CDNs.
var DefaultExcludedOrigins = []string{
	"googleapis.com",
	"firebaseio.com",
	"firestore.googleapis.com",
	"identitytoolkit.googleapis.com",
	"cloudinary.com",
	"res.cloudinary.com",
}

// DefaultDocumentSuffixes mark page documents.
var DefaultDocumentSuffixes = []string{".html"}

// DefaultNotification mirrors the application's push notification defaults.
var DefaultNotification = NotificationConfig{
	Title:       "Ma Maison",
	DefaultBody: "Notification from Ma Maison",
	Icon:        "/icon-192.png",
	Badge:       "/icon-192.png",
	Vibrate:     []int{200, 100, 200},
	ClickURL:    "/",
}

type Config struct {
	// Store identifier (generation name), e.g. "ma-maison-v13".
	Version string
	// Absolute base URL of the application.
	// Relative manifest entries and the fallback key resolve against it.
	Scope url.URL
	// Critical resources cached at install time. Nil selects DefaultManifest.
	Manifest []string
	// Hosts never intercepted. Nil selects DefaultExcludedOrigins.
	ExcludedOrigins []string
	// Path suffixes denoting page documents. Nil selects DefaultDocumentSuffixes.
	DocumentSuffixes []string
	// Ordered route overrides.
	Routes classifier.Rules
	// Substitute served when nothing better exists. Defaults to the application root.
	FallbackKey string
	// Number of manifest entries fetched at once during install.
	InstallConcurrency int
	// Upper bound for a single background cache write.
	WriteTimeout time.Duration
	// Bodies larger than this are served but not cached.
	MaxEntryBytes int64
	// Push notification presentation. Zero fields take DefaultNotification values.
	Notification NotificationConfig

	// Versioned response stores. Required.
	Storage *cache.Storage
	// Transport used to reach the network. http.DefaultTransport if nil.
	Network http.RoundTripper
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Host runtime client registry, optional.
	Clients Clients
	// Host runtime notification API, optional.
	Notifier Notifier
}

func (n NotificationConfig) withDefaults() NotificationConfig {
	if n.Title == "" {
		n.Title = DefaultNotification.Title
	}
	if n.DefaultBody == "" {
		n.DefaultBody = DefaultNotification.DefaultBody
	}
	if n.Icon == "" {
		n.Icon = DefaultNotification.Icon
	}
	if n.Badge == "" {
		n.Badge = DefaultNotification.Badge
	}
	if n.Vibrate == nil {
		n.Vibrate = DefaultNotification.Vibrate
	}
	if n.ClickURL == "" {
		n.ClickURL = DefaultNotification.ClickURL
	}
	return n
}
