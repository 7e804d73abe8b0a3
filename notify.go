package offlinecache

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SyncTag is the background synchronization tag the application registers.
const SyncTag = "sync-firebase"

// NotificationConfig sets how push messages are presented.
type NotificationConfig struct {
	Title       string `yaml:"title"`
	DefaultBody string `yaml:"body"`
	Icon        string `yaml:"icon"`
	Badge       string `yaml:"badge"`
	Vibrate     []int  `yaml:"vibrate"`
	// Page opened when a notification is clicked.
	ClickURL string `yaml:"clickUrl"`
}

type NotificationOptions struct {
	Body    string `json:"body"`
	Icon    string `json:"icon"`
	Badge   string `json:"badge"`
	Vibrate []int  `json:"vibrate"`
	Tag     string `json:"tag"`
}

// Notification is a notification the host has shown.
type Notification struct {
	ID      string              `json:"id"`
	Title   string              `json:"title"`
	Options NotificationOptions `json:"options"`

	closeOnce sync.Once
	onClose   func()
}

// NewNotification creates a notification whose Close calls onClose once.
func NewNotification(title string, opts NotificationOptions, onClose func()) *Notification {
	return &Notification{
		ID:      uuid.NewString(),
		Title:   title,
		Options: opts,
		onClose: onClose,
	}
}

// Close dismisses the notification. It is safe to call more than once.
func (n *Notification) Close() {
	n.closeOnce.Do(func() {
		if n.onClose != nil {
			n.onClose()
		}
	})
}

// Notifier is the host's notification API.
type Notifier interface {
	ShowNotification(ctx context.Context, title string, opts NotificationOptions) (*Notification, error)
}

// Clients is the host's registry of controlled pages.
type Clients interface {
	// Claim makes w the controller of every client in scope.
	Claim(ctx context.Context, w *Worker) error
	// OpenWindow opens a new client at url.
	OpenWindow(ctx context.Context, url string) error
}

// HandlePush shows a notification for a push message.
// A text payload becomes the body; an empty payload uses the default body.
func (w *Worker) HandlePush(ctx context.Context, data []byte) (*Notification, error) {
	body := w.notification.DefaultBody
	if text := string(data); strings.TrimSpace(text) != "" {
		body = text
	}
	opts := NotificationOptions{
		Body:    body,
		Icon:    w.notification.Icon,
		Badge:   w.notification.Badge,
		Vibrate: append([]int(nil), w.notification.Vibrate...),
	}
	w.log.Debug().Str("body", body).Msg("Push received")
	if w.notifier == nil {
		w.log.Warn().Msg("No notifier, dropping push")
		return nil, nil
	}
	return w.notifier.ShowNotification(ctx, w.notification.Title, opts)
}

// HandleNotificationClick closes n and opens the application.
func (w *Worker) HandleNotificationClick(ctx context.Context, n *Notification) error {
	if n != nil {
		n.Close()
	}
	w.log.Debug().Str("url", w.notification.ClickURL).Msg("Notification clicked")
	if w.clients == nil {
		return nil
	}
	return w.clients.OpenWindow(ctx, w.notification.ClickURL)
}

// HandleSync acknowledges a background synchronization request.
// The synchronization itself is performed by the application's data layer,
// so nothing is done here beyond recording the event.
func (w *Worker) HandleSync(ctx context.Context, tag string) error {
	if tag == SyncTag {
		w.log.Info().Str("tag", tag).Msg("Background sync requested")
	} else {
		w.log.Debug().Str("tag", tag).Msg("Ignoring sync")
	}
	return nil
}
