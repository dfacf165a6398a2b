// Package agent is the client-side push agent: an event-driven worker that
// owns the device's push subscription, renders local notifications against
// cached preferences, and reconciles state with the server. It keeps working
// offline by queueing outbound actions and analytics durably and flushing
// them when connectivity returns.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"push-relay-backend/internal/model"
	"push-relay-backend/internal/prefs"
)

// Permission is the platform notification permission state. It only ever
// upgrades away from default; the agent never reverts granted or denied on
// its own.
type Permission string

const (
	PermissionUnsupported Permission = "unsupported"
	PermissionDefault     Permission = "default"
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
)

// ErrPermissionDenied is surfaced when push is enabled without permission.
// The caller shows a non-blocking explanatory state, never a retry loop.
var ErrPermissionDenied = errors.New("notification permission not granted")

// PushSubscription is the platform's endpoint plus encryption keys.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256DH   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Platform abstracts the host push/notification surface.
type Platform interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Subscribe(ctx context.Context, vapidPublicKey string) (*PushSubscription, error)
	Unsubscribe(ctx context.Context) error
	ShowNotification(ctx context.Context, n *model.Notification) error
	SetBadge(count int) error
	// MaxTimerDelay is the longest delay a single deferred timer can
	// express; longer reminders re-arm on Checkpoint.
	MaxTimerDelay() time.Duration
}

// Server is the backend wire contract the agent consumes.
type Server interface {
	VAPIDKey(ctx context.Context) (string, error)
	Subscribe(ctx context.Context, sub PushSubscription, userAgent, platform string) error
	Unsubscribe(ctx context.Context) error
	SavePreferences(ctx context.Context, patch prefs.Patch) (*model.Preference, error)
	RecordBatch(ctx context.Context, events []EventPayload) (recorded, total int, err error)
	UnreadCount(ctx context.Context, since time.Time) (int, error)
}

// Agent is the single event-driven worker. All state transitions go through
// its mutex; the durable queues live in the local store, not in memory.
type Agent struct {
	mu       sync.Mutex
	platform Platform
	server   Server
	queue    *Queue
	log      zerolog.Logger

	permission    Permission
	subscription  *PushSubscription
	pref          *model.Preference
	authenticated bool
	badge         int
	lastSync      time.Time
	reminders     []*reminder
	foreground    chan<- *model.Notification
	userAgent     string
	platformName  string

	now func() time.Time
}

// New creates an agent. The initial permission is read from the platform;
// preferences start from defaults until synced.
func New(platform Platform, server Server, queue *Queue, log zerolog.Logger) *Agent {
	return &Agent{
		platform:     platform,
		server:       server,
		queue:        queue,
		log:          log.With().Str("component", "agent").Logger(),
		permission:   platform.Permission(),
		pref:         prefs.Defaults(""),
		now:          time.Now,
		userAgent:    "push-relay-agent",
		platformName: "web",
	}
}

// Permission returns the current permission state.
func (a *Agent) Permission() Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.permission
}

// RequestPermission asks the platform for notification permission. Call it
// only from an explicit user action. Once granted or denied the answer is
// final and the platform is not asked again.
func (a *Agent) RequestPermission(ctx context.Context) (Permission, error) {
	a.mu.Lock()
	current := a.permission
	a.mu.Unlock()

	if current != PermissionDefault {
		return current, nil
	}

	got, err := a.platform.RequestPermission(ctx)
	if err != nil {
		return current, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// One-way upgrade: never fall back to default.
	if a.permission == PermissionDefault && got != PermissionDefault {
		a.permission = got
	}
	return a.permission, nil
}

// SetAuthenticated tells the agent whether a signed-in user is present. On
// sign-in an existing subscription is forwarded to the registry.
func (a *Agent) SetAuthenticated(ctx context.Context, authenticated bool) {
	a.mu.Lock()
	a.authenticated = authenticated
	sub := a.subscription
	a.mu.Unlock()

	if authenticated && sub != nil {
		a.enqueueSubscribe(*sub)
		a.flushBestEffort(ctx)
	}
}

// EnablePush subscribes the device and forwards the subscription to the
// registry when a user is signed in.
func (a *Agent) EnablePush(ctx context.Context) error {
	if a.Permission() != PermissionGranted {
		return ErrPermissionDenied
	}

	key, err := a.server.VAPIDKey(ctx)
	if err != nil {
		return err
	}
	sub, err := a.platform.Subscribe(ctx, key)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.subscription = sub
	authenticated := a.authenticated
	a.mu.Unlock()

	if authenticated {
		a.enqueueSubscribe(*sub)
		a.flushBestEffort(ctx)
	}
	return nil
}

// DisablePush drops the platform subscription and queues the server-side
// removal.
func (a *Agent) DisablePush(ctx context.Context) error {
	if err := a.platform.Unsubscribe(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.subscription = nil
	a.mu.Unlock()

	if err := a.queue.EnqueueAction(ActionUnsubscribe, nil); err != nil {
		return err
	}
	a.flushBestEffort(ctx)
	return nil
}

// Subscription returns the current platform subscription, if any.
func (a *Agent) Subscription() *PushSubscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subscription
}

// Preferences returns the locally cached preferences.
func (a *Agent) Preferences() model.Preference {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.pref
}

// SavePreferences applies the patch locally first, then queues the server
// save for the next flush. Local behavior changes immediately even offline.
func (a *Agent) SavePreferences(ctx context.Context, patch prefs.Patch) error {
	a.mu.Lock()
	prefs.Apply(a.pref, patch)
	a.mu.Unlock()

	if err := a.queue.EnqueueAction(ActionSavePreferences, patch); err != nil {
		return err
	}
	a.flushBestEffort(ctx)
	return nil
}

// HandlePush processes an incoming push payload. Runs with no page open:
// silent pushes trigger a background sync, everything else renders locally.
func (a *Agent) HandlePush(ctx context.Context, payload []byte) error {
	var n model.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return err
	}

	if n.Type == "silent" {
		a.log.Debug().Msg("silent push: syncing state")
		a.OnOnline(ctx)
		return nil
	}

	a.Track("notification_delivered", map[string]any{"type": n.Type, "tag": n.Tag})

	// With a page open, the push goes to it instead of the system tray. A
	// page that has stopped consuming falls back to a system notification.
	a.mu.Lock()
	foreground := a.foreground
	a.mu.Unlock()
	if foreground != nil {
		select {
		case foreground <- &n:
			return nil
		default:
		}
	}

	return a.ShowLocalNotification(ctx, &n)
}

// AttachForeground routes incoming pushes to an open page through ch until
// DetachForeground is called (page closed or hidden).
func (a *Agent) AttachForeground(ch chan<- *model.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.foreground = ch
}

// DetachForeground reverts to system-notification rendering.
func (a *Agent) DetachForeground() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.foreground = nil
}

// ShowLocalNotification renders a notification on the device, applying the
// same category and quiet-hours rules as the server against the cached
// preferences. A suppressed notification is dropped, not queued.
func (a *Agent) ShowLocalNotification(ctx context.Context, n *model.Notification) error {
	a.mu.Lock()
	pref := *a.pref
	permission := a.permission
	a.mu.Unlock()

	if permission != PermissionGranted {
		return ErrPermissionDenied
	}
	if !pref.Enabled || !prefs.CategoryEnabled(&pref, n.Type) || prefs.QuietHours(&pref, a.now()) {
		a.log.Debug().Str("type", n.Type).Msg("local notification suppressed")
		return nil
	}
	return a.platform.ShowNotification(ctx, n)
}

// Track queues one analytics event for the next batched flush.
func (a *Agent) Track(name string, data map[string]any) {
	if err := a.queue.EnqueueEvent(EventPayload{
		Name:      name,
		Data:      data,
		Timestamp: a.now().UnixMilli(),
	}); err != nil {
		a.log.Warn().Err(err).Str("event", name).Msg("failed to queue analytics event")
	}
}

// Badge returns the last reconciled badge count.
func (a *Agent) Badge() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badge
}

// ReconcileBadge sets the badge from the server-reported unread count.
func (a *Agent) ReconcileBadge(ctx context.Context) error {
	a.mu.Lock()
	since := a.lastSync
	a.mu.Unlock()
	if since.IsZero() {
		since = a.now().Add(-24 * time.Hour)
	}

	count, err := a.server.UnreadCount(ctx, since)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.badge = count
	a.mu.Unlock()

	if err := a.platform.SetBadge(count); err != nil {
		a.log.Warn().Err(err).Msg("failed to set badge")
	}
	return nil
}

// OnOnline is the connectivity / background-sync opportunity hook: it
// flushes both queues and reconciles the badge.
func (a *Agent) OnOnline(ctx context.Context) {
	if err := a.FlushOutbound(ctx); err != nil {
		a.log.Debug().Err(err).Msg("outbound flush incomplete")
	}
	if err := a.FlushAnalytics(ctx); err != nil {
		a.log.Debug().Err(err).Msg("analytics flush incomplete")
	}
	if err := a.ReconcileBadge(ctx); err != nil {
		a.log.Debug().Err(err).Msg("badge reconcile failed")
	}
	a.mu.Lock()
	a.lastSync = a.now()
	a.mu.Unlock()
}

func (a *Agent) enqueueSubscribe(sub PushSubscription) {
	payload := subscribePayload{
		Subscription: sub,
		UserAgent:    a.userAgent,
		Platform:     a.platformName,
	}
	if err := a.queue.EnqueueAction(ActionSubscribe, payload); err != nil {
		a.log.Error().Err(err).Msg("failed to queue subscribe action")
	}
}

func (a *Agent) flushBestEffort(ctx context.Context) {
	if err := a.FlushOutbound(ctx); err != nil {
		a.log.Debug().Err(err).Msg("flush deferred until next sync opportunity")
	}
}
