package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"push-relay-backend/internal/metrics"
	"push-relay-backend/internal/model"
	"push-relay-backend/internal/prefs"
)

// Rejection reasons returned when a dispatch is gated before fan-out.
const (
	ReasonDisabled        = "disabled"
	ReasonQuietHours      = "quiet_hours"
	ReasonNoSubscriptions = "no_subscriptions"
)

const broadcastConcurrency = 8

// Store is the slice of the durable store the dispatcher needs. It is
// re-read on every dispatch; subscriptions are never cached here, so a
// removal performed by another instance is always respected.
type Store interface {
	SubscriptionsByUser(ctx context.Context, userID string) ([]model.Subscription, error)
	SubscribedUserIDs(ctx context.Context) ([]string, error)
	DeleteSubscriptionByID(ctx context.Context, id int64) error
	TouchSubscription(ctx context.Context, id int64, at time.Time) error
	RecordDeliveryAttempts(ctx context.Context, attempts []model.DeliveryAttempt) error
	RecordNotification(ctx context.Context, rec *model.NotificationRecord) error
}

// Preferences resolves a user's notification settings.
type Preferences interface {
	Get(ctx context.Context, userID string) (*model.Preference, error)
}

// SendOptions tune one dispatch.
type SendOptions struct {
	// Urgent bypasses the quiet-hours gate and raises push urgency.
	Urgent bool
	// TTL overrides the configured push TTL when positive.
	TTL int
}

// Result reports the outcome of one dispatch.
type Result struct {
	Sent         bool   `json:"sent"`
	Reason       string `json:"reason,omitempty"`
	SentCount    int    `json:"sent_count"`
	FailedCount  int    `json:"failed_count"`
	TotalDevices int    `json:"total_devices"`
}

// BroadcastResult aggregates a SendToAll over every subscribed user.
type BroadcastResult struct {
	Users        int `json:"users"`
	FailedUsers  int `json:"failed_users"`
	SentCount    int `json:"sent_count"`
	FailedCount  int `json:"failed_count"`
	TotalDevices int `json:"total_devices"`
}

// Dispatcher fans one logical notification out to every device a user has
// registered.
type Dispatcher struct {
	store   Store
	prefs   Preferences
	sender  Sender
	options webpush.Options
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. timeout bounds each individual
// per-subscription send.
func NewDispatcher(store Store, preferences Preferences, sender Sender, options webpush.Options, timeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		prefs:   preferences,
		sender:  sender,
		options: options,
		timeout: timeout,
		metrics: m,
		log:     log.With().Str("component", "dispatcher").Logger(),
		now:     time.Now,
	}
}

// Send delivers the notification to all of the user's devices. Preference
// gates are checked first; a gated dispatch returns Sent=false with a reason
// and performs no network calls. Permanent delivery failures prune the
// subscription from the registry before Send returns.
func (d *Dispatcher) Send(ctx context.Context, userID string, n *model.Notification, opts SendOptions) (*Result, error) {
	pref, err := d.prefs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if reason, ok := d.gate(pref, n, opts); !ok {
		d.reject(reason)
		return &Result{Sent: false, Reason: reason}, nil
	}

	subs, err := d.store.SubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		d.reject(ReasonNoSubscriptions)
		return &Result{Sent: false, Reason: ReasonNoSubscriptions}, nil
	}

	payload, err := json.Marshal(wirePayload{
		Type:    n.Type,
		Title:   n.Title,
		Body:    n.Body,
		Tag:     n.Tag,
		Data:    n.Data,
		Sound:   pref.Sound,
		Vibrate: pref.Vibrate,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	outcomes := d.fanOut(ctx, subs, payload, n.Tag, opts)
	result, attempts := d.classify(ctx, userID, n.Type, subs, outcomes)

	// History is write-once; delivery classification above already ran, so
	// a failed history write never hides a pruned endpoint.
	if err := d.store.RecordDeliveryAttempts(ctx, attempts); err != nil {
		return result, err
	}
	err = d.store.RecordNotification(ctx, &model.NotificationRecord{
		UserID:       userID,
		Type:         n.Type,
		Title:        n.Title,
		Delivered:    result.SentCount > 0,
		SentCount:    result.SentCount,
		FailedCount:  result.FailedCount,
		TotalDevices: result.TotalDevices,
	})
	return result, err
}

// SendToAll dispatches the notification to every user holding at least one
// subscription. One user's failure never aborts the rest.
func (d *Dispatcher) SendToAll(ctx context.Context, n *model.Notification, opts SendOptions) (*BroadcastResult, error) {
	userIDs, err := d.store.SubscribedUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		total BroadcastResult
	)
	total.Users = len(userIDs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			res, err := d.Send(ctx, userID, n, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				total.FailedUsers++
				d.log.Error().Err(err).Str("user_id", userID).Msg("broadcast dispatch failed")
				return nil
			}
			total.SentCount += res.SentCount
			total.FailedCount += res.FailedCount
			total.TotalDevices += res.TotalDevices
			return nil
		})
	}
	_ = g.Wait()
	return &total, nil
}

// SendSilent pushes a data-only payload to wake the client for background
// state sync. It bypasses preference and quiet-hours gating and records no
// history; it must never carry user-visible content.
func (d *Dispatcher) SendSilent(ctx context.Context, userID string, data map[string]any) (*Result, error) {
	subs, err := d.store.SubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return &Result{Sent: false, Reason: ReasonNoSubscriptions}, nil
	}

	payload, err := json.Marshal(wirePayload{Type: "silent", Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	outcomes := d.fanOut(ctx, subs, payload, "", SendOptions{})
	result := &Result{TotalDevices: len(subs)}
	for i, out := range outcomes {
		if out.success {
			result.SentCount++
			continue
		}
		result.FailedCount++
		if out.permanent {
			d.prune(ctx, subs[i])
		}
	}
	result.Sent = result.SentCount > 0
	return result, nil
}

func (d *Dispatcher) gate(pref *model.Preference, n *model.Notification, opts SendOptions) (string, bool) {
	if !pref.Enabled {
		return ReasonDisabled, false
	}
	if !opts.Urgent && prefs.QuietHours(pref, d.now()) {
		return ReasonQuietHours, false
	}
	if !prefs.CategoryEnabled(pref, n.Type) {
		return n.Type + "_disabled", false
	}
	return "", true
}

type wirePayload struct {
	Type    string         `json:"type"`
	Title   string         `json:"title,omitempty"`
	Body    string         `json:"body,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Sound   bool           `json:"sound,omitempty"`
	Vibrate bool           `json:"vibrate,omitempty"`
}

type outcome struct {
	statusCode int
	err        error
	success    bool
	permanent  bool
}

// fanOut sends the payload to every subscription concurrently. Each send
// carries its own timeout so one hung device cannot stall the others.
func (d *Dispatcher) fanOut(ctx context.Context, subs []model.Subscription, payload []byte, tag string, opts SendOptions) []outcome {
	outcomes := make([]outcome, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub model.Subscription) {
			defer wg.Done()
			outcomes[i] = d.deliver(ctx, sub, payload, tag, opts)
		}(i, sub)
	}
	wg.Wait()
	return outcomes
}

// deliver pushes the payload to a single endpoint and classifies the result.
func (d *Dispatcher) deliver(ctx context.Context, sub model.Subscription, payload []byte, tag string, opts SendOptions) outcome {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	options := d.options
	if opts.TTL > 0 {
		options.TTL = opts.TTL
	}
	if opts.Urgent {
		options.Urgency = webpush.UrgencyHigh
	}
	// The push service coalesces undelivered notifications sharing a topic,
	// which implements tag-based replacement.
	options.Topic = tag

	resp, err := d.sender.Send(sendCtx, payload, wpSub, &options)
	if err != nil {
		return outcome{err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	out := outcome{statusCode: resp.StatusCode}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out.success = true
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		out.permanent = true
	}
	return out
}

// classify turns per-subscription outcomes into the aggregate result, prunes
// endpoints confirmed gone, and builds the append-only attempt rows. Pruning
// happens here, before Send returns.
func (d *Dispatcher) classify(ctx context.Context, userID, notifType string, subs []model.Subscription, outcomes []outcome) (*Result, []model.DeliveryAttempt) {
	result := &Result{TotalDevices: len(subs)}
	attempts := make([]model.DeliveryAttempt, 0, len(subs))
	now := d.now().UTC()

	for i, out := range outcomes {
		sub := subs[i]
		attempt := model.DeliveryAttempt{
			SubscriptionID: sub.ID,
			UserID:         userID,
			Type:           notifType,
			Success:        out.success,
			StatusCode:     out.statusCode,
		}
		if out.err != nil {
			attempt.Error = out.err.Error()
		}
		attempts = append(attempts, attempt)

		switch {
		case out.success:
			result.SentCount++
			d.observe("success")
			if err := d.store.TouchSubscription(ctx, sub.ID, now); err != nil {
				d.log.Warn().Err(err).Int64("subscription_id", sub.ID).Msg("failed to bump last_used")
			}
		case out.permanent:
			result.FailedCount++
			d.observe("permanent")
			d.prune(ctx, sub)
		default:
			// Transient: counted but not corrected. The next independent
			// notification is the implicit retry.
			result.FailedCount++
			d.observe("transient")
		}
	}

	result.Sent = result.SentCount > 0
	return result, attempts
}

func (d *Dispatcher) prune(ctx context.Context, sub model.Subscription) {
	d.log.Info().Int64("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("pruning expired subscription")
	if err := d.store.DeleteSubscriptionByID(ctx, sub.ID); err != nil {
		d.log.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to prune subscription")
		return
	}
	if d.metrics != nil {
		d.metrics.SubscriptionsPruned.Inc()
	}
}

func (d *Dispatcher) observe(outcome string) {
	if d.metrics != nil {
		d.metrics.DeliveryOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (d *Dispatcher) reject(reason string) {
	if d.metrics != nil {
		d.metrics.DispatchRejections.WithLabelValues(reason).Inc()
	}
}
