package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-relay-backend/internal/model"
	"push-relay-backend/internal/prefs"
)

type fakePlatform struct {
	mu              sync.Mutex
	permission      Permission
	requestResult   Permission
	requestCalls    int
	subscription    PushSubscription
	shown           []*model.Notification
	badge           int
	maxTimerDelay   time.Duration
	unsubscribeErr  error
	subscribeCalled int
}

func (p *fakePlatform) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

func (p *fakePlatform) RequestPermission(context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestCalls++
	p.permission = p.requestResult
	return p.requestResult, nil
}

func (p *fakePlatform) Subscribe(context.Context, string) (*PushSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribeCalled++
	sub := p.subscription
	return &sub, nil
}

func (p *fakePlatform) Unsubscribe(context.Context) error { return p.unsubscribeErr }

func (p *fakePlatform) ShowNotification(_ context.Context, n *model.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, n)
	return nil
}

func (p *fakePlatform) SetBadge(count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.badge = count
	return nil
}

func (p *fakePlatform) MaxTimerDelay() time.Duration {
	if p.maxTimerDelay == 0 {
		return time.Hour
	}
	return p.maxTimerDelay
}

func (p *fakePlatform) shownCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.shown)
}

type fakeServer struct {
	mu             sync.Mutex
	offline        bool
	subscribes     int
	unsubscribes   int
	savedPatches   []prefs.Patch
	recorded       []EventPayload
	recordLimit    int // cap on events accepted per RecordBatch; 0 accepts all
	unreadCount    int
	unreadCalls    int
	mergedPref     *model.Preference
	vapidPublicKey string
}

var errOffline = errors.New("network unreachable")

func (s *fakeServer) VAPIDKey(context.Context) (string, error) {
	if s.isOffline() {
		return "", errOffline
	}
	if s.vapidPublicKey == "" {
		return "server-vapid-key", nil
	}
	return s.vapidPublicKey, nil
}

func (s *fakeServer) Subscribe(context.Context, PushSubscription, string, string) error {
	if s.isOffline() {
		return errOffline
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	return nil
}

func (s *fakeServer) Unsubscribe(context.Context) error {
	if s.isOffline() {
		return errOffline
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes++
	return nil
}

func (s *fakeServer) SavePreferences(_ context.Context, patch prefs.Patch) (*model.Preference, error) {
	if s.isOffline() {
		return nil, errOffline
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedPatches = append(s.savedPatches, patch)
	if s.mergedPref != nil {
		return s.mergedPref, nil
	}
	pref := prefs.Defaults("")
	prefs.Apply(pref, patch)
	return pref, nil
}

func (s *fakeServer) RecordBatch(_ context.Context, events []EventPayload) (int, int, error) {
	if s.isOffline() {
		return 0, len(events), errOffline
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	accept := len(events)
	if s.recordLimit > 0 && accept > s.recordLimit {
		accept = s.recordLimit
	}
	s.recorded = append(s.recorded, events[:accept]...)
	return accept, len(events), nil
}

func (s *fakeServer) UnreadCount(context.Context, time.Time) (int, error) {
	if s.isOffline() {
		return 0, errOffline
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreadCalls++
	return s.unreadCount, nil
}

func (s *fakeServer) isOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

func (s *fakeServer) setOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func newTestAgent(t *testing.T, platform *fakePlatform, server *fakeServer) *Agent {
	if platform.permission == "" {
		platform.permission = PermissionDefault
	}
	return New(platform, server, newTestQueue(t), zerolog.Nop())
}

func TestRequestPermissionUpgradesOnce(t *testing.T) {
	platform := &fakePlatform{permission: PermissionDefault, requestResult: PermissionGranted}
	a := newTestAgent(t, platform, &fakeServer{})

	got, err := a.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, got)

	// Once answered, the platform is never prompted again.
	got, err = a.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, got)
	assert.Equal(t, 1, platform.requestCalls)
}

func TestRequestPermissionDeniedIsFinal(t *testing.T) {
	platform := &fakePlatform{permission: PermissionDenied}
	a := newTestAgent(t, platform, &fakeServer{})

	got, err := a.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, got)
	assert.Zero(t, platform.requestCalls)
}

func TestEnablePushWithoutPermission(t *testing.T) {
	a := newTestAgent(t, &fakePlatform{permission: PermissionDefault}, &fakeServer{})

	err := a.EnablePush(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestEnablePushForwardsSubscription(t *testing.T) {
	platform := &fakePlatform{
		permission:   PermissionGranted,
		subscription: PushSubscription{Endpoint: "https://push.example/ep", P256DH: "p", Auth: "a"},
	}
	server := &fakeServer{}
	a := newTestAgent(t, platform, server)
	a.SetAuthenticated(context.Background(), true)

	require.NoError(t, a.EnablePush(context.Background()))

	assert.Equal(t, 1, server.subscribes)
	pending, err := a.queue.PendingActions()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestFlushOutboundRetriesWithoutDuplicating(t *testing.T) {
	platform := &fakePlatform{
		permission:   PermissionGranted,
		subscription: PushSubscription{Endpoint: "https://push.example/ep", P256DH: "p", Auth: "a"},
	}
	server := &fakeServer{}
	server.setOffline(true)
	a := newTestAgent(t, platform, server)
	a.SetAuthenticated(context.Background(), true)

	// Offline: the subscribe fails at the VAPID fetch before anything is
	// queued, so enqueue the forward directly like a sign-in would.
	a.enqueueSubscribe(platform.subscription)
	require.Error(t, a.FlushOutbound(context.Background()))

	pending, err := a.queue.PendingActions()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	// Back online: the queued action goes out exactly once.
	server.setOffline(false)
	require.NoError(t, a.FlushOutbound(context.Background()))
	assert.Equal(t, 1, server.subscribes)

	pending, err = a.queue.PendingActions()
	require.NoError(t, err)
	assert.Zero(t, pending)

	// Nothing left: another flush sends nothing.
	require.NoError(t, a.FlushOutbound(context.Background()))
	assert.Equal(t, 1, server.subscribes)
}

func TestSavePreferencesLocalFirst(t *testing.T) {
	server := &fakeServer{}
	server.setOffline(true)
	a := newTestAgent(t, &fakePlatform{permission: PermissionGranted}, server)

	enabled := false
	require.NoError(t, a.SavePreferences(context.Background(), prefs.Patch{Enabled: &enabled}))

	// Local behavior changes immediately even though the server is down.
	assert.False(t, a.Preferences().Enabled)

	pending, err := a.queue.PendingActions()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	server.setOffline(false)
	require.NoError(t, a.FlushOutbound(context.Background()))
	require.Len(t, server.savedPatches, 1)
	assert.False(t, a.Preferences().Enabled)
}

func TestHandlePushRendersAndTracksDelivery(t *testing.T) {
	platform := &fakePlatform{permission: PermissionGranted}
	a := newTestAgent(t, platform, &fakeServer{})

	payload, err := json.Marshal(model.Notification{Type: prefs.CategoryMessage, Title: "Hi", Tag: "m-1"})
	require.NoError(t, err)
	require.NoError(t, a.HandlePush(context.Background(), payload))

	assert.Equal(t, 1, platform.shownCount())

	events, err := a.queue.PendingEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(1), events)
}

func TestHandlePushSilentSyncsInsteadOfRendering(t *testing.T) {
	platform := &fakePlatform{permission: PermissionGranted}
	server := &fakeServer{unreadCount: 4}
	a := newTestAgent(t, platform, server)

	payload, err := json.Marshal(model.Notification{Type: "silent"})
	require.NoError(t, err)
	require.NoError(t, a.HandlePush(context.Background(), payload))

	assert.Zero(t, platform.shownCount())
	assert.Equal(t, 1, server.unreadCalls)
	assert.Equal(t, 4, a.Badge())
	assert.Equal(t, 4, platform.badge)
}

func TestHandlePushHandsOffToForegroundPage(t *testing.T) {
	platform := &fakePlatform{permission: PermissionGranted}
	a := newTestAgent(t, platform, &fakeServer{})

	page := make(chan *model.Notification, 1)
	a.AttachForeground(page)

	payload, err := json.Marshal(model.Notification{Type: prefs.CategoryMessage, Title: "Hi"})
	require.NoError(t, err)
	require.NoError(t, a.HandlePush(context.Background(), payload))

	// The open page gets the notification; nothing hits the system tray.
	select {
	case n := <-page:
		assert.Equal(t, "Hi", n.Title)
	default:
		t.Fatal("expected the notification on the foreground channel")
	}
	assert.Zero(t, platform.shownCount())

	// Once detached, rendering falls back to system notifications.
	a.DetachForeground()
	require.NoError(t, a.HandlePush(context.Background(), payload))
	assert.Equal(t, 1, platform.shownCount())
}

func TestShowLocalNotificationSuppressedDuringQuietHours(t *testing.T) {
	platform := &fakePlatform{permission: PermissionGranted}
	server := &fakeServer{}
	server.setOffline(true)
	a := newTestAgent(t, platform, server)
	a.now = func() time.Time {
		return time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)
	}

	on := true
	start, end := 22*60, 8*60
	require.NoError(t, a.SavePreferences(context.Background(), prefs.Patch{
		QuietHoursEnabled: &on, QuietStart: &start, QuietEnd: &end,
	}))

	// Suppression is a silent drop, not an error.
	err := a.ShowLocalNotification(context.Background(), &model.Notification{Type: prefs.CategoryMessage, Title: "Hi"})
	require.NoError(t, err)
	assert.Zero(t, platform.shownCount())
}

func TestShowLocalNotificationDisabledCategory(t *testing.T) {
	platform := &fakePlatform{permission: PermissionGranted}
	server := &fakeServer{}
	server.setOffline(true)
	a := newTestAgent(t, platform, server)

	off := false
	require.NoError(t, a.SavePreferences(context.Background(), prefs.Patch{Updates: &off}))

	require.NoError(t, a.ShowLocalNotification(context.Background(), &model.Notification{Type: prefs.CategoryUpdate}))
	assert.Zero(t, platform.shownCount())

	require.NoError(t, a.ShowLocalNotification(context.Background(), &model.Notification{Type: prefs.CategoryMessage}))
	assert.Equal(t, 1, platform.shownCount())
}

func TestFlushAnalyticsPartialAck(t *testing.T) {
	server := &fakeServer{recordLimit: 3}
	a := newTestAgent(t, &fakePlatform{permission: PermissionGranted}, server)

	for i := 0; i < 5; i++ {
		a.Track("notification_clicked", nil)
	}

	// The server accepts three: only those leave the queue.
	require.NoError(t, a.FlushAnalytics(context.Background()))
	pending, err := a.queue.PendingEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
	assert.Len(t, server.recorded, 3)

	server.recordLimit = 0
	require.NoError(t, a.FlushAnalytics(context.Background()))
	pending, err = a.queue.PendingEvents()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Len(t, server.recorded, 5)
}

func TestFlushAnalyticsOfflineKeepsEverything(t *testing.T) {
	server := &fakeServer{}
	server.setOffline(true)
	a := newTestAgent(t, &fakePlatform{permission: PermissionGranted}, server)

	a.Track("notification_dismissed", nil)
	require.Error(t, a.FlushAnalytics(context.Background()))

	pending, err := a.queue.PendingEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestReminderWithinHorizonFires(t *testing.T) {
	platform := &fakePlatform{permission: PermissionGranted, maxTimerDelay: time.Minute}
	a := newTestAgent(t, platform, &fakeServer{})

	a.ScheduleReminder(context.Background(), &model.Notification{Type: prefs.CategoryReminder, Title: "Now-ish"}, time.Now().Add(20*time.Millisecond))

	require.Eventually(t, func() bool {
		return platform.shownCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReminderBeyondHorizonWaitsForCheckpoint(t *testing.T) {
	platform := &fakePlatform{permission: PermissionGranted, maxTimerDelay: time.Minute}
	a := newTestAgent(t, platform, &fakeServer{})

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }

	// Two hours out with a one-minute timer horizon: no timer is armed.
	a.ScheduleReminder(context.Background(), &model.Notification{Type: prefs.CategoryReminder, Title: "Later"}, base.Add(2*time.Hour))
	assert.Zero(t, platform.shownCount())

	// A checkpoint before the target time changes nothing.
	a.Checkpoint(context.Background())
	assert.Zero(t, platform.shownCount())

	// Waking up past the target time fires it immediately.
	a.now = func() time.Time { return base.Add(3 * time.Hour) }
	a.Checkpoint(context.Background())
	assert.Equal(t, 1, platform.shownCount())

	// It fired once; later checkpoints do not repeat it.
	a.Checkpoint(context.Background())
	assert.Equal(t, 1, platform.shownCount())
}

func TestCancelReminder(t *testing.T) {
	platform := &fakePlatform{permission: PermissionGranted, maxTimerDelay: time.Minute}
	a := newTestAgent(t, platform, &fakeServer{})

	id := a.ScheduleReminder(context.Background(), &model.Notification{Type: prefs.CategoryReminder}, time.Now().Add(50*time.Millisecond))
	a.CancelReminder(id)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, platform.shownCount())
}
