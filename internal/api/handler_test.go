package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"push-relay-backend/config"
	"push-relay-backend/internal/analytics"
	"push-relay-backend/internal/db"
	"push-relay-backend/internal/metrics"
	"push-relay-backend/internal/model"
	"push-relay-backend/internal/prefs"
	"push-relay-backend/internal/push"
	"push-relay-backend/internal/registry"
	"push-relay-backend/internal/scheduler"
	"push-relay-backend/internal/store"
)

const testJWTSecret = "test-secret"

var testDBCounter atomic.Int64

// mockSender accepts every push without touching the network.
type mockSender struct {
	calls atomic.Int64
}

func (m *mockSender) Send(_ context.Context, _ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	m.calls.Add(1)
	return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	sender *mockSender
}

func setupTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:apitest%d?mode=memory&cache=shared", testDBCounter.Add(1))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	st := store.NewGormStore(gormDB)
	log := zerolog.Nop()
	m := metrics.New(prometheus.NewRegistry())
	sender := &mockSender{}

	options := webpush.Options{
		VAPIDPublicKey:  "test-public-key",
		VAPIDPrivateKey: "test-private-key",
		TTL:             3600,
	}

	prefSvc := prefs.NewService(st, time.Minute, log)
	reg := registry.NewService(st, log)
	dispatcher := push.NewDispatcher(st, prefSvc, sender, options, 5*time.Second, m, log)
	sched := scheduler.New(st, dispatcher, nil, time.Minute, 100, m, log)
	recorder := analytics.NewRecorder(st, log)

	h := NewHandler(st, reg, prefSvc, dispatcher, sched, recorder, &options, log)
	cfg := &config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 60}
	router := NewRouter(h, cfg, testJWTSecret, nil)

	return &testServer{router: router, db: gormDB, sender: sender}
}

func token(t *testing.T, userID string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) request(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func subscribeBody(endpoint string) map[string]any {
	return map[string]any{
		"endpoint": endpoint,
		"keys":     map[string]string{"p256dh": "p256-key", "auth": "auth-key"},
		"platform": "web",
	}
}

func TestSubscribeRequiresAuth(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "POST", "/api/subscribe", "", subscribeBody("https://push.example/ep"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubscribeRejectsBadPayload(t *testing.T) {
	ts := setupTestServer(t)
	tok := token(t, "alice")

	w := ts.request(t, "POST", "/api/subscribe", tok, map[string]any{"endpoint": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.request(t, "POST", "/api/subscribe", tok, subscribeBody("http://insecure.example/ep"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscribeIdempotent(t *testing.T) {
	ts := setupTestServer(t)
	tok := token(t, "alice")

	w := ts.request(t, "POST", "/api/subscribe", tok, subscribeBody("https://push.example/ep"))
	require.Equal(t, http.StatusOK, w.Code)
	var first registry.RegisterResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.False(t, first.Updated)

	w = ts.request(t, "POST", "/api/subscribe", tok, subscribeBody("https://push.example/ep"))
	require.Equal(t, http.StatusOK, w.Code)
	var second registry.RegisterResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.True(t, second.Updated)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	ts.db.Model(&model.Subscription{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUnsubscribeRemovesAllDevices(t *testing.T) {
	ts := setupTestServer(t)
	tok := token(t, "alice")

	require.Equal(t, http.StatusOK, ts.request(t, "POST", "/api/subscribe", tok, subscribeBody("https://push.example/ep-1")).Code)
	require.Equal(t, http.StatusOK, ts.request(t, "POST", "/api/subscribe", tok, subscribeBody("https://push.example/ep-2")).Code)

	w := ts.request(t, "POST", "/api/unsubscribe", tok, map[string]any{})
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	ts.db.Model(&model.Subscription{}).Where("user_id = ?", "alice").Count(&count)
	assert.Zero(t, count)

	// Unsubscribing again is still a success.
	assert.Equal(t, http.StatusOK, ts.request(t, "POST", "/api/unsubscribe", tok, map[string]any{}).Code)
}

func TestGetPreferencesReturnsDefaults(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "GET", "/api/preferences", token(t, "alice"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var pref model.Preference
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pref))
	assert.True(t, pref.Enabled)
	assert.True(t, pref.Messages)
	assert.False(t, pref.QuietHoursEnabled)

	// Reading defaults must not persist a row.
	var count int64
	ts.db.Model(&model.Preference{}).Count(&count)
	assert.Zero(t, count)
}

func TestPutPreferencesMergesPartialUpdate(t *testing.T) {
	ts := setupTestServer(t)
	tok := token(t, "alice")

	w := ts.request(t, "PUT", "/api/preferences", tok, map[string]any{
		"quiet_hours_enabled": true,
		"quiet_start":         22 * 60,
		"quiet_end":           8 * 60,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var pref model.Preference
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pref))
	assert.True(t, pref.QuietHoursEnabled)
	assert.Equal(t, 22*60, pref.QuietStart)
	// Untouched fields keep their defaults.
	assert.True(t, pref.Enabled)
	assert.True(t, pref.Reminders)
}

func TestPutPreferencesRejectsBadWindow(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "PUT", "/api/preferences", token(t, "alice"), map[string]any{
		"quiet_start": 25 * 60,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "GET", "/api/vapid-key", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publicKey":"test-public-key"}`, w.Body.String())
}

func TestAnalyticsBatchAcceptsUnauthenticated(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "POST", "/api/analytics/batch", "", map[string]any{
		"events": []map[string]any{
			{"name": "notification_delivered", "timestamp": time.Now().UnixMilli()},
			{"name": "notification_clicked"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result analytics.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, analytics.BatchResult{Recorded: 2, Total: 2}, result)

	var events []model.AnalyticsEvent
	ts.db.Find(&events)
	require.Len(t, events, 2)
	assert.Empty(t, events[0].UserID)
}

func TestGetStats(t *testing.T) {
	ts := setupTestServer(t)
	tok := token(t, "alice")

	w := ts.request(t, "POST", "/api/analytics/batch", tok, map[string]any{
		"events": []map[string]any{
			{"name": "notification_delivered"},
			{"name": "notification_delivered"},
			{"name": "notification_clicked"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, "GET", "/api/stats?days=7", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats analytics.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Delivered)
	assert.InDelta(t, 0.5, stats.ClickRate, 1e-9)

	assert.Equal(t, http.StatusBadRequest, ts.request(t, "GET", "/api/stats?days=abc", tok, nil).Code)
}

func TestGetUnreadCount(t *testing.T) {
	ts := setupTestServer(t)
	tok := token(t, "alice")

	require.NoError(t, ts.db.Create(&model.NotificationRecord{
		UserID: "alice", Type: "message", Delivered: true, CreatedAt: time.Now().Add(-time.Hour),
	}).Error)
	require.NoError(t, ts.db.Create(&model.NotificationRecord{
		UserID: "alice", Type: "message", Delivered: true, CreatedAt: time.Now().Add(-48 * time.Hour),
	}).Error)
	require.NoError(t, ts.db.Create(&model.NotificationRecord{
		UserID: "bob", Type: "message", Delivered: true, CreatedAt: time.Now().Add(-time.Hour),
	}).Error)

	// Default window is the last 24h.
	w := ts.request(t, "GET", "/api/unread", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, w.Body.String())

	// An explicit since of 0 covers everything.
	w = ts.request(t, "GET", "/api/unread?since=0", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, ts.request(t, "GET", "/api/unread?since=-1", tok, nil).Code)
}

func TestScheduleAndCancel(t *testing.T) {
	ts := setupTestServer(t)
	tok := token(t, "alice")

	w := ts.request(t, "POST", "/api/schedule", tok, map[string]any{
		"type":   "reminder",
		"title":  "Stand up",
		"body":   "Time to stretch",
		"sendAt": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var scheduled scheduler.Scheduled
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scheduled))
	require.NotEmpty(t, scheduled.ID)

	var entry model.ScheduledNotification
	require.NoError(t, ts.db.First(&entry, "id = ?", scheduled.ID).Error)
	assert.False(t, entry.Sent)
	assert.Equal(t, "alice", entry.UserID)

	w = ts.request(t, "DELETE", "/api/schedule/"+scheduled.ID, tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	ts.db.Model(&model.ScheduledNotification{}).Count(&count)
	assert.Zero(t, count)

	// Cancelling an unknown id is a no-op success.
	w = ts.request(t, "DELETE", "/api/schedule/"+scheduled.ID, tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScheduleRejectsBadPayload(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "POST", "/api/schedule", token(t, "alice"), map[string]any{"type": "reminder"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendTestNotification(t *testing.T) {
	ts := setupTestServer(t)
	tok := token(t, "alice")

	require.Equal(t, http.StatusOK, ts.request(t, "POST", "/api/subscribe", tok, subscribeBody("https://push.example/ep")).Code)

	w := ts.request(t, "POST", "/api/test-notification", tok, map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)

	var result push.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Sent)
	assert.Equal(t, 1, result.SentCount)
	assert.Equal(t, int64(1), ts.sender.calls.Load())

	// A delivery record lands in the history.
	var count int64
	ts.db.Model(&model.NotificationRecord{}).Where("user_id = ? AND delivered = ?", "alice", true).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSendTestNotificationNoSubscriptions(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "POST", "/api/test-notification", token(t, "bob"), map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)

	var result push.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Sent)
	assert.Equal(t, push.ReasonNoSubscriptions, result.Reason)
	assert.Zero(t, ts.sender.calls.Load())
}
