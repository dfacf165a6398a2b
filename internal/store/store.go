package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"push-relay-backend/internal/model"
)

// Store defines the interface for all database operations. It is the single
// source of truth for endpoint validity: nothing above it caches
// subscriptions across invocations.
type Store interface {
	// Subscriptions.
	UpsertSubscription(ctx context.Context, sub *model.Subscription) (updated bool, err error)
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	DeleteUserSubscriptions(ctx context.Context, userID string) error
	DeleteSubscriptionByID(ctx context.Context, id int64) error
	SubscriptionsByUser(ctx context.Context, userID string) ([]model.Subscription, error)
	SubscribedUserIDs(ctx context.Context) ([]string, error)
	TouchSubscription(ctx context.Context, id int64, at time.Time) error
	DeleteStaleSubscriptions(ctx context.Context, olderThan time.Time) (int64, error)

	// Preferences.
	GetPreference(ctx context.Context, userID string) (*model.Preference, error)
	SavePreference(ctx context.Context, pref *model.Preference) error

	// Scheduled notifications.
	CreateScheduled(ctx context.Context, entry *model.ScheduledNotification) error
	CancelScheduled(ctx context.Context, id string) error
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]model.ScheduledNotification, error)
	ClaimScheduled(ctx context.Context, id string, at time.Time) (bool, error)

	// Delivery history.
	RecordDeliveryAttempts(ctx context.Context, attempts []model.DeliveryAttempt) error
	RecordNotification(ctx context.Context, rec *model.NotificationRecord) error
	UnreadCount(ctx context.Context, userID string, since time.Time) (int64, error)

	// Analytics.
	InsertAnalyticsEvent(ctx context.Context, ev *model.AnalyticsEvent) error
	AnalyticsCounts(ctx context.Context, userID string, since time.Time) (map[string]int64, error)
}

// StorageError wraps a failure of the durable store. It is always propagated
// to the caller; swallowing it would falsely report success.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err originated in the durable store.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsNotFound reports whether err is a missing-row lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}
