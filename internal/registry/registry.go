package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"push-relay-backend/internal/model"
)

// ErrValidation marks a malformed registration payload. Rejected at the
// boundary, never persisted.
var ErrValidation = errors.New("invalid subscription payload")

// Store is the slice of the durable store the registry needs.
type Store interface {
	UpsertSubscription(ctx context.Context, sub *model.Subscription) (bool, error)
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	DeleteUserSubscriptions(ctx context.Context, userID string) error
	SubscriptionsByUser(ctx context.Context, userID string) ([]model.Subscription, error)
}

// Keys are the client encryption keys that accompany a push endpoint.
type Keys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

// Metadata describes the registering device.
type Metadata struct {
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform"`
}

// RegisterResult reports the row id and whether an existing endpoint was
// updated rather than created.
type RegisterResult struct {
	ID      int64 `json:"id"`
	Updated bool  `json:"updated"`
}

// Service is the subscription registry. It owns the (user, device) push
// endpoints and is the single source of truth for endpoint validity.
type Service struct {
	store Store
	log   zerolog.Logger
}

// NewService creates a registry over the given store.
func NewService(s Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log.With().Str("component", "registry").Logger()}
}

// Register stores the endpoint for the user. Idempotent on endpoint: a
// second registration updates owner, keys and metadata in place.
func (r *Service) Register(ctx context.Context, userID, endpoint string, keys Keys, meta Metadata) (RegisterResult, error) {
	if err := validate(userID, endpoint, keys); err != nil {
		return RegisterResult{}, err
	}

	sub := &model.Subscription{
		Endpoint:  endpoint,
		P256DH:    keys.P256DH,
		Auth:      keys.Auth,
		UserID:    userID,
		UserAgent: meta.UserAgent,
		Platform:  meta.Platform,
		LastUsed:  time.Now().UTC(),
	}
	updated, err := r.store.UpsertSubscription(ctx, sub)
	if err != nil {
		return RegisterResult{}, err
	}

	r.log.Info().Str("user_id", userID).Bool("updated", updated).Msg("subscription registered")
	return RegisterResult{ID: sub.ID, Updated: updated}, nil
}

// Unregister removes one subscription, or all of the user's subscriptions
// when endpoint is empty. Unknown endpoints and users are a no-op success.
func (r *Service) Unregister(ctx context.Context, userID, endpoint string) error {
	if endpoint == "" {
		return r.store.DeleteUserSubscriptions(ctx, userID)
	}
	return r.store.DeleteSubscription(ctx, userID, endpoint)
}

// ListByUser returns the user's registered subscriptions.
func (r *Service) ListByUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	return r.store.SubscriptionsByUser(ctx, userID)
}

func validate(userID, endpoint string, keys Keys) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user id", ErrValidation)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an https URL", ErrValidation)
	}
	if keys.P256DH == "" || keys.Auth == "" {
		return fmt.Errorf("%w: missing encryption keys", ErrValidation)
	}
	return nil
}
