package prefs

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"push-relay-backend/internal/model"
	"push-relay-backend/internal/store"
)

// Store is the slice of the durable store the preference service needs.
type Store interface {
	GetPreference(ctx context.Context, userID string) (*model.Preference, error)
	SavePreference(ctx context.Context, pref *model.Preference) error
}

// Service reads and writes user preferences with a read-through cache. The
// cache TTL is explicit and every save invalidates the entry, so a stale
// value lives at most one TTL on instances that did not perform the save.
type Service struct {
	store Store
	cache *cache.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewService creates a preference service with the given cache TTL.
func NewService(s Store, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store: s,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
		log:   log.With().Str("component", "prefs").Logger(),
	}
}

// Get returns the user's preferences merged over defaults. A user who never
// saved anything gets the defaults without a row being created.
func (s *Service) Get(ctx context.Context, userID string) (*model.Preference, error) {
	if v, found := s.cache.Get(userID); found {
		pref := v.(model.Preference)
		return &pref, nil
	}

	pref, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			pref = Defaults(userID)
		} else {
			return nil, err
		}
	}

	s.cache.Set(userID, *pref, s.ttl)
	return pref, nil
}

// Save applies the partial patch over the current values and persists the
// result (read-modify-write). Returns the merged object.
func (s *Service) Save(ctx context.Context, userID string, patch Patch) (*model.Preference, error) {
	current, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		if !store.IsNotFound(err) {
			return nil, err
		}
		current = Defaults(userID)
	}

	Apply(current, patch)
	current.UpdatedAt = time.Now().UTC()
	if err := s.store.SavePreference(ctx, current); err != nil {
		return nil, err
	}

	s.Invalidate(userID)
	s.log.Debug().Str("user_id", userID).Msg("preferences saved")
	return current, nil
}

// Invalidate drops the cached entry for the user.
func (s *Service) Invalidate(userID string) {
	s.cache.Delete(userID)
}
