package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CleanupStore is the store slice the stale-subscription job needs.
type CleanupStore interface {
	DeleteStaleSubscriptions(ctx context.Context, olderThan time.Time) (int64, error)
}

// Cleanup periodically removes subscriptions whose endpoints have not
// accepted a delivery for maxAge. Endpoints that became invalid without a
// send in between would otherwise linger forever.
type Cleanup struct {
	store    CleanupStore
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger
}

// NewCleanup creates the stale-subscription cleanup job.
func NewCleanup(store CleanupStore, interval, maxAge time.Duration, log zerolog.Logger) *Cleanup {
	return &Cleanup{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		log:      log.With().Str("component", "cleanup").Logger(),
	}
}

// Run sweeps until the context is cancelled.
func (c *Cleanup) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Once(ctx); err != nil {
				c.log.Error().Err(err).Msg("stale subscription cleanup failed")
			}
		}
	}
}

// Once runs a single cleanup pass.
func (c *Cleanup) Once(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-c.maxAge)
	removed, err := c.store.DeleteStaleSubscriptions(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("stale subscriptions removed")
	}
	return nil
}
