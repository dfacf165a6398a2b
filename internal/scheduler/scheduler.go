package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"push-relay-backend/internal/metrics"
	"push-relay-backend/internal/model"
	"push-relay-backend/internal/push"
)

// ErrValidation marks a malformed schedule request.
var ErrValidation = errors.New("invalid schedule request")

// Store is the slice of the durable store the scheduler needs.
type Store interface {
	CreateScheduled(ctx context.Context, entry *model.ScheduledNotification) error
	CancelScheduled(ctx context.Context, id string) error
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]model.ScheduledNotification, error)
	ClaimScheduled(ctx context.Context, id string, at time.Time) (bool, error)
}

// Dispatcher delivers a claimed notification.
type Dispatcher interface {
	Send(ctx context.Context, userID string, n *model.Notification, opts push.SendOptions) (*push.Result, error)
}

// Scheduled reports a newly created entry.
type Scheduled struct {
	ID           string    `json:"id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// Scheduler defers notifications to a target time and sweeps due entries on
// a fixed cadence. Safe to run from multiple instances: each entry is
// claimed by compare-and-set before delivery.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	lock       Lock
	interval   time.Duration
	batchSize  int
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// New creates a scheduler sweeping every interval, claiming at most
// batchSize entries per pass.
func New(store Store, dispatcher Dispatcher, lock Lock, interval time.Duration, batchSize int, m *metrics.Metrics, log zerolog.Logger) *Scheduler {
	if lock == nil {
		lock = NoopLock()
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		lock:       lock,
		interval:   interval,
		batchSize:  batchSize,
		metrics:    m,
		log:        log.With().Str("component", "scheduler").Logger(),
		now:        time.Now,
	}
}

// Schedule creates a deferred notification for the user.
func (s *Scheduler) Schedule(ctx context.Context, userID string, n *model.Notification, whenUTC time.Time) (*Scheduled, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrValidation)
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	entry := &model.ScheduledNotification{
		ID:           uuid.NewString(),
		UserID:       userID,
		Payload:      string(payload),
		ScheduledFor: whenUTC.UTC(),
	}
	if err := s.store.CreateScheduled(ctx, entry); err != nil {
		return nil, err
	}
	s.log.Info().Str("id", entry.ID).Str("user_id", userID).Time("scheduled_for", entry.ScheduledFor).Msg("notification scheduled")
	return &Scheduled{ID: entry.ID, ScheduledFor: entry.ScheduledFor}, nil
}

// Cancel removes an unsent entry. Sent or unknown ids are a no-op success.
// A cancel racing the sweep's claim is best-effort: the entry may still fire.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.store.CancelScheduled(ctx, id)
}

// Run sweeps until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("scheduler sweep starting")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler sweep stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep delivers every due entry at most once. Each entry is marked sent by
// the claim before delivery is attempted, and stays sent whatever the
// delivery outcome: an overdue notification is never redelivered merely
// because a device was offline.
func (s *Scheduler) Sweep(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.log.Debug().Msg("another instance is sweeping; skipping this pass")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.log.Warn().Err(relErr).Msg("failed to release sweep lock")
		}
	}()

	start := s.now()
	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
		defer func() {
			s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		}()
	}

	due, err := s.store.DueScheduled(ctx, start.UTC(), s.batchSize)
	if err != nil {
		return err
	}

	for _, entry := range due {
		claimed, err := s.store.ClaimScheduled(ctx, entry.ID, s.now().UTC())
		if err != nil {
			s.log.Error().Err(err).Str("id", entry.ID).Msg("claim failed")
			continue
		}
		if !claimed {
			// Another sweep got there first.
			continue
		}
		if s.metrics != nil {
			s.metrics.SweepClaimed.Inc()
		}
		s.deliver(ctx, entry)
	}
	return nil
}

func (s *Scheduler) deliver(ctx context.Context, entry model.ScheduledNotification) {
	var n model.Notification
	if err := json.Unmarshal([]byte(entry.Payload), &n); err != nil {
		s.log.Error().Err(err).Str("id", entry.ID).Msg("undecodable scheduled payload")
		return
	}

	res, err := s.dispatcher.Send(ctx, entry.UserID, &n, push.SendOptions{})
	if err != nil {
		s.log.Error().Err(err).Str("id", entry.ID).Str("user_id", entry.UserID).Msg("scheduled delivery failed")
		return
	}
	s.log.Info().
		Str("id", entry.ID).
		Str("user_id", entry.UserID).
		Bool("sent", res.Sent).
		Str("reason", res.Reason).
		Int("sent_count", res.SentCount).
		Msg("scheduled notification delivered")
}
