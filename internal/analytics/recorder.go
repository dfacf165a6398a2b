package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"push-relay-backend/internal/model"
)

// Well-known event names used by stats aggregation.
const (
	EventDelivered = "notification_delivered"
	EventClicked   = "notification_clicked"
	EventDismissed = "notification_dismissed"
)

// ErrValidation marks a malformed event.
var ErrValidation = errors.New("invalid analytics event")

// Store is the slice of the durable store the recorder needs.
type Store interface {
	InsertAnalyticsEvent(ctx context.Context, ev *model.AnalyticsEvent) error
	AnalyticsCounts(ctx context.Context, userID string, since time.Time) (map[string]int64, error)
}

// BatchResult reports how much of a batch was consumed. Recorded is always a
// prefix length: malformed events are dropped but still counted as consumed,
// so a client acking the first Recorded items and resending the rest never
// duplicates a persisted event.
type BatchResult struct {
	Recorded int `json:"recorded"`
	Dropped  int `json:"dropped,omitempty"`
	Total    int `json:"total"`
}

// Stats aggregates a user's notification engagement over a window.
type Stats struct {
	Total     int64   `json:"total"`
	Delivered int64   `json:"delivered"`
	Clicked   int64   `json:"clicked"`
	Dismissed int64   `json:"dismissed"`
	ClickRate float64 `json:"click_rate"`
}

// Recorder persists analytics events and serves aggregate stats.
type Recorder struct {
	store Store
	log   zerolog.Logger
}

// NewRecorder creates an analytics recorder.
func NewRecorder(s Store, log zerolog.Logger) *Recorder {
	return &Recorder{store: s, log: log.With().Str("component", "analytics").Logger()}
}

// RecordEvent persists one event.
func (r *Recorder) RecordEvent(ctx context.Context, ev *model.AnalyticsEvent) error {
	if ev.Name == "" {
		return fmt.Errorf("%w: missing name", ErrValidation)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return r.store.InsertAnalyticsEvent(ctx, ev)
}

// RecordBatch persists events one by one, consuming the batch from the
// front. A storage failure partway through stops the batch but keeps
// everything already committed: the result reports the consumed prefix
// length so the caller retries exactly the tail.
func (r *Recorder) RecordBatch(ctx context.Context, events []model.AnalyticsEvent) (BatchResult, error) {
	result := BatchResult{Total: len(events)}
	for i := range events {
		if err := r.RecordEvent(ctx, &events[i]); err != nil {
			if errors.Is(err, ErrValidation) {
				// A malformed event is consumed and dropped; resending it
				// would never succeed.
				result.Recorded++
				result.Dropped++
				continue
			}
			r.log.Error().Err(err).Int("recorded", result.Recorded).Int("total", result.Total).Msg("batch insert aborted")
			return result, err
		}
		result.Recorded++
	}
	return result, nil
}

// GetStats aggregates the user's last windowDays of events. ClickRate is
// clicked over delivered, zero when nothing was delivered.
func (r *Recorder) GetStats(ctx context.Context, userID string, windowDays int) (*Stats, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	counts, err := r.store.AnalyticsCounts(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Delivered: counts[EventDelivered],
		Clicked:   counts[EventClicked],
		Dismissed: counts[EventDismissed],
	}
	for _, c := range counts {
		stats.Total += c
	}
	if stats.Delivered > 0 {
		stats.ClickRate = float64(stats.Clicked) / float64(stats.Delivered)
	}
	return stats, nil
}
