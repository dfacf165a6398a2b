package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Outbound action kinds.
const (
	ActionSubscribe       = "subscribe"
	ActionUnsubscribe     = "unsubscribe"
	ActionSavePreferences = "save_preferences"
)

// Per-item states. pending -> in_flight on pickup; in_flight -> acknowledged
// (row removed) on server ack; in_flight -> pending on a failed attempt;
// pending -> abandoned once attempts run out.
const (
	stateParked       = "pending"
	stateInFlight     = "in_flight"
	stateAcknowledged = "acknowledged"
	stateAbandoned    = "abandoned"
)

const maxAttempts = 10

// inFlightRequeueAfter bounds how long an item can sit in_flight inside a
// running process. A locally failed ack strands its item there with no flush
// owning it; aging it back to pending lets the next flush retry. Server
// actions are idempotent, so re-performing one yields one accepted effect.
const inFlightRequeueAfter = 5 * time.Minute

// queuedAction is one outbound action composed while offline.
type queuedAction struct {
	ID        string `gorm:"primaryKey"`
	Kind      string `gorm:"not null"`
	Payload   string
	State     string `gorm:"index;not null"`
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// queuedEvent is one analytics event awaiting a batched flush.
type queuedEvent struct {
	ID        string `gorm:"primaryKey"`
	Payload   string `gorm:"not null"`
	State     string `gorm:"index;not null"`
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type subscribePayload struct {
	Subscription PushSubscription `json:"subscription"`
	UserAgent    string           `json:"userAgent"`
	Platform     string           `json:"platform"`
}

// EventPayload is one analytics event as sent on the wire.
type EventPayload struct {
	Name      string         `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
}

// Queue is the agent's durable local store, one sqlite file per device
// profile. Items survive restarts; in-flight items left over from a crash
// are re-parked on open.
type Queue struct {
	db *gorm.DB
}

// OpenQueue opens (and migrates) the local queue database at path. Use
// "file::memory:?cache=shared" in tests.
func OpenQueue(path string) (*Queue, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	if err := db.AutoMigrate(&queuedAction{}, &queuedEvent{}); err != nil {
		return nil, fmt.Errorf("migrate queue db: %w", err)
	}

	// A crash mid-flush leaves items in_flight with no ack coming; park
	// them again so the next flush retries.
	for _, m := range []any{&queuedAction{}, &queuedEvent{}} {
		if err := db.Model(m).Where("state = ?", stateInFlight).Update("state", stateParked).Error; err != nil {
			return nil, fmt.Errorf("re-park in-flight items: %w", err)
		}
	}
	return &Queue{db: db}, nil
}

// requeueStale parks in-flight items nothing has touched within the requeue
// window.
func requeueStale(tx *gorm.DB, model any) error {
	cutoff := time.Now().Add(-inFlightRequeueAfter)
	return tx.Model(model).
		Where("state = ? AND updated_at < ?", stateInFlight, cutoff).
		Update("state", stateParked).Error
}

// EnqueueAction stores an outbound action for the next flush.
func (q *Queue) EnqueueAction(kind string, payload any) error {
	raw := ""
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode action payload: %w", err)
		}
		raw = string(encoded)
	}
	return q.db.Create(&queuedAction{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: raw,
		State:   stateParked,
	}).Error
}

// nextAction picks the oldest pending action and marks it in-flight.
func (q *Queue) nextAction() (*queuedAction, error) {
	var action queuedAction
	err := q.db.Transaction(func(tx *gorm.DB) error {
		if err := requeueStale(tx, &queuedAction{}); err != nil {
			return err
		}
		err := tx.Where("state = ?", stateParked).Order("created_at").First(&action).Error
		if err != nil {
			return err
		}
		action.State = stateInFlight
		return tx.Model(&action).Update("state", stateInFlight).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &action, nil
}

// ackAction removes an acknowledged action. Removal only happens after an
// explicit server acknowledgement.
func (q *Queue) ackAction(id string) error {
	return q.db.Delete(&queuedAction{}, "id = ?", id).Error
}

// nackAction re-parks a failed action, abandoning it once attempts run out.
func (q *Queue) nackAction(a *queuedAction) error {
	a.Attempts++
	state := stateParked
	if a.Attempts >= maxAttempts {
		state = stateAbandoned
	}
	return q.db.Model(a).Updates(map[string]any{"state": state, "attempts": a.Attempts}).Error
}

// PendingActions counts actions still awaiting acknowledgement.
func (q *Queue) PendingActions() (int64, error) {
	var n int64
	err := q.db.Model(&queuedAction{}).Where("state IN ?", []string{stateParked, stateInFlight}).Count(&n).Error
	return n, err
}

// EnqueueEvent stores one analytics event for the next batched flush.
func (q *Queue) EnqueueEvent(ev EventPayload) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	return q.db.Create(&queuedEvent{
		ID:      uuid.NewString(),
		Payload: string(raw),
		State:   stateParked,
	}).Error
}

// nextEvents picks up to limit pending events, oldest first, and marks them
// in-flight.
func (q *Queue) nextEvents(limit int) ([]queuedEvent, error) {
	var events []queuedEvent
	err := q.db.Transaction(func(tx *gorm.DB) error {
		if err := requeueStale(tx, &queuedEvent{}); err != nil {
			return err
		}
		if err := tx.Where("state = ?", stateParked).Order("created_at").Limit(limit).Find(&events).Error; err != nil {
			return err
		}
		for i := range events {
			events[i].State = stateInFlight
			if err := tx.Model(&events[i]).Update("state", stateInFlight).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (q *Queue) ackEvents(events []queuedEvent) error {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return q.db.Delete(&queuedEvent{}, "id IN ?", ids).Error
}

func (q *Queue) nackEvents(events []queuedEvent) error {
	for i := range events {
		events[i].Attempts++
		state := stateParked
		if events[i].Attempts >= maxAttempts {
			state = stateAbandoned
		}
		err := q.db.Model(&events[i]).Updates(map[string]any{"state": state, "attempts": events[i].Attempts}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// PendingEvents counts analytics events awaiting flush.
func (q *Queue) PendingEvents() (int64, error) {
	var n int64
	err := q.db.Model(&queuedEvent{}).Where("state IN ?", []string{stateParked, stateInFlight}).Count(&n).Error
	return n, err
}
