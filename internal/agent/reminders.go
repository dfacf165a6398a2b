package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"push-relay-backend/internal/model"
)

type reminder struct {
	id    string
	n     *model.Notification
	at    time.Time
	timer *time.Timer
}

// ScheduleReminder arranges a local notification at the target time. Delays
// within the platform's timer horizon get a deferred timer immediately;
// longer ones wait for a Checkpoint to arm, so a reminder beyond the horizon
// is deferred rather than silently never firing.
func (a *Agent) ScheduleReminder(ctx context.Context, n *model.Notification, at time.Time) string {
	r := &reminder{id: uuid.NewString(), n: n, at: at}

	a.mu.Lock()
	a.reminders = append(a.reminders, r)
	a.mu.Unlock()

	a.armIfWithinHorizon(ctx, r)
	return r.id
}

// CancelReminder stops a pending reminder. Unknown ids are a no-op.
func (a *Agent) CancelReminder(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, r := range a.reminders {
		if r.id == id {
			if r.timer != nil {
				r.timer.Stop()
			}
			a.reminders = append(a.reminders[:i], a.reminders[i+1:]...)
			return
		}
	}
}

// Checkpoint is the wake/foreground hook: overdue reminders fire now and
// previously out-of-horizon reminders get their timer armed if they came
// into range.
func (a *Agent) Checkpoint(ctx context.Context) {
	a.mu.Lock()
	pending := make([]*reminder, len(a.reminders))
	copy(pending, a.reminders)
	a.mu.Unlock()

	for _, r := range pending {
		if !a.now().Before(r.at) {
			a.fireReminder(ctx, r)
			continue
		}
		a.armIfWithinHorizon(ctx, r)
	}
}

func (a *Agent) armIfWithinHorizon(ctx context.Context, r *reminder) {
	delay := r.at.Sub(a.now())
	if delay < 0 {
		a.fireReminder(ctx, r)
		return
	}
	if delay > a.platform.MaxTimerDelay() {
		a.log.Debug().Str("reminder_id", r.id).Time("at", r.at).Msg("reminder beyond timer horizon; will re-arm on checkpoint")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if r.timer != nil {
		return
	}
	r.timer = time.AfterFunc(delay, func() {
		a.fireReminder(context.WithoutCancel(ctx), r)
	})
}

func (a *Agent) fireReminder(ctx context.Context, r *reminder) {
	a.mu.Lock()
	found := false
	for i, candidate := range a.reminders {
		if candidate.id == r.id {
			a.reminders = append(a.reminders[:i], a.reminders[i+1:]...)
			found = true
			break
		}
	}
	a.mu.Unlock()
	if !found {
		// Already fired or cancelled.
		return
	}

	if err := a.ShowLocalNotification(ctx, r.n); err != nil {
		a.log.Warn().Err(err).Str("reminder_id", r.id).Msg("reminder could not be rendered")
	}
}
