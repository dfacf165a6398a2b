package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"push-relay-backend/internal/prefs"
)

const analyticsBatchSize = 50

// FlushOutbound drains the action queue one item at a time. An item is
// removed only after the server acknowledged it; a lost acknowledgement
// leaves it queued for retry rather than duplicating it. Stops at the first
// failure so ordering is preserved.
func (a *Agent) FlushOutbound(ctx context.Context) error {
	for {
		action, err := a.queue.nextAction()
		if err != nil {
			return err
		}
		if action == nil {
			return nil
		}

		if err := a.perform(ctx, action.Kind, action.Payload); err != nil {
			if nackErr := a.queue.nackAction(action); nackErr != nil {
				a.log.Error().Err(nackErr).Str("action_id", action.ID).Msg("failed to re-park action")
			}
			return fmt.Errorf("action %s: %w", action.Kind, err)
		}
		if err := a.queue.ackAction(action.ID); err != nil {
			return err
		}
		a.log.Debug().Str("kind", action.Kind).Msg("outbound action acknowledged")
	}
}

// FlushAnalytics sends pending events in batches. The server reports how
// many it recorded; only those are removed, the tail is re-queued.
func (a *Agent) FlushAnalytics(ctx context.Context) error {
	for {
		queued, err := a.queue.nextEvents(analyticsBatchSize)
		if err != nil {
			return err
		}
		if len(queued) == 0 {
			return nil
		}

		events := make([]EventPayload, len(queued))
		for i, item := range queued {
			if err := json.Unmarshal([]byte(item.Payload), &events[i]); err != nil {
				a.log.Warn().Err(err).Str("event_id", item.ID).Msg("dropping undecodable queued event")
				events[i] = EventPayload{}
			}
		}

		recorded, _, err := a.server.RecordBatch(ctx, events)
		if recorded > len(queued) {
			recorded = len(queued)
		}
		if recorded > 0 {
			if ackErr := a.queue.ackEvents(queued[:recorded]); ackErr != nil {
				return ackErr
			}
		}
		if err != nil || recorded < len(queued) {
			if nackErr := a.queue.nackEvents(queued[recorded:]); nackErr != nil {
				return nackErr
			}
			if err != nil {
				return fmt.Errorf("analytics flush: %w", err)
			}
			return nil
		}
	}
}

// perform executes one queued action against the server.
func (a *Agent) perform(ctx context.Context, kind, payload string) error {
	switch kind {
	case ActionSubscribe:
		var p subscribePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return err
		}
		return a.server.Subscribe(ctx, p.Subscription, p.UserAgent, p.Platform)
	case ActionUnsubscribe:
		return a.server.Unsubscribe(ctx)
	case ActionSavePreferences:
		var patch prefs.Patch
		if err := json.Unmarshal([]byte(payload), &patch); err != nil {
			return err
		}
		merged, err := a.server.SavePreferences(ctx, patch)
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.pref = merged
		a.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", kind)
	}
}
