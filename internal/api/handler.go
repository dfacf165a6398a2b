package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"push-relay-backend/internal/analytics"
	"push-relay-backend/internal/prefs"
	"push-relay-backend/internal/push"
	"push-relay-backend/internal/registry"
	"push-relay-backend/internal/scheduler"
	"push-relay-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	registry   *registry.Service
	prefs      *prefs.Service
	dispatcher *push.Dispatcher
	scheduler  *scheduler.Scheduler
	recorder   *analytics.Recorder
	webpush    *webpush.Options
	log        zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	s store.Store,
	reg *registry.Service,
	prefSvc *prefs.Service,
	dispatcher *push.Dispatcher,
	sched *scheduler.Scheduler,
	recorder *analytics.Recorder,
	webpushOptions *webpush.Options,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		store:      s,
		registry:   reg,
		prefs:      prefSvc,
		dispatcher: dispatcher,
		scheduler:  sched,
		recorder:   recorder,
		webpush:    webpushOptions,
		log:        log.With().Str("component", "api").Logger(),
	}
}
