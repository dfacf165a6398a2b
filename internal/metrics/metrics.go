package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for the delivery subsystem.
type Metrics struct {
	DeliveryOutcomes    *prometheus.CounterVec
	DispatchRejections  *prometheus.CounterVec
	SubscriptionsPruned prometheus.Counter
	SweepRuns           prometheus.Counter
	SweepClaimed        prometheus.Counter
	SweepDuration       prometheus.Histogram
}

// New registers the push-relay metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DeliveryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "delivery_outcomes_total",
			Help:      "Per-subscription delivery outcomes by class.",
		}, []string{"outcome"}),
		DispatchRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "dispatch_rejections_total",
			Help:      "Dispatches rejected before fan-out, by reason.",
		}, []string{"reason"}),
		SubscriptionsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "subscriptions_pruned_total",
			Help:      "Subscriptions removed after a permanent delivery failure.",
		}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "sweep_runs_total",
			Help:      "Scheduler sweep passes executed.",
		}),
		SweepClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pushrelay",
			Name:      "sweep_claimed_total",
			Help:      "Scheduled notifications claimed for delivery.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pushrelay",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one scheduler sweep pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
