package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	mutations    *prometheus.CounterVec
	retries      prometheus.Counter
	stalePushes  prometheus.Counter
	superseded   prometheus.Counter
	degraded     prometheus.Counter
	fetches      *prometheus.CounterVec
	pending      prometheus.Gauge
	cachedEvents prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventsync",
			Name:      "mutations_total",
			Help:      "Remote mutation attempts by operation and outcome.",
		}, []string{"op", "outcome"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventsync",
			Name:      "mutation_retries_total",
			Help:      "Mutations requeued after a retryable failure.",
		}),
		stalePushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventsync",
			Name:      "stale_pushes_total",
			Help:      "Push messages dropped as stale or shadowed by a pending local change.",
		}),
		superseded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventsync",
			Name:      "superseded_fetches_total",
			Help:      "Fetch responses discarded because a newer fetch was already applied.",
		}),
		degraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventsync",
			Name:      "degraded_batches_total",
			Help:      "Fetched batches above the enrichment cap that skipped enrichment.",
		}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventsync",
			Name:      "fetches_total",
			Help:      "Remote reads by result.",
		}, []string{"result"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventsync",
			Name:      "pending_mutations",
			Help:      "Mutations queued or in flight.",
		}),
		cachedEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventsync",
			Name:      "cached_events",
			Help:      "Events in the local cache snapshot.",
		}),
	}
}
