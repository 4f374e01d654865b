// Package metrics holds the Prometheus collectors of the settlement pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	WebhookDeliveries   *prometheus.CounterVec
	DuplicateDeliveries prometheus.Counter
	Settlements         *prometheus.CounterVec
	ReleaseDuration     prometheus.Histogram
	WebhookProvisions   *prometheus.CounterVec
	FundingConfirmed    prometheus.Counter
	StaleSettlements    prometheus.Gauge
}

// New registers the collectors on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "webhook_deliveries_total",
			Help:      "GitHub deliveries accepted, by event type",
		}, []string{"event"}),
		DuplicateDeliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "webhook_duplicate_deliveries_total",
			Help:      "Deliveries audited but not dispatched because the delivery id was seen",
		}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "settlements_total",
			Help:      "Settlement attempts, by outcome",
		}, []string{"outcome"}),
		ReleaseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bounty",
			Name:      "escrow_release_seconds",
			Help:      "Time spent in releaseOnBehalf including receipt wait",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		WebhookProvisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "webhook_provisions_total",
			Help:      "Repository hook provisioning, by result",
		}, []string{"result"}),
		FundingConfirmed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "escrow_funding_confirmed_total",
			Help:      "Bounties whose escrow deposit was confirmed",
		}),
		StaleSettlements: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bounty",
			Name:      "stale_settlements",
			Help:      "Bounties stuck in settling past the stale threshold at the last sweep",
		}),
	}
}

// Nop returns collectors bound to a private registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
