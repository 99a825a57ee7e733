// Package metrics exposes Prometheus collectors for the market's hot paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReservationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "energy",
		Name:      "reservations_created_total",
		Help:      "Reservations successfully created.",
	})

	ReservationsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "energy",
		Name:      "reservations_cancelled_total",
		Help:      "Reservations cancelled by consumers (with or without refund).",
	})

	SlotsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "energy",
		Name:      "slots_settled_total",
		Help:      "Slots resolved and disabled by settlement runs.",
	})

	OversubscribedHours = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "energy",
		Name:      "oversubscribed_hours_total",
		Help:      "Settled hours where demand exceeded capacity.",
	})

	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "energy",
		Name:      "settlement_duration_seconds",
		Help:      "Wall time of ResolveDay runs.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler serves the default registry on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
