package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions          *prometheus.CounterVec
	CapacityRejections prometheus.Counter
	OverdueSwept       prometheus.Counter
	LedgerRepairs      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "booking_decisions_total",
			Help: "Total admin decisions by outcome.",
		}, []string{"outcome"}),
		CapacityRejections: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "booking_capacity_rejections_total",
			Help: "Total approvals rejected because the accommodation was at capacity.",
		}),
		OverdueSwept: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "booking_overdue_swept_total",
			Help: "Total approved bookings marked overdue by the sweeper.",
		}),
		LedgerRepairs: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "booking_ledger_repairs_total",
			Help: "Total capacity ledger rows repaired by the consistency check.",
		}),
	}
}
