package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage lifecycle and queues.
type Metrics struct {
	CreatedTotal       *prometheus.CounterVec
	ConflictsTotal     prometheus.Counter
	CancelledTotal     prometheus.Counter
	ReclassifiedTotal  *prometheus.CounterVec
	AttendedTotal      *prometheus.CounterVec
	ProtocolMatches    *prometheus.CounterVec
	QueueDegradedTotal *prometheus.CounterVec
	QueueLength        *prometheus.GaugeVec
	AttendanceWait     *prometheus.HistogramVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
// A nil registerer yields unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_records_created_total",
			Help: "Triage records created by flow and classification source.",
		}, []string{"flow", "source"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_create_conflicts_total",
			Help: "Triage submissions rejected because the admission already had an active triage.",
		}),
		CancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_records_cancelled_total",
			Help: "Triage records cancelled.",
		}),
		ReclassifiedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_reclassifications_total",
			Help: "Clinician classification changes by target level.",
		}, []string{"level"}),
		AttendedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_records_attended_total",
			Help: "Triage records attended, by SLA status at the time of attendance.",
		}, []string{"sla_status"}),
		ProtocolMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_protocol_matches_total",
			Help: "Protocol matcher outcomes on triage submission.",
		}, []string{"protocol"}),
		QueueDegradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_queue_degraded_total",
			Help: "Queue reads served empty because an upstream lookup failed.",
		}, []string{"queue"}),
		QueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triage_queue_length",
			Help: "Items returned by the last read of each queue.",
		}, []string{"queue", "flow"}),
		AttendanceWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_attendance_wait_minutes",
			Help:    "Minutes between triage and attendance by final level.",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 90, 120, 180, 240, 360},
		}, []string{"level"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CreatedTotal,
			m.ConflictsTotal,
			m.CancelledTotal,
			m.ReclassifiedTotal,
			m.AttendedTotal,
			m.ProtocolMatches,
			m.QueueDegradedTotal,
			m.QueueLength,
			m.AttendanceWait,
		)
	}
	return m
}
