package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline holds the Prometheus metrics for every saga stage.
// A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	AppointmentsCreated   *prometheus.CounterVec
	Conflicts             prometheus.Counter
	ConflictCheckFailOpen prometheus.Counter

	// Stage outcomes: stage = intake|processor_pe|processor_cl|reconciler, outcome = ok|error|permanent
	StageOutcome  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	DeadLettered  *prometheus.CounterVec
	Notifications *prometheus.CounterVec
}

// New creates and registers all pipeline metrics on the default registry.
func New() *Pipeline {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		AppointmentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_appointments_created_total",
			Help: "Appointments persisted as PENDING by intake, by country",
		}, []string{"country"}),

		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "saga_intake_conflicts_total",
			Help: "Create requests rejected because the schedule slot is already booked",
		}),

		ConflictCheckFailOpen: factory.NewCounter(prometheus.CounterOpts{
			Name: "saga_intake_conflict_check_fail_open_total",
			Help: "Conflict checks that failed and were treated as no conflict",
		}),

		StageOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_stage_messages_total",
			Help: "Messages handled per stage and outcome",
		}, []string{"stage", "outcome"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_stage_duration_seconds",
			Help:    "Duration of a single message handling per stage",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),

		DeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_dead_lettered_total",
			Help: "Messages moved to a dead-letter queue, by source queue",
		}, []string{"queue"}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_error_notifications_total",
			Help: "Out-of-band error notifications by result",
		}, []string{"result"}),
	}
}

func (m *Pipeline) IncCreated(country string) {
	if m != nil {
		m.AppointmentsCreated.WithLabelValues(country).Inc()
	}
}

func (m *Pipeline) IncConflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

func (m *Pipeline) IncConflictCheckFailOpen() {
	if m != nil {
		m.ConflictCheckFailOpen.Inc()
	}
}

// ObserveStage records one handled message.
func (m *Pipeline) ObserveStage(stage, outcome string, d time.Duration) {
	if m != nil {
		m.StageOutcome.WithLabelValues(stage, outcome).Inc()
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// AddDeadLettered matches queue.Policy.OnDeadLetter.
func (m *Pipeline) AddDeadLettered(queue string, n int) {
	if m != nil && n > 0 {
		m.DeadLettered.WithLabelValues(queue).Add(float64(n))
	}
}

func (m *Pipeline) IncNotification(result string) {
	if m != nil {
		m.Notifications.WithLabelValues(result).Inc()
	}
}
