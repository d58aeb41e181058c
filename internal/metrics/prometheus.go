package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink on a caller-owned registry.
type PrometheusSink struct {
	ticksTotal        prometheus.Counter
	tickErrorsTotal   prometheus.Counter
	ticksSkippedTotal prometheus.Counter
	usersSkippedTotal prometheus.Counter
	firedTotal        prometheus.Counter
	tickSeconds       prometheus.Histogram

	notifyOutcomes *prometheus.CounterVec
	queueDepth     prometheus.Gauge
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donnabot_sweep_ticks_total",
			Help: "Completed sweep ticks.",
		}),
		tickErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donnabot_sweep_tick_errors_total",
			Help: "Ticks that ended early because the store was unavailable.",
		}),
		ticksSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donnabot_sweep_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running.",
		}),
		usersSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donnabot_sweep_users_skipped_total",
			Help: "Users skipped within a tick due to read failures.",
		}),
		firedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donnabot_reminders_fired_total",
			Help: "Reminders matched and handed to the notifier.",
		}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "donnabot_sweep_tick_seconds",
			Help:    "Sweep tick wall time.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		notifyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donnabot_notify_outcomes_total",
			Help: "Notification delivery outcomes.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "donnabot_notify_queue_depth",
			Help: "Notifications currently queued.",
		}),
	}

	reg.MustRegister(
		s.ticksTotal, s.tickErrorsTotal, s.ticksSkippedTotal,
		s.usersSkippedTotal, s.firedTotal, s.tickSeconds,
		s.notifyOutcomes, s.queueDepth,
	)
	return s
}

func (s *PrometheusSink) TickStarted() {}

func (s *PrometheusSink) TickCompleted(d time.Duration, users, fired int, err error) {
	s.ticksTotal.Inc()
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
	s.firedTotal.Add(float64(fired))
	s.tickSeconds.Observe(d.Seconds())
}

func (s *PrometheusSink) TickSkipped() { s.ticksSkippedTotal.Inc() }
func (s *PrometheusSink) UserSkipped() { s.usersSkippedTotal.Inc() }

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.notifyOutcomes.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) QueueDepth(n int) { s.queueDepth.Set(float64(n)) }
