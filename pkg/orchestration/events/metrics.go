package events

import (
	"context"

	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fedids"

type metricsEmitter struct {
	clients      *prometheus.CounterVec
	rounds       *prometheus.CounterVec
	duration     prometheus.Histogram
	updates      prometheus.Counter
	failures     *prometheus.CounterVec
	participants prometheus.Gauge
	global       *prometheus.GaugeVec
	runs         *prometheus.CounterVec
}

// NewMetricsEmitter exports round and client events as Prometheus metrics
// registered with reg.
func NewMetricsEmitter(reg prometheus.Registerer) orchestration.EventEmitter {
	factory := promauto.With(reg)

	return &metricsEmitter{
		clients: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_events_total",
				Help:      "Total number of client registrations and disconnects",
			},
			[]string{"event"},
		),
		rounds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "round_total",
				Help:      "Total number of finished training rounds",
			},
			[]string{"status"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "round_duration_seconds",
				Help:      "Training round duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
			},
		),
		updates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_collected_total",
				Help:      "Total number of client updates aggregated",
			},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_failures_total",
				Help:      "Total number of client failures in rounds",
			},
			[]string{"reason"},
		),
		participants: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "round_participants",
				Help:      "Number of clients selected for the current round",
			},
		),
		global: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "global_metric",
				Help:      "Weighted global metrics of the last completed round",
			},
			[]string{"metric"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_total",
				Help:      "Total number of finished runs",
			},
			[]string{"phase"},
		),
	}
}

func (m *metricsEmitter) EmitClientRegistered(context.Context, orchestration.Client) error {
	m.clients.WithLabelValues("registered").Inc()

	return nil
}

func (m *metricsEmitter) EmitClientDisconnected(context.Context, string) error {
	m.clients.WithLabelValues("disconnected").Inc()

	return nil
}

func (m *metricsEmitter) EmitRoundStarted(_ context.Context, _ string, _ uint64, participants []string) error {
	m.participants.Set(float64(len(participants)))

	return nil
}

func (m *metricsEmitter) EmitRoundFinished(_ context.Context, report orchestration.RoundReport) error {
	m.rounds.WithLabelValues(string(report.Status)).Inc()
	if !report.StartedAt.IsZero() && report.FinishedAt.After(report.StartedAt) {
		m.duration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}
	for _, f := range report.Failures {
		m.failures.WithLabelValues(string(f.Reason)).Inc()
	}
	if report.Status != orchestration.RoundCompleted {
		return nil
	}

	m.updates.Add(float64(len(report.Clients)))
	for name, v := range report.GlobalMetrics {
		m.global.WithLabelValues(name).Set(v)
	}

	return nil
}

func (m *metricsEmitter) EmitRunFinished(_ context.Context, result orchestration.RunResult) error {
	m.runs.WithLabelValues(result.Phase.String()).Inc()
	m.participants.Set(0)

	return nil
}
