package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	joins           *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsEnded   prometheus.Counter
	connections     prometheus.Gauge
	flushes         *prometheus.CounterVec
	flushedRows     prometheus.Counter
	tasks           *prometheus.CounterVec
	slotsExhausted  prometheus.Counter
	rejectedEvents  *prometheus.CounterVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates the collector and registers its metrics with reg
// (prometheus.DefaultRegisterer when nil). namespace defaults to "classroomhub".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "classroomhub"
	}

	p := &PrometheusCollector{
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "joins_total",
			Help:      "Join requests by outcome (created, joined, rejoined, rejected).",
		}, []string{"outcome"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Sessions created.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "ended_total",
			Help:      "Sessions ended by the lifecycle scheduler.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_current",
			Help:      "Currently registered real-time connections.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scores",
			Name:      "flushes_total",
			Help:      "Score flushes by result (ok, failed).",
		}, []string{"result"}),
		flushedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scores",
			Name:      "flushed_rows_total",
			Help:      "Score rows persisted by successful flushes.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "task_runs_total",
			Help:      "Lifecycle task executions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		slotsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "slots_exhausted_total",
			Help:      "Bookings whose open slots reached zero.",
		}),
		rejectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "rejected_events_total",
			Help:      "Inbound events rejected by reason.",
		}, []string{"reason"}),
	}

	collectors := []prometheus.Collector{
		p.joins, p.sessionsCreated, p.sessionsEnded, p.connections,
		p.flushes, p.flushedRows, p.tasks, p.slotsExhausted, p.rejectedEvents,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return p, nil
}

func (p *PrometheusCollector) JoinCompleted(outcome string) {
	p.joins.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) SessionCreated() { p.sessionsCreated.Inc() }
func (p *PrometheusCollector) SessionEnded()   { p.sessionsEnded.Inc() }

func (p *PrometheusCollector) ConnectionOpened() { p.connections.Inc() }
func (p *PrometheusCollector) ConnectionClosed() { p.connections.Dec() }

func (p *PrometheusCollector) ScoreFlush(ok bool, rows int) {
	if !ok {
		p.flushes.WithLabelValues("failed").Inc()
		return
	}
	p.flushes.WithLabelValues("ok").Inc()
	p.flushedRows.Add(float64(rows))
}

func (p *PrometheusCollector) TaskRun(kind, outcome string) {
	p.tasks.WithLabelValues(kind, outcome).Inc()
}

func (p *PrometheusCollector) BookingSlotsExhausted() { p.slotsExhausted.Inc() }

func (p *PrometheusCollector) EventRejected(reason string) {
	p.rejectedEvents.WithLabelValues(reason).Inc()
}
