package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the kernel and its API surface.
type Metrics struct {
	// IPC metrics
	MessagesTotal      *prometheus.CounterVec
	RepliesTotal       *prometheus.CounterVec
	CopyBytesTotal     prometheus.Counter
	BorrowOpsTotal     *prometheus.CounterVec
	NotificationsTotal prometheus.Counter

	// Fault metrics
	FaultsTotal *prometheus.CounterVec

	// Task metrics
	TasksActive  prometheus.Gauge
	TasksSpawned prometheus.Counter

	// HTTP metrics (inspection API)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// New creates a metrics collector registered against reg. Tests pass a
// private registry so collectors never collide across instances.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_ipc_messages_total",
				Help: "Total messages delivered, by receiving task",
			},
			[]string{"to"},
		),
		RepliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_ipc_replies_total",
				Help: "Total replies delivered, by outcome",
			},
			[]string{"outcome"},
		),
		CopyBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ember_ipc_copy_bytes_total",
				Help: "Total bytes moved by the cross-task copy engine",
			},
		),
		BorrowOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_ipc_borrow_ops_total",
				Help: "Total lease accesses, by kind and result",
			},
			[]string{"kind", "result"},
		),
		NotificationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ember_ipc_notifications_total",
				Help: "Total notifications posted",
			},
		),

		FaultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_faults_total",
				Help: "Total task faults, by kind",
			},
			[]string{"kind"},
		),

		TasksActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ember_tasks_active",
				Help: "Number of live tasks",
			},
		),
		TasksSpawned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ember_tasks_spawned_total",
				Help: "Total tasks spawned since boot",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_http_requests_total",
				Help: "Total inspection API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ember_http_request_duration_seconds",
				Help:    "Inspection API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ember_uptime_seconds",
				Help: "Seconds since the kernel booted",
			},
		),
	}
}

// NewDefault creates a metrics collector on the default registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
