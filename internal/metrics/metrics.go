// Package metrics exposes replication counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/rowsync/internal/ir"
)

// Recorder receives replication events. The replica calls it after every
// local write, merge, pull and notification.
type Recorder interface {
	LocalWrite(dbVersion int64)
	MergeBatch(result ir.MergeResult, err error)
	Pull(err error)
	Notification()
}

// Nop discards everything.
type Nop struct{}

func (Nop) LocalWrite(int64)                 {}
func (Nop) MergeBatch(ir.MergeResult, error) {}
func (Nop) Pull(error)                       {}
func (Nop) Notification()                    {}

// Metrics is a Recorder backed by its own Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	localWrites   prometheus.Counter
	mergeBatches  *prometheus.CounterVec
	applied       prometheus.Counter
	discarded     prometheus.Counter
	pulls         *prometheus.CounterVec
	notifications prometheus.Counter
	dbVersion     prometheus.Gauge
}

// New registers the rowsync collectors plus the Go runtime collectors on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		localWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "rowsync_local_writes_total",
			Help: "Local write and delete transactions committed",
		}),
		mergeBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rowsync_merge_batches_total",
			Help: "Merge batches by outcome",
		}, []string{"result"}),
		applied: f.NewCounter(prometheus.CounterOpts{
			Name: "rowsync_changes_applied_total",
			Help: "Remote changes that won and were adopted",
		}),
		discarded: f.NewCounter(prometheus.CounterOpts{
			Name: "rowsync_changes_discarded_total",
			Help: "Remote changes that lost or tied",
		}),
		pulls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rowsync_pulls_total",
			Help: "Pull cycles by outcome",
		}, []string{"result"}),
		notifications: f.NewCounter(prometheus.CounterOpts{
			Name: "rowsync_notifications_total",
			Help: "Change notifications received from peers",
		}),
		dbVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "rowsync_db_version",
			Help: "Local db_version head",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LocalWrite(dbVersion int64) {
	m.localWrites.Inc()
	m.dbVersion.Set(float64(dbVersion))
}

func (m *Metrics) MergeBatch(result ir.MergeResult, err error) {
	if err != nil {
		m.mergeBatches.WithLabelValues("rejected").Inc()
		return
	}
	m.mergeBatches.WithLabelValues("ok").Inc()
	m.applied.Add(float64(result.Applied))
	m.discarded.Add(float64(result.Discarded))
	if result.DBVersion > 0 {
		m.dbVersion.Set(float64(result.DBVersion))
	}
}

func (m *Metrics) Pull(err error) {
	if err != nil {
		m.pulls.WithLabelValues("error").Inc()
		return
	}
	m.pulls.WithLabelValues("ok").Inc()
}

func (m *Metrics) Notification() { m.notifications.Inc() }
