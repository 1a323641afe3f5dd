package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rzbill/keywatch/internal/expiry"
	pebblestore "github.com/rzbill/keywatch/internal/storage/pebble"
)

// Metrics is the set of keywatch metrics.
type Metrics struct {
	Watches              prometheus.Counter
	IndexInserts         prometheus.Counter
	Removals             *prometheus.CounterVec
	CleanupErrors        *prometheus.CounterVec
	LiveEvents           prometheus.Counter
	MalformedEvents      prometheus.Counter
	FilteredEvents       prometheus.Counter
	Passes               prometheus.Counter
	PassCandidates       prometheus.Counter
	PassRemoved          prometheus.Counter
	PassStillPresent     prometheus.Counter
	PassFailed           prometheus.Counter
	LastPassSeconds      prometheus.Gauge
	NotificationsDropped *prometheus.CounterVec

	StorageReads      prometheus.Counter
	StorageReadBytes  prometheus.Counter
	StorageWriteBytes prometheus.Counter
	StorageBatchOps   prometheus.Counter
	StorageCommits    prometheus.Histogram
}

var (
	_ expiry.Recorder         = (*Metrics)(nil)
	_ pebblestore.MetricsHook = (*Metrics)(nil)
)

// New registers the keywatch metrics with reg. It panics if any of them is
// already registered there.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	return &Metrics{
		Watches:      counter("keywatch_watch_total", "Watch requests accepted."),
		IndexInserts: counter("keywatch_index_inserts_total", "Deadlines written to the delayed index."),
		Removals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keywatch_removals_total",
			Help: "Index entries removed, by path.",
		}, []string{"source"}),
		CleanupErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keywatch_cleanup_errors_total",
			Help: "Failed existence checks or removals, by path.",
		}, []string{"source"}),
		LiveEvents:       counter("keywatch_live_events_total", "Expiration notifications received."),
		MalformedEvents:  counter("keywatch_live_malformed_total", "Expiration notifications discarded as malformed."),
		FilteredEvents:   counter("keywatch_live_filtered_total", "Expiration notifications rejected by the key filter."),
		Passes:           counter("keywatch_compensation_passes_total", "Compensation passes run."),
		PassCandidates:   counter("keywatch_compensation_candidates_total", "Entries past their deadline examined by compensation passes."),
		PassRemoved:      counter("keywatch_compensation_removed_total", "Entries removed by compensation passes."),
		PassStillPresent: counter("keywatch_compensation_still_present_total", "Entries past their deadline whose key still existed."),
		PassFailed:       counter("keywatch_compensation_failed_total", "Entries whose check failed during a compensation pass."),
		LastPassSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "keywatch_compensation_last_pass_seconds",
			Help: "Duration of the latest compensation pass.",
		}),
		NotificationsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keywatch_store_notifications_dropped_total",
			Help: "Notifications the store dropped for a slow subscriber.",
		}, []string{"channel"}),

		StorageReads:      counter("keywatch_storage_reads_total", "Point reads served by the storage engine."),
		StorageReadBytes:  counter("keywatch_storage_read_bytes_total", "Bytes returned by point reads."),
		StorageWriteBytes: counter("keywatch_storage_write_bytes_total", "Bytes written by committed batches."),
		StorageBatchOps:   counter("keywatch_storage_batch_ops_total", "Operations in committed batches."),
		StorageCommits: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "keywatch_storage_commit_duration_seconds",
			Help:    "Time spent committing storage batches.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
}

// EventClients registers a gauge that reads the connected websocket client
// count from fn at scrape time.
func EventClients(reg prometheus.Registerer, fn func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "keywatch_event_clients",
		Help: "Connected removal event clients.",
	}, func() float64 { return float64(fn()) })
}

func (m *Metrics) WatchRegistered(indexed bool) {
	m.Watches.Inc()
	if indexed {
		m.IndexInserts.Inc()
	}
}

func (m *Metrics) Removal(source expiry.Source) { m.Removals.WithLabelValues(string(source)).Inc() }

func (m *Metrics) CleanupError(source expiry.Source) {
	m.CleanupErrors.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) LiveEvent() { m.LiveEvents.Inc() }

func (m *Metrics) LiveMalformed() { m.MalformedEvents.Inc() }

func (m *Metrics) LiveFiltered() { m.FilteredEvents.Inc() }

func (m *Metrics) PassCompleted(r expiry.PassResult) {
	m.Passes.Inc()
	m.PassCandidates.Add(float64(r.Candidates))
	m.PassRemoved.Add(float64(r.Removed))
	m.PassStillPresent.Add(float64(r.StillPresent))
	m.PassFailed.Add(float64(r.Failed))
	m.LastPassSeconds.Set(r.Duration.Seconds())
}

// NotificationDropped matches the pebblekv OnDrop hook.
func (m *Metrics) NotificationDropped(channel string) {
	m.NotificationsDropped.WithLabelValues(channel).Inc()
}

func (m *Metrics) ObserveRead(_ time.Duration, bytes int) {
	m.StorageReads.Inc()
	m.StorageReadBytes.Add(float64(bytes))
}

func (m *Metrics) ObserveCommit(elapsed time.Duration, ops int, bytes int) {
	m.StorageBatchOps.Add(float64(ops))
	m.StorageWriteBytes.Add(float64(bytes))
	m.StorageCommits.Observe(elapsed.Seconds())
}
