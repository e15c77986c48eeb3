package metric

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics counts what the sync engine does. A nil *SyncMetrics is valid
// and records nothing.
type SyncMetrics struct {
	Syncs        prometheus.Counter
	SyncsSkipped prometheus.Counter
	SyncsFailed  prometheus.Counter
	Pushed       prometheus.Counter
	PushFailed   prometheus.Counter
	Fetched      *prometheus.CounterVec
	Dropped      prometheus.Counter
	Malformed    prometheus.Counter
}

// NewSyncMetrics registers the sync collectors in reg. Dots in namespace are
// converted to underscores.
func NewSyncMetrics(reg prometheus.Registerer, namespace string) *SyncMetrics {
	namespace = strings.ReplaceAll(namespace, ".", "_")
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      name,
			Help:      help,
		})
	}
	m := &SyncMetrics{
		Syncs:        counter("full_syncs_total", "full syncs started"),
		SyncsSkipped: counter("full_syncs_skipped_total", "full syncs skipped because one was in flight"),
		SyncsFailed:  counter("full_syncs_failed_total", "full syncs finished with an error"),
		Pushed:       counter("records_pushed_total", "records saved to the remote store"),
		PushFailed:   counter("records_push_failed_total", "records the remote store failed to save"),
		Fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_fetched_total",
			Help:      "new records applied locally",
		}, []string{"type"}),
		Dropped:   counter("comments_dropped_total", "fetched comments whose post is unknown locally"),
		Malformed: counter("records_malformed_total", "fetched records missing required fields"),
	}
	reg.MustRegister(m.Syncs, m.SyncsSkipped, m.SyncsFailed, m.Pushed, m.PushFailed, m.Fetched, m.Dropped, m.Malformed)
	return m
}

func (m *SyncMetrics) SyncStarted() {
	if m != nil {
		m.Syncs.Inc()
	}
}

func (m *SyncMetrics) SyncSkipped() {
	if m != nil {
		m.SyncsSkipped.Inc()
	}
}

func (m *SyncMetrics) SyncFailed() {
	if m != nil {
		m.SyncsFailed.Inc()
	}
}

func (m *SyncMetrics) RecordPushed(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PushFailed.Inc()
		return
	}
	m.Pushed.Inc()
}

func (m *SyncMetrics) RecordFetched(recordType string) {
	if m != nil {
		m.Fetched.WithLabelValues(recordType).Inc()
	}
}

func (m *SyncMetrics) CommentDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *SyncMetrics) RecordMalformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}
