package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	items         *prometheus.CounterVec
	chunks        prometheus.Counter
	statusWrites  *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_items_total",
			Help: "Work items processed, by source and terminal status.",
		}, []string{"source", "status"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_chunks_total",
			Help: "Text chunks embedded and upserted.",
		}),
		statusWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_status_write_failures_total",
			Help: "Terminal status writes that failed.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_batch_duration_seconds",
			Help:    "Wall time of one ProcessBatch call.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	reg.MustRegister(m.items, m.chunks, m.statusWrites, m.batchDuration)
	return m
}

func (m *Metrics) observeItem(o Outcome) {
	if m == nil {
		return
	}
	source := o.Source
	if source == "" {
		source = "unknown"
	}
	m.items.WithLabelValues(source, string(o.Status)).Inc()
	m.chunks.Add(float64(o.Points))
}

func (m *Metrics) observeStatusWriteFailure(s Status) {
	if m == nil {
		return
	}
	m.statusWrites.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) observeBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}
