package completion

import "github.com/prometheus/client_golang/prometheus"

var (
	remoteReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pratiche",
		Subsystem: "completion",
		Name:      "remote_reads_total",
		Help:      "Remote completion-state reads, labeled by result (ok, error, offline).",
	}, []string{"result"})

	remoteWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pratiche",
		Subsystem: "completion",
		Name:      "remote_writes_total",
		Help:      "Remote completion-state writes, labeled by result (ok, error, offline).",
	}, []string{"result"})

	pendingEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pratiche",
		Subsystem: "completion",
		Name:      "pending_entries",
		Help:      "Completion changes queued locally and not yet written to the remote store.",
	})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pratiche",
		Subsystem: "completion",
		Name:      "sync_pass_duration_seconds",
		Help:      "Time spent draining the pending queue in one sync pass.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(remoteReads, remoteWrites, pendingEntries, syncDuration)
}
