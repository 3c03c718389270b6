package state

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlocksProcessed *prometheus.CounterVec
	prometheusBlocksRejected  *prometheus.CounterVec
	prometheusProcessBlock    prometheus.Histogram
	prometheusReorgs          prometheus.Counter
	prometheusReorgDepth      prometheus.Histogram
	prometheusTipHeight       prometheus.Gauge
	prometheusStorageFaults   prometheus.Counter

	// mempool
	prometheusTxRejected     *prometheus.CounterVec
	prometheusMempoolCount   prometheus.Gauge
	prometheusMempoolBytes   prometheus.Gauge
	prometheusMempoolEvicted prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

// initPrometheusMetrics registers the collectors once per process, however
// many states are constructed.
func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btpc",
			Subsystem: "state",
			Name:      "blocks_processed",
			Help:      "Number of blocks accepted, by outcome",
		},
		[]string{"outcome"},
	)

	prometheusBlocksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btpc",
			Subsystem: "state",
			Name:      "blocks_rejected",
			Help:      "Number of blocks rejected, by error kind",
		},
		[]string{"kind"},
	)

	prometheusProcessBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "btpc",
			Subsystem: "state",
			Name:      "process_block_seconds",
			Help:      "Time taken to process a block",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	prometheusReorgs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "btpc",
			Subsystem: "state",
			Name:      "reorgs",
			Help:      "Number of chain reorganizations",
		},
	)

	prometheusReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "btpc",
			Subsystem: "state",
			Name:      "reorg_depth",
			Help:      "Blocks disconnected by a reorganization",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 100},
		},
	)

	prometheusTipHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "btpc",
			Subsystem: "state",
			Name:      "tip_height",
			Help:      "Height of the active tip",
		},
	)

	prometheusStorageFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "btpc",
			Subsystem: "state",
			Name:      "storage_faults",
			Help:      "Number of storage failures that made the node unhealthy",
		},
	)

	prometheusTxRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btpc",
			Subsystem: "mempool",
			Name:      "tx_rejected",
			Help:      "Number of transactions refused admission, by error kind",
		},
		[]string{"kind"},
	)

	prometheusMempoolCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "btpc",
			Subsystem: "mempool",
			Name:      "transactions",
			Help:      "Number of transactions held",
		},
	)

	prometheusMempoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "btpc",
			Subsystem: "mempool",
			Name:      "bytes",
			Help:      "Encoded bytes held",
		},
	)

	prometheusMempoolEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "btpc",
			Subsystem: "mempool",
			Name:      "evicted",
			Help:      "Number of transactions evicted to make room",
		},
	)
}

// reportMempool publishes the mempool totals.
func (s *State) reportMempool() {
	prometheusMempoolCount.Set(float64(s.mempool.Count()))
	prometheusMempoolBytes.Set(float64(s.mempool.Bytes()))
}
