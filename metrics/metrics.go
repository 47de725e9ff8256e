package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BundlerMetrics are the instrumented counters and gauges the bundler updates
// as UserOperations flow through the mempool, validation and bundling pipeline.
type BundlerMetrics interface {
	IncUserOpsReceived()
	IncUserOpsRejected(reason string)
	SetMempoolSize(n int)
	IncBundlesSent()
	IncBundlesFailed(reason string)
	IncReputationTransition(from, to string)
	ObserveBundleOpCount(n int)
	ObserveBundleCycleSeconds(d time.Duration)
}

const namespace = "aa_bundler"

type PrometheusMetrics struct {
	userOpsReceived      prometheus.Counter
	userOpsRejected      *prometheus.CounterVec
	mempoolSize          prometheus.Gauge
	bundlesSent          prometheus.Counter
	bundlesFailed        *prometheus.CounterVec
	reputationTransition *prometheus.CounterVec
	bundleOpCount        prometheus.Histogram
	bundleCycleSeconds   prometheus.Histogram
}

func New(reg prometheus.Registerer) *PrometheusMetrics {
	return &PrometheusMetrics{
		userOpsReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "userops_received_total",
			Help:      "UserOperations accepted by eth_sendUserOperation before validation.",
		}),
		userOpsRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "userops_rejected_total",
			Help:      "UserOperations rejected, labeled by rejection reason.",
		}, []string{"reason"}),
		mempoolSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mempool_size",
			Help:      "Number of UserOperations currently held in the mempool.",
		}),
		bundlesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_sent_total",
			Help:      "handleOps transactions submitted to the node.",
		}),
		bundlesFailed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_failed_total",
			Help:      "handleOps submissions that failed, labeled by failure reason.",
		}, []string{"reason"}),
		reputationTransition: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_transitions_total",
			Help:      "Entity reputation status transitions.",
		}, []string{"from", "to"}),
		bundleOpCount: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_op_count",
			Help:      "Number of UserOperations packed per bundle.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		bundleCycleSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_cycle_seconds",
			Help:      "Wall-clock time spent building and sending one bundle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *PrometheusMetrics) IncUserOpsReceived() { m.userOpsReceived.Inc() }

func (m *PrometheusMetrics) IncUserOpsRejected(reason string) {
	m.userOpsRejected.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) SetMempoolSize(n int) { m.mempoolSize.Set(float64(n)) }

func (m *PrometheusMetrics) IncBundlesSent() { m.bundlesSent.Inc() }

func (m *PrometheusMetrics) IncBundlesFailed(reason string) {
	m.bundlesFailed.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) IncReputationTransition(from, to string) {
	m.reputationTransition.WithLabelValues(from, to).Inc()
}

func (m *PrometheusMetrics) ObserveBundleOpCount(n int) {
	m.bundleOpCount.Observe(float64(n))
}

func (m *PrometheusMetrics) ObserveBundleCycleSeconds(d time.Duration) {
	m.bundleCycleSeconds.Observe(d.Seconds())
}
