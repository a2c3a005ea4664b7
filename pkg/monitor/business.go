package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	PaymentSubmittedTotal     *prometheus.CounterVec
	PaymentCompletedTotal     *prometheus.CounterVec
	PaymentAmountTotal        *prometheus.CounterVec
	QueueDepth                prometheus.Gauge
	BatchDuration             *prometheus.HistogramVec
	FeeCollectedTotal         *prometheus.CounterVec
	DistributionBatchTotal    *prometheus.CounterVec
	DistributionRetryTotal    prometheus.Counter
	PendingDistributions      prometheus.Gauge
	StakingPoolTotal          prometheus.Gauge
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		PaymentSubmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_submitted_total",
			Help: "The total number of submitted payment requests",
		}, []string{"token", "priority"}),
		PaymentCompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_completed_total",
			Help: "The total number of finished payments by terminal status",
		}, []string{"token", "status"}),
		PaymentAmountTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_amount_total",
			Help: "The total payment volume in the token's smallest unit",
		}, []string{"token"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "payment_queue_depth",
			Help: "Current number of requests waiting in the priority queue",
		}),
		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_batch_duration_seconds",
			Help:    "Duration of payment batch executions",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		FeeCollectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_collected_total",
			Help: "The total collected fees in the token's smallest unit",
		}, []string{"token"}),
		DistributionBatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "distribution_batch_total",
			Help: "The total number of processed distribution batches",
		}, []string{"token", "type", "status"}),
		DistributionRetryTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "distribution_retry_total",
			Help: "The total number of distribution batch retries",
		}),
		PendingDistributions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "distribution_pending",
			Help: "Number of fee distributions still waiting to be batched",
		}),
		StakingPoolTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "staking_pool_total_staked",
			Help: "Total staked amount in the staking pool",
		}),
	}
}
