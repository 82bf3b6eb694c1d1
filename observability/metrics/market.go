package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics counts settlement activity as observed at the RPC surface.
type MarketMetrics struct {
	requests      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	settledVolume *prometheus.CounterVec
	feesAccrued   *prometheus.CounterVec
	disputesOpen  prometheus.Gauge
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide settlement metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_rpc_requests_total",
				Help: "Count of settlement RPC requests by method.",
			}, []string{"method"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_rpc_failures_total",
				Help: "Count of failed settlement RPC requests by method.",
			}, []string{"method"}),
			settledVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_settled_volume_total",
				Help: "Gross settled volume by transaction kind, in currency base units.",
			}, []string{"kind"}),
			feesAccrued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_fees_accrued_total",
				Help: "Platform fees accrued by currency, in base units.",
			}, []string{"currency"}),
			disputesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_disputes_open",
				Help: "Number of disputes currently awaiting resolution.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.requests,
			marketRegistry.failures,
			marketRegistry.settledVolume,
			marketRegistry.feesAccrued,
			marketRegistry.disputesOpen,
		)
	})
	return marketRegistry
}

// ObserveRequest records one RPC request and, when failed is set, one failure.
func (m *MarketMetrics) ObserveRequest(method string, failed bool) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method).Inc()
	if failed {
		m.failures.WithLabelValues(method).Inc()
	}
}

// ObserveSettlement records gross settled volume for a transaction kind.
func (m *MarketMetrics) ObserveSettlement(kind string, volume float64) {
	if m == nil {
		return
	}
	m.settledVolume.WithLabelValues(kind).Add(volume)
}

// ObserveFee records accrued platform fees for a currency.
func (m *MarketMetrics) ObserveFee(currency string, fee float64) {
	if m == nil {
		return
	}
	m.feesAccrued.WithLabelValues(currency).Add(fee)
}

// DisputeOpened and DisputeClosed track the open-dispute gauge.
func (m *MarketMetrics) DisputeOpened() {
	if m != nil {
		m.disputesOpen.Inc()
	}
}

func (m *MarketMetrics) DisputeClosed() {
	if m != nil {
		m.disputesOpen.Dec()
	}
}
