package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymasterMetrics aggregates the engine-facing counters exported by the
// service.
type PaymasterMetrics struct {
	validations   *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	reservedWei   prometheus.Counter
	refundedWei   prometheus.Counter
	chargedWei    prometheus.Counter
	sponsorEvents *prometheus.CounterVec
}

var (
	paymasterOnce     sync.Once
	paymasterRegistry *PaymasterMetrics
)

// Paymaster returns the process-wide paymaster metrics registry.
func Paymaster() *PaymasterMetrics {
	paymasterOnce.Do(func() {
		paymasterRegistry = &PaymasterMetrics{
			validations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "paymaster_validations_total",
				Help: "Count of validation-phase outcomes by status.",
			}, []string{"outcome"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "paymaster_settlements_total",
				Help: "Count of settlement-phase completions by post-op mode.",
			}, []string{"mode"}),
			reservedWei: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "paymaster_reserved_wei_total",
				Help: "Cumulative wei reserved at validation time.",
			}),
			refundedWei: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "paymaster_refunded_wei_total",
				Help: "Cumulative wei credited back at settlement time.",
			}),
			chargedWei: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "paymaster_charged_wei_total",
				Help: "Cumulative wei ultimately charged to sponsors.",
			}),
			sponsorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "paymaster_sponsor_ops_total",
				Help: "Count of sponsor funding operations by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			paymasterRegistry.validations,
			paymasterRegistry.settlements,
			paymasterRegistry.reservedWei,
			paymasterRegistry.refundedWei,
			paymasterRegistry.chargedWei,
			paymasterRegistry.sponsorEvents,
		)
	})
	return paymasterRegistry
}

func weiValue(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// ObserveValidation records a validation-phase outcome.
func (m *PaymasterMetrics) ObserveValidation(outcome string, reserved *big.Int) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.validations.WithLabelValues(outcome).Inc()
	if reserved != nil && reserved.Sign() > 0 {
		m.reservedWei.Add(weiValue(reserved))
	}
}

// ObserveSettlement records a settlement-phase completion.
func (m *PaymasterMetrics) ObserveSettlement(mode string, charged, refunded *big.Int) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "unknown"
	}
	m.settlements.WithLabelValues(mode).Inc()
	if charged != nil && charged.Sign() > 0 {
		m.chargedWei.Add(weiValue(charged))
	}
	if refunded != nil && refunded.Sign() > 0 {
		m.refundedWei.Add(weiValue(refunded))
	}
}

// ObserveSponsorOp records a deposit or withdrawal.
func (m *PaymasterMetrics) ObserveSponsorOp(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.sponsorEvents.WithLabelValues(kind).Inc()
}
