package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks block application and the per-block sweeps.
type LedgerMetrics struct {
	blocksApplied      prometheus.Counter
	campaignsPublished prometheus.Counter
	buysRecorded       prometheus.Counter
	lifecycleEvents    *prometheus.CounterVec
	sweepVisited       *prometheus.CounterVec
	sweepAborts        prometheus.Counter
	stagedReturnsPaid  prometheus.Counter
	transfersScheduled prometheus.Counter
	transfersExecuted  prometheus.Counter
	opRejections       *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics, registering them on first
// use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			blocksApplied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agchain_blocks_applied_total",
				Help: "Count of blocks applied to the ledger.",
			}),
			campaignsPublished: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agchain_campaigns_published_total",
				Help: "Count of campaigns created by publish operations.",
			}),
			buysRecorded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agchain_buys_recorded_total",
				Help: "Count of accepted subscription operations.",
			}),
			lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "agchain_lifecycle_events_total",
				Help: "Count of campaign lifecycle events by event name.",
			}, []string{"event"}),
			sweepVisited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "agchain_sweep_visited_total",
				Help: "Count of records visited by the per-block sweeps.",
			}, []string{"sweep"}),
			sweepAborts: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agchain_sweep_aborts_total",
				Help: "Count of campaign sweep passes ended early by a failed event.",
			}),
			stagedReturnsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agchain_staged_returns_paid_total",
				Help: "Count of staged-return installments paid to issuers.",
			}),
			transfersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agchain_delay_transfers_scheduled_total",
				Help: "Count of accepted delayed-transfer operations.",
			}),
			transfersExecuted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agchain_delay_transfers_executed_total",
				Help: "Count of delayed-transfer entries released to receivers.",
			}),
			opRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "agchain_operation_rejections_total",
				Help: "Count of rejected operations by kind.",
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.blocksApplied,
			ledgerRegistry.campaignsPublished,
			ledgerRegistry.buysRecorded,
			ledgerRegistry.lifecycleEvents,
			ledgerRegistry.sweepVisited,
			ledgerRegistry.sweepAborts,
			ledgerRegistry.stagedReturnsPaid,
			ledgerRegistry.transfersScheduled,
			ledgerRegistry.transfersExecuted,
			ledgerRegistry.opRejections,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) ObserveBlockApplied() {
	if m == nil {
		return
	}
	m.blocksApplied.Inc()
}

func (m *LedgerMetrics) ObserveCampaignPublished() {
	if m == nil {
		return
	}
	m.campaignsPublished.Inc()
}

func (m *LedgerMetrics) ObserveBuyRecorded() {
	if m == nil {
		return
	}
	m.buysRecorded.Inc()
}

func (m *LedgerMetrics) ObserveLifecycleEvent(event string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.lifecycleEvents.WithLabelValues(event).Inc()
}

func (m *LedgerMetrics) ObserveSweep(name string, visited int, aborted bool) {
	if m == nil {
		return
	}
	m.sweepVisited.WithLabelValues(name).Add(float64(visited))
	if aborted {
		m.sweepAborts.Inc()
	}
}

func (m *LedgerMetrics) ObserveStagedReturns(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stagedReturnsPaid.Add(float64(n))
}

func (m *LedgerMetrics) ObserveTransferScheduled() {
	if m == nil {
		return
	}
	m.transfersScheduled.Inc()
}

func (m *LedgerMetrics) ObserveTransfersExecuted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.transfersExecuted.Add(float64(n))
}

func (m *LedgerMetrics) ObserveOpRejected(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.opRejections.WithLabelValues(op).Inc()
}
