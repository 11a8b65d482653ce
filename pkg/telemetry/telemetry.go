package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	// matcher_intents_received_total
	//
	// counter that measures the number of trade transactions handed to the orchestrator
	IntentsReceivedMetricName = "matcher_intents_received_total"

	// matcher_rejected_intents_total
	//
	// counter that measures the number of trade transactions rejected during resolution
	//
	// Has the following labels:
	// * reason - invalid_intent or invalid_opcode
	RejectedIntentsMetricName = "matcher_rejected_intents_total"

	// matcher_fills_total
	//
	// counter that measures the number of fills settled
	//
	// Has the following labels:
	// * taker_side - Buy or Sell
	FillsMetricName = "matcher_fills_total"

	// matcher_settlement_retries_total
	//
	// counter that measures the number of retried ledger broadcasts
	//
	// Has the following labels:
	// * step - ar_transfer, token_transfer or confirmation
	SettlementRetriesMetricName = "matcher_settlement_retries_total"

	// matcher_partial_settlements_total
	//
	// counter that measures the number of settlements that stopped after moving funds
	//
	// Has the following labels:
	// * stage - token_transfer or confirmation
	PartialSettlementsMetricName = "matcher_partial_settlements_total"

	// matcher_aborted_settlements_total
	//
	// counter that measures the number of settlements abandoned before any funds moved
	AbortedSettlementsMetricName = "matcher_aborted_settlements_total"

	// matcher_process_duration_seconds
	//
	// histogram of the time spent processing one trade transaction
	//
	// Has the following labels:
	// * state - terminal state of the run
	ProcessDurationMetricName = "matcher_process_duration_seconds"

	IntentsReceivedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: IntentsReceivedMetricName,
			Help: "counter that measures the number of trade transactions handed to the orchestrator",
		},
	)

	RejectedIntentsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: RejectedIntentsMetricName,
			Help: "counter that measures the number of trade transactions rejected during resolution",
		},
		[]string{"reason"},
	)

	FillsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: FillsMetricName,
			Help: "counter that measures the number of fills settled",
		},
		[]string{"taker_side"},
	)

	SettlementRetriesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: SettlementRetriesMetricName,
			Help: "counter that measures the number of retried ledger broadcasts",
		},
		[]string{"step"},
	)

	PartialSettlementsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: PartialSettlementsMetricName,
			Help: "counter that measures the number of settlements that stopped after moving funds",
		},
		[]string{"stage"},
	)

	AbortedSettlementsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: AbortedSettlementsMetricName,
			Help: "counter that measures the number of settlements abandoned before any funds moved",
		},
	)

	ProcessDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    ProcessDurationMetricName,
			Help:    "histogram of the time spent processing one trade transaction",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(IntentsReceivedCounter)
	prometheus.MustRegister(RejectedIntentsCounter)
	prometheus.MustRegister(FillsCounter)
	prometheus.MustRegister(SettlementRetriesCounter)
	prometheus.MustRegister(PartialSettlementsCounter)
	prometheus.MustRegister(AbortedSettlementsCounter)
	prometheus.MustRegister(ProcessDurationHistogram)
}
