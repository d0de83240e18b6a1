// Copyright 2025 Certen Protocol
//
// Package metrics exposes the sidechain node's Prometheus instrumentation:
// block production, contract execution, and round-agreement quorum
// counters, served over /metrics by pkg/server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProduced counts finalized blocks, labeled by whether they were
	// empty (no pending transactions) or carried transactions.
	BlocksProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidechain_blocks_produced_total",
		Help: "Total number of blocks finalized by the ledger.",
	}, []string{"kind"})

	// TransactionsExecuted counts contract action executions, labeled by
	// outcome (ok, error, timeout).
	TransactionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidechain_transactions_executed_total",
		Help: "Total number of transactions executed by the smart contract engine.",
	}, []string{"outcome"})

	// ExecutionDuration tracks wall-clock time spent per executed action.
	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sidechain_execution_duration_seconds",
		Help:    "Time spent executing a single contract action.",
		Buckets: prometheus.DefBuckets,
	})

	// RoundsProposed counts rounds this witness proposed.
	RoundsProposed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidechain_rounds_proposed_total",
		Help: "Total number of rounds this witness proposed.",
	})

	// RoundsAnchored counts rounds that reached quorum and were submitted
	// to the anchor chain.
	RoundsAnchored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidechain_rounds_anchored_total",
		Help: "Total number of rounds anchored after reaching quorum.",
	})

	// RoundsTimedOut counts propositions that failed to reach quorum within
	// MaxWaitingPeriods ticks.
	RoundsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidechain_rounds_timed_out_total",
		Help: "Total number of round propositions that timed out before reaching quorum.",
	})

	// QuorumSignatureCount tracks the signature count of the last anchored
	// round, a gauge since it resets per round.
	QuorumSignatureCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sidechain_round_quorum_signatures",
		Help: "Number of signatures collected for the most recently anchored round.",
	})
)
