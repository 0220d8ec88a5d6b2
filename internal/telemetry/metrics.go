// Package telemetry wires the core's operational metrics (Prometheus)
// and distributed tracing (OpenTelemetry), following the pack's
// observability idiom.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide set of Prometheus collectors exported by
// the core. Construct once via NewMetrics and pass by reference to
// every component that needs to record an observation.
type Metrics struct {
	MatchesStarted      prometheus.Counter
	MatchesSettled       prometheus.Counter
	MatchesCancelled     prometheus.Counter
	MatchesDisputed      prometheus.Counter
	SettlementFailures   prometheus.Counter
	ActiveRooms          prometheus.Gauge
	ActiveSessions       prometheus.Gauge
	DiceRolls            prometheus.Counter
	ShieldDenials        *prometheus.CounterVec
	CollusionRefusals    prometheus.Counter
	ShadowDiscrepancies  *prometheus.CounterVec
	LagSwitchSuspicions  prometheus.Counter
	LedgerIntegrityAlert prometheus.Counter
	SettlementLatency    prometheus.Histogram
}

// NewMetrics registers every collector against reg (typically
// prometheus.DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MatchesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "matches_started_total", Help: "Matches that reached in_progress.",
		}),
		MatchesSettled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "matches_settled_total", Help: "Matches that reached completed via settlement.",
		}),
		MatchesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "matches_cancelled_total", Help: "Matches cancelled before or during lock.",
		}),
		MatchesDisputed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "matches_disputed_total", Help: "Matches that entered the disputed state.",
		}),
		SettlementFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "settlement_failures_total", Help: "Ledger settlement attempts that failed and were rolled back.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lkarbiter", Name: "active_rooms", Help: "Rooms not yet in a terminal state.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lkarbiter", Name: "active_sessions", Help: "Open realtime gateway sessions.",
		}),
		DiceRolls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "dice_rolls_total", Help: "Fair-dice rolls served.",
		}),
		ShieldDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "shield_denials_total", Help: "Eligibility checks denied, by verdict.",
		}, []string{"verdict"}),
		CollusionRefusals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "collusion_refusals_total", Help: "Pairings refused for collusion risk.",
		}),
		ShadowDiscrepancies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "shadow_discrepancies_total", Help: "Physics shadow-validation outcomes, by severity.",
		}, []string{"outcome"}),
		LagSwitchSuspicions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "lag_switch_suspicions_total", Help: "Connections classified suspicious_lag_switch.",
		}),
		LedgerIntegrityAlert: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lkarbiter", Name: "ledger_integrity_alerts_total", Help: "Accounts frozen for an integrity-hash mismatch.",
		}),
		SettlementLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lkarbiter", Name: "settlement_latency_seconds", Help: "Wall-clock duration of SettleMatch calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
