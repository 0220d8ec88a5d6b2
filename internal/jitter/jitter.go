// Package jitter implements connection-quality monitoring: heartbeat RTT
// baselines, lag-switch / spike detection, and disconnect classification
// (spec §4.4, scenario 4). Named after "JitterDetector" in the original
// Python source.
package jitter

import (
	"math"
	"sync"
	"time"
)

// Classification is the per-heartbeat verdict for a connection sample.
type Classification string

const (
	ClassNormal       Classification = "normal"
	ClassSpike        Classification = "spike"
	ClassSuspicious   Classification = "suspicious_lag_switch"
	ClassDisconnected Classification = "disconnected"
)

// GameStateTag is the game-state label a client attaches to a
// heartbeat, used to weight spikes that land during a high-stakes
// moment more heavily than idle-time jitter.
type GameStateTag string

const (
	StateShooting        GameStateTag = "shooting"
	StateDefending       GameStateTag = "defending"
	StatePenalty         GameStateTag = "penalty"
	StateMatchPoint      GameStateTag = "match_point"
	StateFinalMove       GameStateTag = "final_move"
	StateWinningPosition GameStateTag = "winning_position"
	StateLosingPosition  GameStateTag = "losing_position"
)

var criticalStates = map[GameStateTag]bool{
	StateShooting:        true,
	StateDefending:       true,
	StatePenalty:         true,
	StateMatchPoint:      true,
	StateFinalMove:       true,
	StateWinningPosition: true,
	StateLosingPosition:  true,
}

// IsCritical reports whether tag is one of the high-stakes game states
// that weigh spikes more heavily (spec §4.4).
func IsCritical(tag GameStateTag) bool { return criticalStates[tag] }

// Config mirrors internal/config.JitterConfig.
type Config struct {
	SampleWindow     int
	SpikeRTTMillis   int
	SpikeZScore      float64
	SpikeWindow      time.Duration
	SuspiciousSpikes int
}

// DefaultConfig matches the literal thresholds in spec §4.4.
var DefaultConfig = Config{
	SampleWindow:     100,
	SpikeRTTMillis:   500,
	SpikeZScore:      2.5,
	SpikeWindow:      60 * time.Second,
	SuspiciousSpikes: 3,
}

// Baseline window tunables (spec §4.4): the trimmed mean/stdev is taken
// over the most recent 20 samples once at least 10 have arrived,
// dropping the two lowest and two highest when more than 4 remain.
const (
	baselineWindow     = 20
	baselineMinSamples = 10
	baselineTrimEach   = 2
	baselineTrimFloor  = 4
)

// Sample is one observed heartbeat round-trip.
type Sample struct {
	RTT       time.Duration
	At        time.Time
	GameState GameStateTag
}

// Monitor tracks RTT history for one connection and classifies each new
// sample against a trimmed baseline.
type Monitor struct {
	cfg Config

	mu                    sync.Mutex
	history               []Sample
	spikes                []time.Time
	spikesDuringCritical  int
	totalCriticalMoments  int
	missedHeartbeats      int
	flagged               bool
	lastSeen              time.Time
	lastScore             float64
	lastCriticalRatio     float64
}

// NewMonitor builds a Monitor with the given thresholds.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg}
}

// trimmedMeanStdDev drops the two lowest and two highest samples (by
// RTT, once more than baselineTrimFloor remain) and returns the
// mean/stddev of what remains (spec §4.4).
func trimmedMeanStdDev(samples []time.Duration) (mean, stddev float64) {
	n := len(samples)
	if n == 0 {
		return 0, 0
	}
	sorted := make([]float64, n)
	for i, s := range samples {
		sorted[i] = float64(s.Milliseconds())
	}
	for i := 1; i < n; i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	trimmed := sorted
	if n > baselineTrimFloor {
		trimmed = sorted[baselineTrimEach : n-baselineTrimEach]
	}
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	mean = sum / float64(len(trimmed))
	var sqSum float64
	for _, v := range trimmed {
		sqSum += (v - mean) * (v - mean)
	}
	stddev = math.Sqrt(sqSum / float64(len(trimmed)))
	return mean, stddev
}

// baseline reports the trimmed mean/stdev of the most recent
// baselineWindow samples, or ok=false if fewer than baselineMinSamples
// have arrived yet (spec §4.4).
func baseline(history []Sample) (mean, stddev float64, ok bool) {
	n := len(history)
	if n < baselineMinSamples {
		return 0, 0, false
	}
	window := history
	if n > baselineWindow {
		window = history[n-baselineWindow:]
	}
	durations := make([]time.Duration, len(window))
	for i, s := range window {
		durations[i] = s.RTT
	}
	mean, stddev = trimmedMeanStdDev(durations)
	return mean, stddev, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Observe records a new heartbeat RTT sample, tagged with the client's
// reported game state, and classifies it (spec §4.4).
func (m *Monitor) Observe(rtt time.Duration, now time.Time, gameState GameStateTag) Classification {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeen = now
	m.missedHeartbeats = 0

	mean, stddev, baselined := baseline(m.history)

	rttMs := float64(rtt.Milliseconds())
	normDev := 0.0
	isSpike := rttMs >= float64(m.cfg.SpikeRTTMillis)
	if baselined {
		normDev = (rttMs - mean) / (stddev + 1)
		if normDev >= m.cfg.SpikeZScore {
			isSpike = true
		}
	}

	critical := IsCritical(gameState)
	if critical {
		m.totalCriticalMoments++
	}

	m.history = append(m.history, Sample{RTT: rtt, At: now, GameState: gameState})
	if len(m.history) > m.cfg.SampleWindow {
		m.history = m.history[len(m.history)-m.cfg.SampleWindow:]
	}

	if !isSpike {
		m.lastScore = clamp(math.Abs(normDev)*10, 0, 100)
		return ClassNormal
	}

	m.spikes = append(m.spikes, now)
	m.trimSpikesLocked(now)
	if critical {
		m.spikesDuringCritical++
	}

	spikeCount := len(m.spikes)
	critRatio := 0.0
	if m.totalCriticalMoments > 0 {
		critRatio = float64(m.spikesDuringCritical) / float64(m.totalCriticalMoments)
	}
	m.lastCriticalRatio = critRatio

	score := math.Abs(normDev)*10 + float64(spikeCount)*5 + critRatio*40
	ratioSuspicious := critRatio > 0.6 && m.totalCriticalMoments >= 5
	if ratioSuspicious {
		score += 30
	}
	m.lastScore = clamp(score, 0, 100)

	suspicious := spikeCount >= m.cfg.SuspiciousSpikes || ratioSuspicious
	if suspicious {
		m.flagged = true
		return ClassSuspicious
	}
	return ClassSpike
}

func (m *Monitor) trimSpikesLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.SpikeWindow)
	kept := m.spikes[:0]
	for _, t := range m.spikes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.spikes = kept
}

// RecordMissedHeartbeat should be called each time the gateway's
// heartbeat watchdog ticks without a fresh sample having arrived; three
// consecutive misses is the trigger for disconnect classification
// (spec §4.4).
func (m *Monitor) RecordMissedHeartbeat() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missedHeartbeats++
	return m.missedHeartbeats
}

// MarkDisconnected should be called when a heartbeat is missed past the
// gateway's ping timeout.
func (m *Monitor) MarkDisconnected(now time.Time) Classification {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen = now
	return ClassDisconnected
}

// SpikeCount reports how many spikes remain in the current 60s window.
func (m *Monitor) SpikeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimSpikesLocked(time.Now().UTC())
	return len(m.spikes)
}

// Flagged reports whether this connection has ever been classified
// suspicious (the "already flagged" state spec §4.4's disconnect
// classification consults).
func (m *Monitor) Flagged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flagged
}

// Snapshot is the LatencyProfile's derived view (spec §3).
type Snapshot struct {
	JitterScore           float64
	CriticalSpikeRatio     float64
	SpikesInWindow         int
	SpikesDuringCritical   int
	TotalCriticalMoments   int
	Flagged                bool
}

// Snapshot reports the monitor's current derived state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimSpikesLocked(time.Now().UTC())
	return Snapshot{
		JitterScore:          m.lastScore,
		CriticalSpikeRatio:   m.lastCriticalRatio,
		SpikesInWindow:       len(m.spikes),
		SpikesDuringCritical: m.spikesDuringCritical,
		TotalCriticalMoments: m.totalCriticalMoments,
		Flagged:              m.flagged,
	}
}

// DisconnectClass is the four-way classification of a dropped
// connection (spec §4.4).
type DisconnectClass string

const (
	DisconnectMassOutage DisconnectClass = "mass_outage"
	DisconnectLagSwitch  DisconnectClass = "lag_switch"
	DisconnectSuspicious DisconnectClass = "suspicious"
	DisconnectGenuine    DisconnectClass = "genuine"
)

// ClassifyDisconnect implements spec §4.4's disconnect-classification
// rule: called once ≥3 heartbeats have been missed, it takes the
// connection's own flagged/recent-spike state plus the fraction of the
// room's currently-active players who disconnected in the last 30s.
func ClassifyDisconnect(flagged bool, recentSpikes int, fractionDisconnected float64) DisconnectClass {
	switch {
	case fractionDisconnected >= 0.20:
		return DisconnectMassOutage
	case flagged:
		return DisconnectLagSwitch
	case recentSpikes >= 2:
		return DisconnectSuspicious
	default:
		return DisconnectGenuine
	}
}

// Classify is a convenience wrapper that classifies a disconnect using
// this monitor's own flagged/spike state.
func (m *Monitor) Classify(fractionDisconnected float64) DisconnectClass {
	return ClassifyDisconnect(m.Flagged(), m.SpikeCount(), fractionDisconnected)
}

// ActionFor returns the recommended handling for a disconnect class
// (spec §4.4's action table).
func ActionFor(class DisconnectClass) string {
	switch class {
	case DisconnectMassOutage:
		return "pause_or_rollback"
	case DisconnectLagSwitch:
		return "flag_for_review"
	case DisconnectSuspicious:
		return "monitor_on_reconnect"
	default:
		return "grace_period_45s"
	}
}
