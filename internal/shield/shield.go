// Package shield implements the LK-SHIELD pre-match eligibility filter:
// trust, KYC, rate limiting, and collusion detection (spec §4.3, §8
// boundary cases, scenario 6). Named after the "LKShield"/"lk_shield"
// identifiers in the original Python source.
package shield

import (
	"sync"
	"time"
)

// KycStatus enumerates a player's KYC verification state.
type KycStatus string

const (
	KycUnverified KycStatus = "unverified"
	KycPending    KycStatus = "pending"
	KycVerified   KycStatus = "verified"
)

// Verdict is the Shield's admission decision.
type Verdict string

const (
	VerdictApproved       Verdict = "approved"
	VerdictReviewRequired Verdict = "review_required"
	VerdictDeniedFrozen   Verdict = "denied_frozen"
	VerdictDeniedQuarantine Verdict = "denied_quarantine"
	VerdictDeniedLowTrust Verdict = "denied_low_trust"
	VerdictDeniedKyc      Verdict = "denied_kyc"
	VerdictDeniedRateLimit Verdict = "denied_rate_limit"
)

// Decision is the result of CheckEligibility.
type Decision struct {
	Verdict     Verdict
	Risk        int
	RetryAfter  time.Duration
	Reasons     []string
}

// PlayerSecurityProfile is the Shield's input for one account (spec §4.3).
type PlayerSecurityProfile struct {
	AccountID          string
	IsFrozen           bool
	QuarantineUntil    time.Time
	TrustScore         int
	KycStatus          KycStatus
	FailedMatchesHour  int
	RecentWinRate      float64
	RecentWinRateCount int
	RecentDisconnects  int
	IP                 string
	DeviceFingerprint  string
}

func (p PlayerSecurityProfile) trustLevel() string {
	switch {
	case p.TrustScore >= 70:
		return "green"
	case p.TrustScore >= 30:
		return "yellow"
	default:
		return "red"
	}
}

// Config carries the thresholds (spec §4.3, configurable per
// internal/config.ShieldConfig).
type Config struct {
	MinTrustScore       int
	KycBetThreshold     int
	RateLimitPerMinute  int
	ReviewRiskThreshold int
}

// DefaultConfig matches the literal thresholds in spec §4.3.
var DefaultConfig = Config{
	MinTrustScore:       30,
	KycBetThreshold:     100,
	RateLimitPerMinute:  10,
	ReviewRiskThreshold: 70,
}

// Shield holds the per-account rate-limit history and the IP/device
// multimaps used for collusion detection.
type Shield struct {
	cfg Config

	mu          sync.Mutex
	rateWindow  map[string][]time.Time
	ipSeen      map[string]map[string]time.Time
	deviceSeen  map[string]map[string]time.Time
	encounters  map[string]int // "accountA|accountB" (sorted) -> count
}

// New builds a Shield with the given thresholds.
func New(cfg Config) *Shield {
	return &Shield{
		cfg:        cfg,
		rateWindow: make(map[string][]time.Time),
		ipSeen:     make(map[string]map[string]time.Time),
		deviceSeen: make(map[string]map[string]time.Time),
		encounters: make(map[string]int),
	}
}

// recordIPDevice tracks the account under its IP and device fingerprint
// so future collusion checks can see historical overlap, and evicts
// entries older than 24h (spec §4.3).
func (s *Shield) recordIPDevice(profile PlayerSecurityProfile, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.IP != "" {
		m, ok := s.ipSeen[profile.IP]
		if !ok {
			m = make(map[string]time.Time)
			s.ipSeen[profile.IP] = m
		}
		m[profile.AccountID] = now
	}
	if profile.DeviceFingerprint != "" {
		m, ok := s.deviceSeen[profile.DeviceFingerprint]
		if !ok {
			m = make(map[string]time.Time)
			s.deviceSeen[profile.DeviceFingerprint] = m
		}
		m[profile.AccountID] = now
	}
	evictBefore := now.Add(-24 * time.Hour)
	for ip, accts := range s.ipSeen {
		for acc, t := range accts {
			if t.Before(evictBefore) {
				delete(accts, acc)
			}
		}
		if len(accts) == 0 {
			delete(s.ipSeen, ip)
		}
	}
	for dev, accts := range s.deviceSeen {
		for acc, t := range accts {
			if t.Before(evictBefore) {
				delete(accts, acc)
			}
		}
		if len(accts) == 0 {
			delete(s.deviceSeen, dev)
		}
	}
}

// requestRate returns how many match requests this account has made in
// the last 60s, recording the current attempt.
func (s *Shield) requestRate(accountID string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-60 * time.Second)
	var kept []time.Time
	for _, t := range s.rateWindow[accountID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.rateWindow[accountID] = kept
	return len(kept)
}

// CheckEligibility runs the ordered checks of spec §4.3, short-circuiting
// on the first failure.
func (s *Shield) CheckEligibility(profile PlayerSecurityProfile, betAmount int64, now time.Time) Decision {
	s.recordIPDevice(profile, now)

	if profile.IsFrozen {
		return Decision{Verdict: VerdictDeniedFrozen, Reasons: []string{"account frozen"}}
	}
	if profile.QuarantineUntil.After(now) {
		return Decision{
			Verdict:    VerdictDeniedQuarantine,
			RetryAfter: profile.QuarantineUntil.Sub(now),
			Reasons:    []string{"account in quarantine"},
		}
	}
	if profile.TrustScore < s.cfg.MinTrustScore {
		return Decision{Verdict: VerdictDeniedLowTrust, Reasons: []string{"trust score below minimum"}}
	}
	if betAmount >= int64(s.cfg.KycBetThreshold) && profile.KycStatus != KycVerified {
		return Decision{Verdict: VerdictDeniedKyc, Reasons: []string{"kyc required for this bet size"}}
	}

	risk := 0
	var reasons []string
	if betAmount >= int64(s.cfg.KycBetThreshold) && profile.TrustScore < 70 {
		risk += 0 // "add risk" per spec with no numeric weight specified beyond trust-level bucket below
		reasons = append(reasons, "high-stakes with non-green trust")
	}

	rate := s.requestRate(profile.AccountID, now)
	if rate > s.cfg.RateLimitPerMinute {
		return Decision{
			Verdict:    VerdictDeniedRateLimit,
			RetryAfter: 60 * time.Second,
			Reasons:    []string{"match-request rate exceeded"},
		}
	}

	switch profile.trustLevel() {
	case "yellow":
		risk += 15
		reasons = append(reasons, "yellow trust level")
	case "red":
		risk += 30
		reasons = append(reasons, "red trust level")
	}
	if profile.FailedMatchesHour >= 5 {
		risk += 25
		reasons = append(reasons, "frequent failed matches")
	}
	if profile.RecentWinRateCount >= 20 && profile.RecentWinRate >= 0.85 {
		risk += 20
		reasons = append(reasons, "suspiciously high win rate")
	}
	if profile.RecentDisconnects >= 3 {
		risk += 15
		reasons = append(reasons, "frequent recent disconnects")
	}

	if risk >= s.cfg.ReviewRiskThreshold {
		return Decision{Verdict: VerdictReviewRequired, Risk: risk, Reasons: reasons}
	}
	return Decision{Verdict: VerdictApproved, Risk: risk, Reasons: reasons}
}

// CollusionLevel is the categorical severity of a collusion check.
type CollusionLevel string

const (
	CollusionLow      CollusionLevel = "low"
	CollusionMedium   CollusionLevel = "medium"
	CollusionHigh     CollusionLevel = "high"
	CollusionCritical CollusionLevel = "critical"
)

// CollusionReport is the result of CheckCollusion (spec §4.3).
type CollusionReport struct {
	Indicators []string
	Level      CollusionLevel
	Refuse     bool
}

// CheckCollusion evaluates two paired players for a match (spec §4.3).
func (s *Shield) CheckCollusion(a, b PlayerSecurityProfile) CollusionReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var indicators []string
	sameIP := a.IP != "" && a.IP == b.IP
	sameDevice := a.DeviceFingerprint != "" && a.DeviceFingerprint == b.DeviceFingerprint
	ipOverlap := s.hasOverlap(s.ipSeen, a.IP, b.AccountID) || s.hasOverlap(s.ipSeen, b.IP, a.AccountID)
	deviceOverlap := s.hasOverlap(s.deviceSeen, a.DeviceFingerprint, b.AccountID) || s.hasOverlap(s.deviceSeen, b.DeviceFingerprint, a.AccountID)

	key := pairKey(a.AccountID, b.AccountID)
	s.encounters[key]++
	frequent := s.encounters[key] > 10

	if sameIP {
		indicators = append(indicators, "same_ip")
	}
	if sameDevice {
		indicators = append(indicators, "same_device")
	}
	if ipOverlap {
		indicators = append(indicators, "ip_history_overlap")
	}
	if deviceOverlap {
		indicators = append(indicators, "device_history_overlap")
	}
	if frequent {
		indicators = append(indicators, "frequent_encounters")
	}

	level := CollusionLow
	if len(indicators) > 0 {
		level = CollusionMedium
	}
	if sameDevice || deviceOverlap {
		level = CollusionHigh
	}
	if level == CollusionHigh && len(indicators) >= 3 {
		level = CollusionCritical
	}

	refuse := level == CollusionHigh || level == CollusionCritical
	return CollusionReport{Indicators: indicators, Level: level, Refuse: refuse}
}

func (s *Shield) hasOverlap(m map[string]map[string]time.Time, key, accountID string) bool {
	if key == "" {
		return false
	}
	accts, ok := m[key]
	if !ok {
		return false
	}
	_, present := accts[accountID]
	return present
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}
