package shield

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrozenAccountDenied(t *testing.T) {
	s := New(DefaultConfig)
	d := s.CheckEligibility(PlayerSecurityProfile{AccountID: "a", IsFrozen: true, TrustScore: 90}, 10, time.Now())
	require.Equal(t, VerdictDeniedFrozen, d.Verdict)
}

func TestQuarantineDeniedWithRetryAfter(t *testing.T) {
	s := New(DefaultConfig)
	now := time.Now()
	d := s.CheckEligibility(PlayerSecurityProfile{
		AccountID:       "a",
		TrustScore:      90,
		QuarantineUntil: now.Add(5 * time.Minute),
	}, 10, now)
	require.Equal(t, VerdictDeniedQuarantine, d.Verdict)
	require.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestLowTrustDenied(t *testing.T) {
	s := New(DefaultConfig)
	d := s.CheckEligibility(PlayerSecurityProfile{AccountID: "a", TrustScore: 29}, 10, time.Now())
	require.Equal(t, VerdictDeniedLowTrust, d.Verdict)
}

func TestKycRequiredAboveThreshold(t *testing.T) {
	s := New(DefaultConfig)
	d := s.CheckEligibility(PlayerSecurityProfile{
		AccountID:  "a",
		TrustScore: 90,
		KycStatus:  KycUnverified,
	}, 100, time.Now())
	require.Equal(t, VerdictDeniedKyc, d.Verdict)
}

func TestKycVerifiedAllowsHighStakes(t *testing.T) {
	s := New(DefaultConfig)
	d := s.CheckEligibility(PlayerSecurityProfile{
		AccountID:  "a",
		TrustScore: 90,
		KycStatus:  KycVerified,
	}, 100, time.Now())
	require.Equal(t, VerdictApproved, d.Verdict)
}

func TestRateLimitExceeded(t *testing.T) {
	s := New(DefaultConfig)
	now := time.Now()
	for i := 0; i < DefaultConfig.RateLimitPerMinute; i++ {
		d := s.CheckEligibility(PlayerSecurityProfile{AccountID: "a", TrustScore: 90}, 1, now)
		require.Equal(t, VerdictApproved, d.Verdict)
	}
	d := s.CheckEligibility(PlayerSecurityProfile{AccountID: "a", TrustScore: 90}, 1, now)
	require.Equal(t, VerdictDeniedRateLimit, d.Verdict)
}

func TestReviewRequiredOnHighRisk(t *testing.T) {
	s := New(DefaultConfig)
	d := s.CheckEligibility(PlayerSecurityProfile{
		AccountID:         "a",
		TrustScore:        35,
		FailedMatchesHour:  6,
		RecentWinRate:      0.9,
		RecentWinRateCount: 25,
		RecentDisconnects:  4,
	}, 1, time.Now())
	require.Equal(t, VerdictReviewRequired, d.Verdict)
}

func TestCollusionSameDeviceRefused(t *testing.T) {
	s := New(DefaultConfig)
	a := PlayerSecurityProfile{AccountID: "a", DeviceFingerprint: "dev1"}
	b := PlayerSecurityProfile{AccountID: "b", DeviceFingerprint: "dev1"}
	report := s.CheckCollusion(a, b)
	require.True(t, report.Refuse)
	require.Contains(t, report.Indicators, "same_device")
}

func TestCollusionNoOverlapApproved(t *testing.T) {
	s := New(DefaultConfig)
	a := PlayerSecurityProfile{AccountID: "a", IP: "1.1.1.1", DeviceFingerprint: "dev1"}
	b := PlayerSecurityProfile{AccountID: "b", IP: "2.2.2.2", DeviceFingerprint: "dev2"}
	report := s.CheckCollusion(a, b)
	require.False(t, report.Refuse)
	require.Equal(t, CollusionLow, report.Level)
}
