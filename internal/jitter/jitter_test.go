package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalRTTClassifiedNormal(t *testing.T) {
	m := NewMonitor(DefaultConfig)
	now := time.Now()
	for i := 0; i < 10; i++ {
		class := m.Observe(50*time.Millisecond, now.Add(time.Duration(i)*time.Second), "")
		require.Equal(t, ClassNormal, class)
	}
}

func TestHighRTTClassifiedSpike(t *testing.T) {
	m := NewMonitor(DefaultConfig)
	now := time.Now()
	for i := 0; i < 20; i++ {
		m.Observe(40*time.Millisecond, now.Add(time.Duration(i)*time.Second), "")
	}
	class := m.Observe(600*time.Millisecond, now.Add(21*time.Second), "")
	require.Equal(t, ClassSpike, class)
}

func TestRepeatedSpikesClassifiedSuspicious(t *testing.T) {
	m := NewMonitor(DefaultConfig)
	now := time.Now()
	for i := 0; i < 20; i++ {
		m.Observe(40*time.Millisecond, now.Add(time.Duration(i)*time.Second), "")
	}
	t0 := now.Add(21 * time.Second)
	m.Observe(600*time.Millisecond, t0, "")
	m.Observe(600*time.Millisecond, t0.Add(5*time.Second), "")
	class := m.Observe(600*time.Millisecond, t0.Add(10*time.Second), "")
	require.Equal(t, ClassSuspicious, class)
}

func TestSpikesOutsideWindowDoNotAccumulate(t *testing.T) {
	m := NewMonitor(DefaultConfig)
	now := time.Now()
	for i := 0; i < 20; i++ {
		m.Observe(40*time.Millisecond, now.Add(time.Duration(i)*time.Second), "")
	}
	t0 := now.Add(21 * time.Second)
	m.Observe(600*time.Millisecond, t0, "")
	m.Observe(600*time.Millisecond, t0.Add(120*time.Second), "")
	require.Equal(t, 1, m.SpikeCount())
}

func TestMarkDisconnectedPreservesSpikes(t *testing.T) {
	m := NewMonitor(DefaultConfig)
	now := time.Now()
	for i := 0; i < 20; i++ {
		m.Observe(40*time.Millisecond, now.Add(time.Duration(i)*time.Second), "")
	}
	m.Observe(600*time.Millisecond, now.Add(21*time.Second), "")
	require.Equal(t, 1, m.SpikeCount())
	class := m.MarkDisconnected(now.Add(22 * time.Second))
	require.Equal(t, ClassDisconnected, class)
	require.Equal(t, 1, m.SpikeCount())
}

// TestLagSwitchScenario mirrors spec scenario 4: ten heartbeats near a
// baseline of 80ms/10ms stdev, then four 800ms heartbeats tagged
// match_point. The four critical-tagged spikes must drive jitter_score
// to the clamp ceiling with a 1.0 critical-spike ratio.
func TestLagSwitchScenario(t *testing.T) {
	m := NewMonitor(DefaultConfig)
	now := time.Now()
	rtts := []time.Duration{70, 75, 80, 85, 90, 78, 82, 79, 81, 80}
	for i, ms := range rtts {
		m.Observe(ms*time.Millisecond, now.Add(time.Duration(i)*time.Second), "")
	}
	base := now.Add(time.Duration(len(rtts)) * time.Second)
	var class Classification
	for i := 0; i < 4; i++ {
		class = m.Observe(800*time.Millisecond, base.Add(time.Duration(i)*time.Second), StateMatchPoint)
	}
	require.Equal(t, ClassSuspicious, class)

	snap := m.Snapshot()
	require.GreaterOrEqual(t, snap.JitterScore, 85.0)
	require.Equal(t, 1.0, snap.CriticalSpikeRatio)
	require.True(t, snap.Flagged)
}

func TestClassifyDisconnectMassOutage(t *testing.T) {
	require.Equal(t, DisconnectMassOutage, ClassifyDisconnect(false, 0, 0.25))
}

func TestClassifyDisconnectLagSwitch(t *testing.T) {
	require.Equal(t, DisconnectLagSwitch, ClassifyDisconnect(true, 0, 0))
}

func TestClassifyDisconnectSuspicious(t *testing.T) {
	require.Equal(t, DisconnectSuspicious, ClassifyDisconnect(false, 2, 0))
}

func TestClassifyDisconnectGenuine(t *testing.T) {
	require.Equal(t, DisconnectGenuine, ClassifyDisconnect(false, 0, 0))
}
