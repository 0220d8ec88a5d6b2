package physics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPenaltyStraightOnLowShotScores(t *testing.T) {
	res := SimulatePenalty("m1", 0, ShotInput{
		VerticalAngle: 0.12,
		Power:         0.8,
	})
	require.Equal(t, VerdictGoal, res.Verdict)
	require.NotEmpty(t, res.Hash)
}

func TestPenaltyWideShotMisses(t *testing.T) {
	res := SimulatePenalty("m1", 0, ShotInput{
		HorizontalAngle: 0.6,
		VerticalAngle:   0.05,
		Power:           0.8,
	})
	require.NotEqual(t, VerdictGoal, res.Verdict)
}

func TestPenaltyHighShotOverCrossbarSaved(t *testing.T) {
	res := SimulatePenalty("m1", 0, ShotInput{
		VerticalAngle: 0.5,
		Power:         1.0,
	})
	require.NotEqual(t, VerdictGoal, res.Verdict)
}

func TestBasketballSameInputsDeterministic(t *testing.T) {
	in := ShotInput{VerticalAngle: 0.9, Power: 0.5}
	r1 := SimulateBasketball("m1", 0, in)
	r2 := SimulateBasketball("m1", 0, in)
	require.Equal(t, r1.Hash, r2.Hash)
	require.Equal(t, r1.Verdict, r2.Verdict)
}

func TestValidateShotExactMatchValid(t *testing.T) {
	pos := Vec3{X: 1, Y: 11, Z: 1}
	out := ValidateShot(VerdictGoal, pos, VerdictGoal, pos)
	require.Equal(t, OutcomeValid, out)
	require.False(t, out.RequiresReview())
}

func TestValidateShotMinorDriftStillValidVerdict(t *testing.T) {
	server := Vec3{X: 1, Y: 11, Z: 1}
	client := Vec3{X: 1, Y: 11, Z: 1.03}
	out := ValidateShot(VerdictGoal, server, VerdictGoal, client)
	require.Equal(t, OutcomeValid, out)
	require.False(t, out.RequiresReview())
}

func TestValidateShotDifferentVerdictSmallDeltaMajor(t *testing.T) {
	server := Vec3{X: 0, Y: 11, Z: 1}
	client := Vec3{X: 0, Y: 11, Z: 1.1}
	out := ValidateShot(VerdictGoal, server, VerdictSaved, client)
	require.Equal(t, OutcomeMajorDiscrepancy, out)
	require.True(t, out.RequiresReview())
}

func TestValidateShotDifferentVerdictLargeDeltaFraud(t *testing.T) {
	server := Vec3{X: 0, Y: 11, Z: 1}
	client := Vec3{X: 20, Y: 11, Z: 1}
	out := ValidateShot(VerdictGoal, server, VerdictSaved, client)
	require.Equal(t, OutcomeFraudSuspected, out)
	require.True(t, out.RequiresReview())
}
