// Package physics implements the deterministic fixed-step shot
// simulators used for shadow-validating client-reported shot results
// (spec §4.5). Named after "ShadowSimulationValidator" in the original
// Python source.
package physics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
)

const dt = 1.0 / 60.0
const gravity = 9.81

// Vec3 is a position or velocity in simulator space (meters).
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// ShotInput is the client-supplied shot parameters (spec §4.5).
type ShotInput struct {
	Start        Vec3
	HorizontalAngle float64 // radians, measured from the shot's forward axis
	VerticalAngle   float64 // radians, measured from the horizontal plane
	Power           float64 // normalised, [0,1]
	SpinX, SpinY    float64
}

// Verdict is the terminal outcome of a simulated shot.
type Verdict string

const (
	VerdictGoal  Verdict = "goal"
	VerdictSaved Verdict = "saved"
	VerdictMiss  Verdict = "miss"
	VerdictScore Verdict = "score"
)

// ShotResult is the full simulation output (spec §4.5).
type ShotResult struct {
	Trajectory []Vec3
	Final      Vec3
	Verdict    Verdict
	Hash       string
}

// Shot-kind tunables.
const (
	penaltyMaxSteps    = 500
	basketballMaxSteps = 300

	penaltyMaxSpeed     = 30.0 // m/s at power=1
	basketballMaxSpeed  = 12.0

	goalWidth   = 7.32
	goalHeight  = 2.44
	goalPlaneY  = 11.0 // distance from penalty spot to goal line, meters

	rimRadius = 0.23
	rimHeight = 3.05
	rimPlaneY = 6.0 // horizontal distance to rim, meters
)

func initialVelocity(in ShotInput, maxSpeed float64) Vec3 {
	speed := in.Power * maxSpeed
	cosV := math.Cos(in.VerticalAngle)
	return Vec3{
		X: speed * cosV * math.Sin(in.HorizontalAngle),
		Y: speed * cosV * math.Cos(in.HorizontalAngle),
		Z: speed * math.Sin(in.VerticalAngle),
	}
}

// integrate runs a fixed-step Euler simulation with gravity, a small
// multiplicative air-resistance decay, and a simplified Magnus
// side/lift coupling from spin, stopping at the supplied terminate
// predicate or maxSteps.
func integrate(in ShotInput, maxSpeed float64, maxSteps int, terminate func(prev, cur Vec3, step int) bool) []Vec3 {
	pos := in.Start
	vel := initialVelocity(in, maxSpeed)
	traj := make([]Vec3, 0, maxSteps+1)
	traj = append(traj, pos)

	const airDecay = 0.995 // 0.5% multiplicative loss per step
	magnusX := in.SpinY * 0.02
	magnusZ := in.SpinX * 0.02

	for step := 0; step < maxSteps; step++ {
		vel.Z -= gravity * dt
		vel.X += magnusX * dt
		vel.Z += magnusZ * dt
		vel.X *= airDecay
		vel.Y *= airDecay
		vel.Z *= airDecay

		prev := pos
		pos = Vec3{
			X: pos.X + vel.X*dt,
			Y: pos.Y + vel.Y*dt,
			Z: pos.Z + vel.Z*dt,
		}
		traj = append(traj, pos)

		if pos.Z <= 0.05 && vel.Z < 0 {
			break
		}
		if terminate != nil && terminate(prev, pos, step) {
			break
		}
	}
	return traj
}

func hashResult(matchID string, shotIndex int, final Vec3, verdict Verdict) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%.6f,%.6f,%.6f|%s", matchID, shotIndex, final.X, final.Y, final.Z, verdict)
	return hex.EncodeToString(h.Sum(nil))
}

// SimulatePenalty runs the penalty-kick integrator and scores a goal iff
// the ball crosses the goal plane within the goal's width and below the
// crossbar (spec §4.5).
//
// TODO: the goalkeeper has no influence on the outcome here; the verdict
// depends only on whether the final position lands inside the goal
// frame. Preserved as a deliberate extension point (spec §9).
func SimulatePenalty(matchID string, shotIndex int, in ShotInput) ShotResult {
	crossed := false
	traj := integrate(in, penaltyMaxSpeed, penaltyMaxSteps, func(prev, cur Vec3, step int) bool {
		if prev.Y < goalPlaneY && cur.Y >= goalPlaneY {
			crossed = true
			return true
		}
		return false
	})
	final := traj[len(traj)-1]

	verdict := VerdictMiss
	if crossed {
		withinWidth := math.Abs(final.X) <= goalWidth/2
		belowBar := final.Z <= goalHeight && final.Z >= 0
		if withinWidth && belowBar {
			verdict = VerdictGoal
		} else {
			verdict = VerdictSaved
		}
	}
	return ShotResult{
		Trajectory: traj,
		Final:      final,
		Verdict:    verdict,
		Hash:       hashResult(matchID, shotIndex, final, verdict),
	}
}

// SimulateBasketball runs the free-throw/jump-shot integrator and scores
// iff the ball passes through the rim cylinder on a descending
// trajectory (spec §4.5).
func SimulateBasketball(matchID string, shotIndex int, in ShotInput) ShotResult {
	scored := false
	traj := integrate(in, basketballMaxSpeed, basketballMaxSteps, func(prev, cur Vec3, step int) bool {
		descending := prev.Z > cur.Z
		crossingPlane := prev.Y < rimPlaneY && cur.Y >= rimPlaneY
		if descending && crossingPlane {
			lateral := math.Hypot(cur.X, 0)
			withinRim := lateral <= rimRadius
			nearRimHeight := math.Abs(cur.Z-rimHeight) <= 0.3
			if withinRim && nearRimHeight {
				scored = true
				return true
			}
		}
		return false
	})
	final := traj[len(traj)-1]

	verdict := VerdictMiss
	if scored {
		verdict = VerdictScore
	}
	return ShotResult{
		Trajectory: traj,
		Final:      final,
		Verdict:    verdict,
		Hash:       hashResult(matchID, shotIndex, final, verdict),
	}
}

// ValidationOutcome is the shadow validator's verdict comparing a
// client-reported result against the server simulation (spec §4.5).
type ValidationOutcome string

const (
	OutcomeValid             ValidationOutcome = "valid"
	OutcomeMinorDiscrepancy  ValidationOutcome = "minor_discrepancy"
	OutcomeMajorDiscrepancy  ValidationOutcome = "major_discrepancy"
	OutcomeFraudSuspected    ValidationOutcome = "fraud_suspected"
)

// RequiresReview reports whether this outcome demands human review
// (spec §4.5).
func (o ValidationOutcome) RequiresReview() bool {
	return o == OutcomeMajorDiscrepancy || o == OutcomeFraudSuspected
}

// ValidateShot compares a client-reported verdict/position against the
// server's own simulation of the same shot (spec §4.5).
func ValidateShot(serverVerdict Verdict, serverFinal Vec3, clientVerdict Verdict, clientFinal Vec3) ValidationOutcome {
	delta := serverFinal.sub(clientFinal).norm()
	match := serverVerdict == clientVerdict

	switch {
	case match && delta <= 5:
		return OutcomeValid
	case match:
		return OutcomeMinorDiscrepancy
	case delta <= 15:
		return OutcomeMajorDiscrepancy
	default:
		return OutcomeFraudSuspected
	}
}
