package aim

import (
	"errors"
	"fmt"
	"math"

	"driftpursuit/aimsolver/internal/physics"
)

var (
	// ErrNoSolution is the single failure surfaced to callers of the solvers.
	ErrNoSolution = errors.New("no intercept solution")
	// ErrInvalidInput marks non-finite vectors or a non-positive launch speed.
	ErrInvalidInput = errors.New("invalid aim input")
	// ErrDegenerateModel marks constants or geometry the model cannot be evaluated with.
	ErrDegenerateModel = errors.New("degenerate aim model")
)

// stationarySpan is the speed below which a target counts as not moving.
const stationarySpan = 1e-9

// Guard validates the shared solver inputs before any physics runs.
func Guard(shooter, target, velocity physics.Vec3, speed float64) error {
	//1.- Every component must be a real number for the arithmetic below to mean anything.
	if !shooter.IsFinite() {
		return fmt.Errorf("%w: shooter position is not finite", ErrInvalidInput)
	}
	if !target.IsFinite() {
		return fmt.Errorf("%w: target position is not finite", ErrInvalidInput)
	}
	if !velocity.IsFinite() {
		return fmt.Errorf("%w: target velocity is not finite", ErrInvalidInput)
	}
	if !isFinite(speed) || speed <= 0 {
		return fmt.Errorf("%w: launch speed must be positive, got %v", ErrInvalidInput, speed)
	}
	//2.- A parked target sitting on the muzzle leaves no heading to solve for.
	rel := target.Sub(shooter)
	if rel.Length() < minDirectionLength && velocity.Length() < stationarySpan {
		return fmt.Errorf("%w: stationary target coincides with shooter", ErrDegenerateModel)
	}
	return nil
}

// GuardDragModel rejects drag ratios for which the decay term divides by zero or has no
// fractional powers.
func GuardDragModel(profile Profile) error {
	if !(profile.DragRatio > 0) {
		return fmt.Errorf("%w: drag ratio %v must be positive", ErrDegenerateModel, profile.DragRatio)
	}
	rMinus1 := profile.DragRatio - 1
	if !isFinite(rMinus1) || math.Abs(rMinus1) < degenerateSpan {
		return fmt.Errorf("%w: drag ratio %v", ErrDegenerateModel, profile.DragRatio)
	}
	if !isFinite(profile.Gravity) {
		return fmt.Errorf("%w: gravity is not finite", ErrDegenerateModel)
	}
	return nil
}

// GuardQuadraticModel rejects gravity values that collapse the closed form to a linear equation.
func GuardQuadraticModel(profile Profile) error {
	if !isFinite(profile.Gravity) || math.Abs(profile.Gravity) < degenerateSpan {
		return fmt.Errorf("%w: gravity %v", ErrDegenerateModel, profile.Gravity)
	}
	return nil
}
