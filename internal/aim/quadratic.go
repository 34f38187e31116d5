package aim

import (
	"fmt"
	"math"

	"driftpursuit/aimsolver/internal/physics"
)

// maxQuadraticFlightTime discards roots too far in the future to be meaningful.
const maxQuadraticFlightTime = 1e6

// SolveQuadratic is the drag-free backup: it solves the gravity-only quadratic in closed form.
// The drag ratio of the profile is ignored. Every failure is reported as ErrNoSolution.
func SolveQuadratic(shooter, target, velocity physics.Vec3, profile Profile) (Solution, error) {
	if err := Guard(shooter, target, velocity, profile.LaunchSpeed); err != nil {
		return Solution{}, noSolution(err)
	}
	if err := GuardQuadraticModel(profile); err != nil {
		return Solution{}, noSolution(err)
	}
	rel := target.Sub(shooter)
	g := profile.Gravity
	s := profile.LaunchSpeed

	//1.- Build the coefficients of a·t² + b·t + c = 0.
	a := 0.5 * g
	b := -(s*velocity.Y + 0.5*g*rel.Y)
	c := s * rel.Dot(velocity)
	if !finiteAll(a, b, c) {
		return Solution{}, noSolution(fmt.Errorf("non-finite coefficients"))
	}
	discriminant := b*b - 4*a*c
	if !isFinite(discriminant) || discriminant < 0 {
		return Solution{}, noSolution(fmt.Errorf("discriminant %v", discriminant))
	}
	denom := 2 * a
	if !isFinite(denom) || math.Abs(denom) < degenerateSpan {
		return Solution{}, noSolution(fmt.Errorf("degenerate leading coefficient"))
	}

	//2.- Keep the earliest strictly positive root.
	sqrtDisc := math.Sqrt(discriminant)
	t, ok := earliestPositive((-b+sqrtDisc)/denom, (-b-sqrtDisc)/denom)
	if !ok || !isFinite(t) || t > maxQuadraticFlightTime {
		return Solution{}, noSolution(fmt.Errorf("no positive flight time"))
	}

	//3.- Aim at the target's position at t, dropped by the same gravity sag.
	aimPoint := physics.Vec3{
		X: rel.X + velocity.X*t,
		Y: rel.Y + velocity.Y*t - 0.5*g*t*t,
		Z: rel.Z + velocity.Z*t,
	}
	direction, ok := acceptDirection(aimPoint)
	if !ok {
		return Solution{}, noSolution(fmt.Errorf("degenerate aim point"))
	}
	return Solution{
		Direction:  direction,
		FlightTime: t,
		Strategy:   StrategyQuadratic,
		Phase:      PhaseClosedForm,
	}, nil
}

// SolveQuadraticIntercept solves the fallback with the default gravity at the supplied speed.
func SolveQuadraticIntercept(shooter, target, velocity physics.Vec3, speed float64) (physics.Vec3, bool) {
	solution, err := SolveQuadratic(shooter, target, velocity, DefaultProfile().WithLaunchSpeed(speed))
	if err != nil {
		return physics.Vec3{}, false
	}
	return solution.Direction, true
}

func earliestPositive(t1, t2 float64) (float64, bool) {
	switch {
	case t1 > 0 && t2 > 0:
		return math.Min(t1, t2), true
	case t1 > 0:
		return t1, true
	case t2 > 0:
		return t2, true
	default:
		return 0, false
	}
}
