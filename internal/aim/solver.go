package aim

import (
	"fmt"

	"driftpursuit/aimsolver/internal/physics"
)

// Strategy names the model that produced a solution.
type Strategy string

const (
	StrategyDrag      Strategy = "drag"
	StrategyQuadratic Strategy = "quadratic"
)

// Phase names the search stage that accepted a solution.
type Phase string

const (
	PhaseScan       Phase = "scan"
	PhaseBracket    Phase = "bracket"
	PhaseRefine     Phase = "refine"
	PhaseBestSample Phase = "best_sample"
	PhaseClosedForm Phase = "closed_form"
)

// Solution is an accepted intercept: a unit launch direction and the flight time it implies.
type Solution struct {
	Direction  physics.Vec3
	FlightTime float64
	Residual   float64
	Strategy   Strategy
	Phase      Phase
}

// Solver chains the drag model with the optional quadratic fallback.
type Solver struct {
	Profile  Profile
	Fallback bool
}

// NewSolver constructs a solver for the provided profile.
func NewSolver(profile Profile, fallback bool) Solver {
	return Solver{Profile: profile, Fallback: fallback}
}

// Solve tries the drag model first and, when enabled, the quadratic fallback second.
func (s Solver) Solve(shooter, target, velocity physics.Vec3) (Solution, error) {
	solution, err := SolveDrag(shooter, target, velocity, s.Profile)
	if err == nil || !s.Fallback {
		return solution, err
	}
	return SolveQuadratic(shooter, target, velocity, s.Profile)
}

// noSolution collapses a failure cause into ErrNoSolution. The cause is kept as text for logs
// only, so errors.Is matches ErrNoSolution alone.
func noSolution(cause error) error {
	if cause == nil {
		return ErrNoSolution
	}
	return fmt.Errorf("%w: %v", ErrNoSolution, cause)
}
