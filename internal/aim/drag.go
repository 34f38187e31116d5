package aim

import (
	"fmt"
	"math"

	"driftpursuit/aimsolver/internal/physics"
)

const (
	// maxScanTicks caps the coarse scan; arrows rarely stay airborne longer.
	maxScanTicks = 300
	// residualTolerance is how close to unit length a candidate direction must be.
	residualTolerance = 0.001
	// maxRefineIterations bounds each bisection pass.
	maxRefineIterations = 70
	// refineSpan is the half width of the heuristic refinement window around the best tick.
	refineSpan = 20
	// openingProbe seeds the bracket for intercepts that land inside the first tick.
	openingProbe = 1e-3
)

// dragModel holds the per-call constants of the drag displacement equations.
type dragModel struct {
	rel      physics.Vec3
	velocity physics.Vec3
	r        float64
	rMinus1  float64
	gravity  float64
	speed    float64
}

// sample is a flight time paired with the launch vector it requires.
type sample struct {
	t         float64
	direction physics.Vec3
	magnitude float64
}

func (s sample) residual() float64 { return math.Abs(s.magnitude - 1) }

// SolveDrag finds the launch direction that intercepts the target under drag and gravity.
// Every failure is reported as ErrNoSolution.
func SolveDrag(shooter, target, velocity physics.Vec3, profile Profile) (Solution, error) {
	//1.- Validate inputs and constants before touching the decay term.
	if err := Guard(shooter, target, velocity, profile.LaunchSpeed); err != nil {
		return Solution{}, noSolution(err)
	}
	if err := GuardDragModel(profile); err != nil {
		return Solution{}, noSolution(err)
	}
	model := dragModel{
		rel:      target.Sub(shooter),
		velocity: velocity,
		r:        profile.DragRatio,
		rMinus1:  profile.DragRatio - 1,
		gravity:  profile.Gravity,
		speed:    profile.LaunchSpeed,
	}
	//2.- Run the bounded search; it either yields an accepted sample or nothing.
	solution, ok := model.solve()
	if !ok {
		return Solution{}, noSolution(fmt.Errorf("no flight time within %d ticks", maxScanTicks))
	}
	return solution, nil
}

// SolveDragIntercept solves with the default tuning at the supplied launch speed.
func SolveDragIntercept(shooter, target, velocity physics.Vec3, speed float64) (physics.Vec3, bool) {
	solution, err := SolveDrag(shooter, target, velocity, DefaultProfile().WithLaunchSpeed(speed))
	if err != nil {
		return physics.Vec3{}, false
	}
	return solution.Direction, true
}

// directionAt returns the launch vector, scaled by the launch speed, that reaches the target
// after t ticks. A unit-length result means a launch at the profile speed lands exactly on time.
func (m dragModel) directionAt(t float64) (physics.Vec3, bool) {
	if !isFinite(t) || t <= 0 {
		return physics.Vec3{}, false
	}
	rt := math.Pow(m.r, t)
	if !isFinite(rt) {
		return physics.Vec3{}, false
	}
	rtMinus1 := rt - 1
	if !isFinite(rtMinus1) || math.Abs(rtMinus1) < degenerateSpan {
		return physics.Vec3{}, false
	}
	horizFactor := m.rMinus1 / (m.speed * rtMinus1)
	gravTerm := m.gravity * (rt - m.r*t + t - 1) / m.rMinus1 / (m.speed * rtMinus1)
	if !finiteAll(horizFactor, gravTerm) {
		return physics.Vec3{}, false
	}
	direction := physics.Vec3{
		X: (m.rel.X + m.velocity.X*t) * horizFactor,
		Y: (m.rel.Y+m.velocity.Y*t)*horizFactor + gravTerm,
		Z: (m.rel.Z + m.velocity.Z*t) * horizFactor,
	}
	if !direction.IsFinite() {
		return physics.Vec3{}, false
	}
	return direction, true
}

func (m dragModel) sampleAt(t float64) (sample, bool) {
	direction, ok := m.directionAt(t)
	if !ok {
		return sample{}, false
	}
	magnitude := direction.Length()
	if !isFinite(magnitude) {
		return sample{}, false
	}
	return sample{t: t, direction: direction, magnitude: magnitude}, true
}

func (m dragModel) solve() (Solution, bool) {
	var best sample
	bestResidual := math.Inf(1)
	haveBest := false

	//1.- Seed the previous sample just after launch so sub-tick intercepts can be bracketed.
	prev, havePrev := m.sampleAt(openingProbe)
	for tick := 1; tick <= maxScanTicks; tick++ {
		current, ok := m.sampleAt(float64(tick))
		if !ok {
			havePrev = false
			continue
		}
		residual := current.residual()
		if residual < bestResidual {
			best, bestResidual, haveBest = current, residual, true
		}
		//2.- The earliest whole tick inside tolerance wins outright.
		if residual < residualTolerance {
			return m.accept(current, PhaseScan)
		}
		//3.- A crossing of unit length between neighbours brackets an earlier root than any later tick.
		if havePrev && crossesUnit(prev, current) {
			if root, found := m.bisectBracket(prev, current); found {
				return m.accept(root, PhaseBracket)
			}
		}
		prev, havePrev = current, true
	}
	if !haveBest {
		return Solution{}, false
	}
	//4.- No crossing was seen; fall back to the heuristic refinement around the closest tick.
	if root, found := m.refine(best.t); found {
		return m.accept(root, PhaseRefine)
	}
	return m.accept(best, PhaseBestSample)
}

func crossesUnit(a, b sample) bool {
	return (a.magnitude > 1) != (b.magnitude > 1)
}

// bisectBracket halves an interval whose end points straddle unit magnitude.
func (m dragModel) bisectBracket(lo, hi sample) (sample, bool) {
	for i := 0; i < maxRefineIterations; i++ {
		mid, ok := m.sampleAt((lo.t + hi.t) * 0.5)
		if !ok {
			return sample{}, false
		}
		if mid.residual() < residualTolerance {
			return mid, true
		}
		if (mid.magnitude > 1) == (lo.magnitude > 1) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return sample{}, false
}

// refine bisects the window around bestT assuming the magnitude is locally monotone. The
// assumption is not guaranteed, so the pass may stall on a non-optimal point; callers then use
// the best whole tick instead.
func (m dragModel) refine(bestT float64) (sample, bool) {
	low := math.Max(1, bestT-refineSpan)
	high := math.Min(maxScanTicks, bestT+refineSpan)
	for i := 0; i < maxRefineIterations; i++ {
		mid, ok := m.sampleAt((low + high) * 0.5)
		if !ok {
			break
		}
		if mid.residual() < residualTolerance {
			return mid, true
		}
		lowSample, okLow := m.sampleAt(low)
		highSample, okHigh := m.sampleAt(high)
		if !okLow || !okHigh {
			break
		}
		if mid.magnitude > 1 {
			if lowSample.magnitude < mid.magnitude {
				high = mid.t
			} else {
				low = mid.t
			}
		} else {
			if highSample.magnitude > mid.magnitude {
				low = mid.t
			} else {
				high = mid.t
			}
		}
	}
	return sample{}, false
}

func (m dragModel) accept(s sample, phase Phase) (Solution, bool) {
	direction, ok := acceptDirection(s.direction)
	if !ok {
		return Solution{}, false
	}
	return Solution{
		Direction:  direction,
		FlightTime: s.t,
		Residual:   s.residual(),
		Strategy:   StrategyDrag,
		Phase:      phase,
	}, true
}
