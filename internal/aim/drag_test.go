package aim

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"driftpursuit/aimsolver/internal/physics"
)

func assertUnit(t *testing.T, label string, v physics.Vec3) {
	t.Helper()
	if !v.IsFinite() {
		t.Fatalf("%s: non-finite direction %+v", label, v)
	}
	if math.Abs(v.Length()-1) > 1e-6 {
		t.Fatalf("%s: expected unit length, got %.9f", label, v.Length())
	}
}

// assertLands replays the launch through the drag kinematics and checks it meets the target.
func assertLands(t *testing.T, label string, shooter, target, velocity physics.Vec3, profile Profile, solution Solution) {
	t.Helper()
	launch := solution.Direction.Scale(profile.LaunchSpeed)
	landed, ok := physics.DragDisplacement(launch, profile.DragRatio, profile.Gravity, solution.FlightTime)
	if !ok {
		t.Fatalf("%s: displacement rejected", label)
	}
	want := target.Sub(shooter).Add(velocity.Scale(solution.FlightTime))
	miss := landed.Sub(want).Length()
	if miss > 0.005*want.Length()+0.01 {
		t.Fatalf("%s: missed by %.4f at t=%.3f (landed %+v want %+v)", label, miss, solution.FlightTime, landed, want)
	}
}

func TestSolveDragStationaryTargetAhead(t *testing.T) {
	shooter := physics.Vec3{}
	target := physics.Vec3{Z: 20}
	profile := DefaultProfile()

	solution, err := SolveDrag(shooter, target, physics.Vec3{}, profile)
	if err != nil {
		t.Fatalf("SolveDrag: %v", err)
	}
	assertUnit(t, "ahead", solution.Direction)
	//1.- The flat shot lifts slightly to cover the sag while pointing mostly forward.
	if solution.Direction.Y <= 0 || solution.Direction.Y > 0.2 {
		t.Fatalf("expected small positive lift, got %+v", solution.Direction)
	}
	if solution.Direction.Z < 0.95 || math.Abs(solution.Direction.X) > 1e-12 {
		t.Fatalf("expected dominant forward component, got %+v", solution.Direction)
	}
	//2.- The earliest root sits between ticks six and seven, not on the lob near tick one hundred.
	if solution.FlightTime < 6 || solution.FlightTime > 7 {
		t.Fatalf("expected flight time in [6,7], got %.4f", solution.FlightTime)
	}
	if solution.Phase != PhaseScan && solution.Phase != PhaseBracket {
		t.Fatalf("expected the tick scan to find the root, got phase %q", solution.Phase)
	}
	if solution.Strategy != StrategyDrag || solution.Residual >= residualTolerance {
		t.Fatalf("unexpected solution metadata %+v", solution)
	}
	assertLands(t, "ahead", shooter, target, physics.Vec3{}, profile, solution)
}

func TestSolveDragTargetOverhead(t *testing.T) {
	for _, height := range []float64{5, 20, 50} {
		solution, err := SolveDrag(physics.Vec3{}, physics.Vec3{Y: height}, physics.Vec3{}, DefaultProfile())
		if err != nil {
			t.Fatalf("height %.0f: %v", height, err)
		}
		assertUnit(t, "overhead", solution.Direction)
		if solution.Direction.Y < 0.99 {
			t.Fatalf("height %.0f: expected vertical shot, got %+v", height, solution.Direction)
		}
		if solution.Residual >= residualTolerance {
			t.Fatalf("height %.0f: residual %.6f above tolerance", height, solution.Residual)
		}
	}
}

func TestSolveDragInsideFirstTick(t *testing.T) {
	solution, err := SolveDrag(physics.Vec3{}, physics.Vec3{Z: 1}, physics.Vec3{}, DefaultProfile())
	if err != nil {
		t.Fatalf("SolveDrag: %v", err)
	}
	if solution.FlightTime <= 0 || solution.FlightTime >= 1 {
		t.Fatalf("expected sub-tick flight time, got %.4f", solution.FlightTime)
	}
	if solution.Phase != PhaseBracket {
		t.Fatalf("expected bracket phase, got %q", solution.Phase)
	}
	assertUnit(t, "close", solution.Direction)
}

func TestSolveDragMovingTargetsLand(t *testing.T) {
	profile := DefaultProfile()
	cases := []struct {
		name     string
		shooter  physics.Vec3
		target   physics.Vec3
		velocity physics.Vec3
	}{
		{name: "crossing", target: physics.Vec3{X: 30, Y: 5, Z: 40}, velocity: physics.Vec3{X: 0.5, Z: -0.3}},
		{name: "offset shooter", shooter: physics.Vec3{X: 10, Y: 64, Z: -3}, target: physics.Vec3{X: 40, Y: 70, Z: 25}, velocity: physics.Vec3{X: 0.2, Y: 0.1, Z: 0.4}},
		{name: "receding", target: physics.Vec3{Z: 20}, velocity: physics.Vec3{Z: 0.5}},
		{name: "long range", target: physics.Vec3{X: 80}},
	}
	for _, tc := range cases {
		solution, err := SolveDrag(tc.shooter, tc.target, tc.velocity, profile)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		assertUnit(t, tc.name, solution.Direction)
		assertLands(t, tc.name, tc.shooter, tc.target, tc.velocity, profile, solution)
	}
}

func TestSolveDragOutOfRangeUsesBestSample(t *testing.T) {
	solution, err := SolveDrag(physics.Vec3{}, physics.Vec3{Z: 2000}, physics.Vec3{}, DefaultProfile())
	if err != nil {
		t.Fatalf("SolveDrag: %v", err)
	}
	if solution.Phase != PhaseBestSample {
		t.Fatalf("expected best sample fallback, got %q", solution.Phase)
	}
	if solution.Residual < residualTolerance {
		t.Fatalf("an unreachable target cannot meet tolerance, residual %.6f", solution.Residual)
	}
	assertUnit(t, "far", solution.Direction)
}

func TestRefineConvergesInsideWindow(t *testing.T) {
	model := dragModel{rel: physics.Vec3{Z: 20}, r: 0.99, rMinus1: -0.01, gravity: 0.05, speed: 3}

	root, ok := model.refine(7)
	if !ok {
		t.Fatal("expected refinement around tick 7 to converge")
	}
	if root.residual() >= residualTolerance {
		t.Fatalf("residual %.6f outside tolerance", root.residual())
	}
	if root.t < 6 || root.t > 7 {
		t.Fatalf("expected root between ticks 6 and 7, got t=%.4f", root.t)
	}
	if _, ok := acceptDirection(root.direction); !ok {
		t.Fatalf("refined direction %+v cannot be normalised", root.direction)
	}
}

func TestSolveDragTangentShotUsesRefine(t *testing.T) {
	//1.- At this speed the target sits near the edge of the envelope, so the magnitude dips to
	// unit length between ticks 30 and 31 without either tick crossing it.
	shooter := physics.Vec3{}
	target := physics.Vec3{Z: 23}
	profile := DefaultProfile().WithLaunchSpeed(1.166)

	solution, err := SolveDrag(shooter, target, physics.Vec3{}, profile)
	if err != nil {
		t.Fatalf("SolveDrag: %v", err)
	}
	if solution.Phase != PhaseRefine {
		t.Fatalf("expected refine phase, got %q at t=%.4f", solution.Phase, solution.FlightTime)
	}
	if solution.Residual >= residualTolerance {
		t.Fatalf("residual %.6f outside tolerance", solution.Residual)
	}
	if solution.FlightTime <= 30 || solution.FlightTime >= 31 {
		t.Fatalf("expected a sub-tick flight time between 30 and 31, got %.4f", solution.FlightTime)
	}
	assertUnit(t, "tangent", solution.Direction)
	assertLands(t, "tangent", shooter, target, physics.Vec3{}, profile, solution)
}

func TestSolveDragRejectsDegenerateInputs(t *testing.T) {
	target := physics.Vec3{Z: 20}
	for _, speed := range []float64{0, -3, math.NaN()} {
		if _, ok := SolveDragIntercept(physics.Vec3{}, target, physics.Vec3{}, speed); ok {
			t.Fatalf("speed %v should not solve", speed)
		}
	}
	for _, ratio := range []float64{1, 1 + 5e-13, 1 - 5e-13} {
		profile := DefaultProfile()
		profile.DragRatio = ratio
		if _, err := SolveDrag(physics.Vec3{}, target, physics.Vec3{}, profile); !errors.Is(err, ErrNoSolution) {
			t.Fatalf("ratio %v: expected ErrNoSolution, got %v", ratio, err)
		}
	}
	//1.- Failure causes collapse into the single public error.
	_, err := SolveDrag(physics.Vec3{}, target, physics.Vec3{}, DefaultProfile().WithLaunchSpeed(0))
	if !errors.Is(err, ErrNoSolution) || errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected only ErrNoSolution to match, got %v", err)
	}
	if _, ok := SolveDragIntercept(physics.Vec3{}, physics.Vec3{}, physics.Vec3{}, DefaultLaunchSpeed); ok {
		t.Fatal("target at the muzzle should not solve")
	}
}

func TestSolveDragWithoutGravity(t *testing.T) {
	profile := DefaultProfile()
	profile.Gravity = 0
	solution, err := SolveDrag(physics.Vec3{}, physics.Vec3{Z: 20}, physics.Vec3{}, profile)
	if err != nil {
		t.Fatalf("SolveDrag: %v", err)
	}
	if math.Abs(solution.Direction.Z-1) > 1e-9 {
		t.Fatalf("expected straight shot without gravity, got %+v", solution.Direction)
	}
}

func TestSolveDragReturnsUnitVectors(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	solved := 0
	for i := 0; i < 200; i++ {
		shooter := physics.Vec3{X: rng.Float64()*20 - 10, Y: rng.Float64()*10 + 60, Z: rng.Float64()*20 - 10}
		target := physics.Vec3{X: rng.Float64()*120 - 60, Y: rng.Float64()*30 + 50, Z: rng.Float64()*120 - 60}
		velocity := physics.Vec3{X: rng.Float64() - 0.5, Y: (rng.Float64() - 0.5) * 0.2, Z: rng.Float64() - 0.5}
		direction, ok := SolveDragIntercept(shooter, target, velocity, DefaultLaunchSpeed)
		if !ok {
			continue
		}
		solved++
		assertUnit(t, "random", direction)
	}
	if solved == 0 {
		t.Fatal("expected at least one random scenario to solve")
	}
}
