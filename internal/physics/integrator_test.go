package physics

import (
	"math"
	"testing"
)

func simulate(launch Vec3, dragRatio, gravity float64, steps int) Vec3 {
	projectile := Projectile{Velocity: launch}
	for i := 0; i < steps; i++ {
		projectile.Step(dragRatio, gravity)
	}
	return projectile.Position
}

func TestDragDisplacementMatchesSteppedSimulation(t *testing.T) {
	//1.- Launch along all three axes and compare the closed form with explicit ticks.
	launch := Vec3{X: 1, Y: 2, Z: 3}
	for _, steps := range []int{1, 2, 10, 57} {
		stepped := simulate(launch, 0.99, 0.05, steps)
		closed, ok := DragDisplacement(launch, 0.99, 0.05, float64(steps))
		if !ok {
			t.Fatalf("closed form rejected %d steps", steps)
		}
		if stepped.Sub(closed).Length() > 1e-9 {
			t.Fatalf("steps=%d: stepped %+v closed %+v", steps, stepped, closed)
		}
	}
}

func TestDragDisplacementRejectsDegenerateDrag(t *testing.T) {
	if _, ok := DragDisplacement(Vec3{Z: 1}, 1, 0.05, 10); ok {
		t.Fatal("expected unit drag ratio to be rejected")
	}
	if _, ok := DragDisplacement(Vec3{Z: 1}, math.NaN(), 0.05, 10); ok {
		t.Fatal("expected NaN drag ratio to be rejected")
	}
	if _, ok := DragDisplacement(Vec3{Z: 1}, 0.99, 0.05, math.Inf(1)); ok {
		t.Fatal("expected infinite time to be rejected")
	}
}

func TestProjectileStepAppliesDragThenGravity(t *testing.T) {
	p := &Projectile{Velocity: Vec3{X: 2, Y: 1}}
	p.Step(0.5, 0.25)
	if p.Position != (Vec3{X: 2, Y: 1}) {
		t.Fatalf("unexpected position %+v", p.Position)
	}
	if math.Abs(p.Velocity.X-1) > 1e-12 || math.Abs(p.Velocity.Y-0.25) > 1e-12 {
		t.Fatalf("unexpected velocity %+v", p.Velocity)
	}
	var missing *Projectile
	missing.Step(0.5, 0.25)
}
