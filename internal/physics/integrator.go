package physics

import "math"

// Projectile tracks the state of a single shot advanced one tick at a time.
type Projectile struct {
	Position Vec3
	Velocity Vec3
}

// Step advances the projectile by one tick: move, decay by the drag ratio, then fall.
func (p *Projectile) Step(dragRatio, gravity float64) {
	if p == nil {
		return
	}
	//1.- Translate using the velocity held at the start of the tick.
	p.Position = p.Position.Add(p.Velocity)
	//2.- Apply exponential decay before gravity so the closed form stays exact at whole ticks.
	p.Velocity = p.Velocity.Scale(dragRatio)
	p.Velocity.Y -= gravity
}

// DragDisplacement evaluates the closed-form displacement of the stepped model after t ticks.
// Fractional t interpolates the same geometric series. It reports false when the drag ratio is
// degenerate or an intermediate overflows.
func DragDisplacement(launch Vec3, dragRatio, gravity, t float64) (Vec3, bool) {
	rMinus1 := dragRatio - 1
	if !finite(rMinus1) || math.Abs(rMinus1) < 1e-12 || !finite(t) {
		return Vec3{}, false
	}
	rt := math.Pow(dragRatio, t)
	if !finite(rt) {
		return Vec3{}, false
	}
	//1.- The horizontal channels follow the geometric series of the decaying velocity.
	series := (rt - 1) / rMinus1
	//2.- Gravity accumulates into the same decay, giving the second-order drop term.
	drop := gravity * (rt - dragRatio*t + t - 1) / (rMinus1 * rMinus1)
	out := Vec3{X: launch.X * series, Y: launch.Y*series - drop, Z: launch.Z * series}
	if !out.IsFinite() {
		return Vec3{}, false
	}
	return out, true
}
