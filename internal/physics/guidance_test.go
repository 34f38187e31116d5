package physics

import (
	"math"
	"testing"
)

func TestOrientationForAxes(t *testing.T) {
	cases := []struct {
		name  string
		dir   Vec3
		yaw   float64
		pitch float64
	}{
		{name: "forward", dir: Vec3{Z: 1}, yaw: 0, pitch: 0},
		{name: "right", dir: Vec3{X: 5}, yaw: 90, pitch: 0},
		{name: "up", dir: Vec3{Y: 2}, yaw: 0, pitch: 90},
		{name: "diagonal", dir: Vec3{X: 1, Y: 1, Z: 0}, yaw: 90, pitch: 45},
	}
	for _, tc := range cases {
		orientation, ok := OrientationFor(tc.dir)
		if !ok {
			t.Fatalf("%s: expected orientation", tc.name)
		}
		if math.Abs(orientation.YawDeg-tc.yaw) > 1e-9 || math.Abs(orientation.PitchDeg-tc.pitch) > 1e-9 {
			t.Fatalf("%s: got %+v", tc.name, orientation)
		}
	}
}

func TestOrientationForRejectsZero(t *testing.T) {
	if _, ok := OrientationFor(Vec3{}); ok {
		t.Fatal("zero vector has no orientation")
	}
}

func TestNormalizeNonFinite(t *testing.T) {
	if got := (Vec3{X: math.Inf(1)}).Normalize(); got != (Vec3{}) {
		t.Fatalf("expected zero vector, got %+v", got)
	}
	if (Vec3{X: math.NaN()}).IsFinite() {
		t.Fatal("NaN component must not be finite")
	}
}
