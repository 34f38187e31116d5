package aim

import (
	"math"

	"driftpursuit/aimsolver/internal/physics"
)

const (
	// minDirectionLength rejects candidates too short to normalise reliably.
	minDirectionLength = 0.01
	// degenerateSpan is the magnitude below which a drag or quadratic denominator counts as zero.
	degenerateSpan = 1e-12
)

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteAll(values ...float64) bool {
	for _, value := range values {
		if !isFinite(value) {
			return false
		}
	}
	return true
}

// acceptDirection normalises a candidate once it is finite and long enough to carry a heading.
func acceptDirection(candidate physics.Vec3) (physics.Vec3, bool) {
	if !candidate.IsFinite() {
		return physics.Vec3{}, false
	}
	length := candidate.Length()
	if !isFinite(length) || length <= minDirectionLength {
		return physics.Vec3{}, false
	}
	return candidate.Scale(1 / length), true
}
