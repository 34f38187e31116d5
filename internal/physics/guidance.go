package physics

import "math"

// Orientation expresses a launch direction as Euler angles in degrees.
type Orientation struct {
	YawDeg   float64 `json:"yaw_deg"`
	PitchDeg float64 `json:"pitch_deg"`
}

// OrientationFor converts a direction into yaw around +Y (zero along +Z) and pitch above the horizon.
func OrientationFor(direction Vec3) (Orientation, bool) {
	//1.- Guard against missing prerequisites so callers can skip aim application.
	unit := direction.Normalize()
	if unit == (Vec3{}) {
		return Orientation{}, false
	}
	//2.- Compute yaw and pitch angles from the unit vector.
	horizontal := math.Sqrt(unit.X*unit.X + unit.Z*unit.Z)
	yaw := 0.0
	if horizontal != 0 {
		yaw = math.Atan2(unit.X, unit.Z) * 180.0 / math.Pi
	}
	pitch := math.Atan2(unit.Y, horizontal) * 180.0 / math.Pi
	return Orientation{YawDeg: wrapAngleDeg(yaw), PitchDeg: wrapAngleDeg(pitch)}, true
}

// wrapAngleDeg normalizes an angle to the [-180, 180) range.
func wrapAngleDeg(angle float64) float64 {
	//1.- Use math.Mod to keep values bounded.
	wrapped := math.Mod(angle+180.0, 360.0)
	if wrapped < 0 {
		wrapped += 360.0
	}
	return wrapped - 180.0
}
