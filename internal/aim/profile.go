package aim

const (
	// DefaultDragRatio is the fraction of velocity an arrow keeps after one tick.
	DefaultDragRatio = 0.99
	// DefaultGravity is the downward acceleration applied per tick squared.
	DefaultGravity = 0.05
	// DefaultLaunchSpeed is the muzzle speed of a fully charged shot in units per tick.
	DefaultLaunchSpeed = 3.0
)

// Profile bundles the physical constants a solve runs against. Profiles are plain values so
// several projectile types can be solved side by side.
type Profile struct {
	DragRatio   float64 `json:"drag_ratio"`
	Gravity     float64 `json:"gravity"`
	LaunchSpeed float64 `json:"launch_speed"`
}

// DefaultProfile returns the standard arrow tuning.
func DefaultProfile() Profile {
	return Profile{DragRatio: DefaultDragRatio, Gravity: DefaultGravity, LaunchSpeed: DefaultLaunchSpeed}
}

// WithLaunchSpeed returns a copy of the profile using the supplied muzzle speed.
func (p Profile) WithLaunchSpeed(speed float64) Profile {
	p.LaunchSpeed = speed
	return p
}
