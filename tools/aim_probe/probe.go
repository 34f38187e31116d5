// Package aimprobe checks solver answers by replaying the launch through the projectile model.
package aimprobe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"driftpursuit/aimsolver/internal/aim"
	"driftpursuit/aimsolver/internal/physics"
	"driftpursuit/aimsolver/internal/wire"
)

const maxPathTicks = 10000

// ErrNotReplayable marks answers whose model has no flight path to replay.
var ErrNotReplayable = errors.New("solution cannot be replayed")

// Check reports where a launched shot lands relative to the moving target.
type Check struct {
	Impact physics.Vec3   `json:"impact"`
	Target physics.Vec3   `json:"target"`
	Miss   float64        `json:"miss"`
	Path   []physics.Vec3 `json:"path,omitempty"`
}

// Verify replays a drag-model answer through the closed-form flight path.
func Verify(req wire.AimRequest, resp wire.AimResponse, base aim.Profile) (Check, error) {
	if !resp.OK || resp.Direction == nil {
		return Check{}, fmt.Errorf("response carries no solution: %s", resp.Error)
	}
	if err := req.Validate(); err != nil {
		return Check{}, err
	}
	//1.- Only the drag model is kinematically exact; the quadratic fallback is a heuristic heading.
	if resp.Strategy != string(aim.StrategyDrag) {
		return Check{}, fmt.Errorf("%w: strategy %q", ErrNotReplayable, resp.Strategy)
	}
	profile := req.Profile(base)
	launch := resp.Direction.Scale(profile.LaunchSpeed)
	t := resp.FlightTime
	displacement, ok := physics.DragDisplacement(launch, profile.DragRatio, profile.Gravity, t)
	if !ok {
		return Check{}, fmt.Errorf("drag displacement undefined at t=%g", t)
	}
	impact := req.Shooter.Add(displacement)
	target := req.Target.Add(req.Velocity.Scale(t))
	return Check{Impact: impact, Target: target, Miss: impact.Sub(target).Length()}, nil
}

// Path steps the launch tick by tick and returns the arrow's position after each whole tick
// of the flight.
func Path(shooter, launch physics.Vec3, profile aim.Profile, flightTime float64) []physics.Vec3 {
	if !(flightTime >= 1) || flightTime > maxPathTicks {
		return nil
	}
	projectile := physics.Projectile{Position: shooter, Velocity: launch}
	path := make([]physics.Vec3, 0, int(flightTime))
	for tick := 1; tick <= int(flightTime); tick++ {
		projectile.Step(profile.DragRatio, profile.Gravity)
		path = append(path, projectile.Position)
	}
	return path
}

// ParseVec3 reads an "x,y,z" triple.
func ParseVec3(raw string) (physics.Vec3, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return physics.Vec3{}, fmt.Errorf("vector %q must have three comma separated components", raw)
	}
	var values [3]float64
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return physics.Vec3{}, fmt.Errorf("vector %q: %w", raw, err)
		}
		values[i] = value
	}
	return physics.Vec3{X: values[0], Y: values[1], Z: values[2]}, nil
}
