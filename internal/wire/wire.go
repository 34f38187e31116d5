// Package wire defines the JSON payloads exchanged by every aim transport.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"driftpursuit/aimsolver/internal/aim"
	"driftpursuit/aimsolver/internal/physics"
)

// ErrMissingVectors marks a request that omitted the shooter or target position.
var ErrMissingVectors = errors.New("shooter and target positions are required")

// AimRequest asks for a launch direction. Nil profile fields inherit the server profile.
type AimRequest struct {
	ID          string        `json:"id,omitempty"`
	Tick        uint64        `json:"tick,omitempty"`
	Shooter     *physics.Vec3 `json:"shooter"`
	Target      *physics.Vec3 `json:"target"`
	Velocity    physics.Vec3  `json:"velocity"`
	LaunchSpeed *float64      `json:"launch_speed,omitempty"`
	DragRatio   *float64      `json:"drag_ratio,omitempty"`
	Gravity     *float64      `json:"gravity,omitempty"`
	Fallback    *bool         `json:"fallback,omitempty"`
}

// AimResponse reports the outcome of a single solve.
type AimResponse struct {
	ID          string               `json:"id"`
	Tick        uint64               `json:"tick,omitempty"`
	OK          bool                 `json:"ok"`
	Direction   *physics.Vec3        `json:"direction,omitempty"`
	Orientation *physics.Orientation `json:"orientation,omitempty"`
	FlightTime  float64              `json:"flight_time,omitempty"`
	Residual    float64              `json:"residual,omitempty"`
	Strategy    string               `json:"strategy,omitempty"`
	Phase       string               `json:"phase,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Validate checks the structural shape of the request; numeric checks belong to the solver guard.
func (r AimRequest) Validate() error {
	if r.Shooter == nil || r.Target == nil {
		return ErrMissingVectors
	}
	return nil
}

// Profile merges the request overrides over the supplied base profile.
func (r AimRequest) Profile(base aim.Profile) aim.Profile {
	profile := base
	if r.LaunchSpeed != nil {
		profile.LaunchSpeed = *r.LaunchSpeed
	}
	if r.DragRatio != nil {
		profile.DragRatio = *r.DragRatio
	}
	if r.Gravity != nil {
		profile.Gravity = *r.Gravity
	}
	return profile
}

// UseFallback resolves the fallback switch against the server default.
func (r AimRequest) UseFallback(def bool) bool {
	if r.Fallback != nil {
		return *r.Fallback
	}
	return def
}

// FromSolution renders a successful solve.
func FromSolution(req AimRequest, solution aim.Solution) AimResponse {
	direction := solution.Direction
	resp := AimResponse{
		ID:         req.ID,
		Tick:       req.Tick,
		OK:         true,
		Direction:  &direction,
		FlightTime: solution.FlightTime,
		Residual:   solution.Residual,
		Strategy:   string(solution.Strategy),
		Phase:      string(solution.Phase),
	}
	if orientation, ok := physics.OrientationFor(direction); ok {
		resp.Orientation = &orientation
	}
	return resp
}

// Failure renders an unsuccessful solve. Every cause maps to the same public message.
func Failure(req AimRequest, err error) AimResponse {
	message := aim.ErrNoSolution.Error()
	if errors.Is(err, ErrMissingVectors) {
		message = err.Error()
	}
	return AimResponse{ID: req.ID, Tick: req.Tick, OK: false, Error: message}
}

// DecodeRequest reads one JSON request, rejecting unknown fields and trailing data.
func DecodeRequest(r io.Reader) (AimRequest, error) {
	var req AimRequest
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return AimRequest{}, fmt.Errorf("decode aim request: %w", err)
	}
	if decoder.More() {
		return AimRequest{}, errors.New("decode aim request: trailing data")
	}
	return req, nil
}
