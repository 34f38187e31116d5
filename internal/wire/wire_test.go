package wire

import (
	"errors"
	"strings"
	"testing"

	"driftpursuit/aimsolver/internal/aim"
	"driftpursuit/aimsolver/internal/physics"
)

func TestDecodeRequestAppliesOverrides(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"id":"a","tick":4,"shooter":{"x":0,"y":0,"z":0},"target":{"x":0,"y":0,"z":20},"launch_speed":2.5,"gravity":0,"fallback":false}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	profile := req.Profile(aim.DefaultProfile())
	if profile.LaunchSpeed != 2.5 || profile.Gravity != 0 || profile.DragRatio != aim.DefaultDragRatio {
		t.Fatalf("unexpected merged profile %+v", profile)
	}
	if req.UseFallback(true) {
		t.Fatal("expected explicit fallback=false to win")
	}
}

func TestDecodeRequestRejectsUnknownFields(t *testing.T) {
	if _, err := DecodeRequest(strings.NewReader(`{"shooter":{},"target":{},"bogus":1}`)); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
	if _, err := DecodeRequest(strings.NewReader(`{"shooter":{},"target":{}} {}`)); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestValidateRequiresPositions(t *testing.T) {
	if err := (AimRequest{Target: &physics.Vec3{}}).Validate(); !errors.Is(err, ErrMissingVectors) {
		t.Fatalf("expected ErrMissingVectors, got %v", err)
	}
}

func TestFromSolutionIncludesOrientation(t *testing.T) {
	resp := FromSolution(AimRequest{ID: "x", Tick: 9}, aim.Solution{
		Direction:  physics.Vec3{Z: 1},
		FlightTime: 6.5,
		Strategy:   aim.StrategyDrag,
		Phase:      aim.PhaseBracket,
	})
	if !resp.OK || resp.Direction == nil || resp.Orientation == nil || resp.Tick != 9 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Strategy != "drag" || resp.Phase != "bracket" {
		t.Fatalf("unexpected metadata %+v", resp)
	}
}

func TestFailureCollapsesCauses(t *testing.T) {
	resp := Failure(AimRequest{ID: "y"}, errors.New("discriminant -1.5"))
	if resp.OK || resp.Error != aim.ErrNoSolution.Error() {
		t.Fatalf("unexpected failure %+v", resp)
	}
}
