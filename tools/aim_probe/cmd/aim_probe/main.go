package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"driftpursuit/aimsolver/internal/aim"
	"driftpursuit/aimsolver/internal/auth"
	aimgrpc "driftpursuit/aimsolver/internal/grpc"
	"driftpursuit/aimsolver/internal/targeting"
	"driftpursuit/aimsolver/internal/wire"
	aimprobe "driftpursuit/aimsolver/tools/aim_probe"
)

func main() {
	shooterFlag := flag.String("shooter", "0,0,0", "shooter position as x,y,z")
	targetFlag := flag.String("target", "", "target position as x,y,z")
	velocityFlag := flag.String("velocity", "0,0,0", "target velocity per tick as x,y,z")
	speed := flag.Float64("speed", aim.DefaultLaunchSpeed, "launch speed per tick")
	drag := flag.Float64("drag", aim.DefaultDragRatio, "per tick drag ratio")
	gravity := flag.Float64("gravity", aim.DefaultGravity, "per tick gravity")
	fallback := flag.Bool("fallback", true, "allow the quadratic fallback")
	remote := flag.String("grpc", "", "solve against a running service at host:port instead of locally")
	secret := flag.String("secret", os.Getenv("AIM_GRPC_SHARED_SECRET"), "shared secret for the gRPC service")
	verify := flag.Bool("verify", false, "replay the answer through the projectile model")
	withPath := flag.Bool("path", false, "with -verify, include the stepped per-tick flight path")
	mint := flag.String("mint-token", "", "print a stream token for this subject and exit")
	ttl := flag.Duration("token-ttl", time.Hour, "lifetime of minted stream tokens")
	flag.Parse()

	if *mint != "" {
		authority, err := auth.NewAuthority(os.Getenv("AIM_STREAM_TOKEN_SECRET"), auth.DefaultLeeway)
		if err != nil {
			fail(1, err)
		}
		token, err := authority.Issue(*mint, *ttl)
		if err != nil {
			fail(1, err)
		}
		fmt.Println(token)
		return
	}

	shooter, err := aimprobe.ParseVec3(*shooterFlag)
	if err != nil {
		fail(1, err)
	}
	target, err := aimprobe.ParseVec3(*targetFlag)
	if err != nil {
		fail(1, err)
	}
	velocity, err := aimprobe.ParseVec3(*velocityFlag)
	if err != nil {
		fail(1, err)
	}
	profile := aim.Profile{DragRatio: *drag, Gravity: *gravity, LaunchSpeed: *speed}
	req := wire.AimRequest{
		Shooter:     &shooter,
		Target:      &target,
		Velocity:    velocity,
		LaunchSpeed: &profile.LaunchSpeed,
		DragRatio:   &profile.DragRatio,
		Gravity:     &profile.Gravity,
		Fallback:    fallback,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp wire.AimResponse
	if *remote == "" {
		resp = targeting.NewService(profile, *fallback).Solve(ctx, req)
	} else {
		resp, err = solveRemote(ctx, *remote, *secret, req)
		if err != nil {
			fail(2, err)
		}
	}

	output := struct {
		Response   wire.AimResponse `json:"response"`
		Check      *aimprobe.Check  `json:"check,omitempty"`
		CheckError string           `json:"check_error,omitempty"`
	}{Response: resp}
	if *verify && resp.OK {
		check, err := aimprobe.Verify(req, resp, profile)
		if err != nil {
			output.CheckError = err.Error()
		} else {
			if *withPath {
				check.Path = aimprobe.Path(shooter, resp.Direction.Scale(profile.LaunchSpeed), profile, resp.FlightTime)
			}
			output.Check = &check
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		fail(3, err)
	}
	if !resp.OK {
		os.Exit(4)
	}
}

func solveRemote(ctx context.Context, address, secret string, req wire.AimRequest) (wire.AimResponse, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return wire.AimResponse{}, err
	}
	defer conn.Close()
	if secret != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, aimgrpc.SharedSecretMetadataKey, secret)
	}
	return aimgrpc.NewClient(conn).Solve(ctx, req, aimgrpc.CompressedCall())
}

func fail(code int, err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(code)
}
