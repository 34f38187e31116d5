package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	auditplayer "driftpursuit/aimsolver/tools/audit_player"
)

func main() {
	path := flag.String("path", "", "Path to an audit bundle directory or manifest.json")
	summaryOnly := flag.Bool("summary", false, "Print only the bundle summary")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	manifest, events, frames, summary, err := auditplayer.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	var payload any = summary
	if !*summaryOnly {
		payload = struct {
			Manifest any                 `json:"manifest"`
			Summary  auditplayer.Summary `json:"summary"`
			Events   any                 `json:"events"`
			Frames   any                 `json:"frames"`
		}{Manifest: manifest, Summary: summary, Events: events, Frames: frames}
	}

	//1.- Render as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
