package main

import (
	"flag"
	"fmt"
	"os"

	auditcatalog "driftpursuit/aimsolver/tools/audit_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing audit bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := auditcatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := auditcatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (version %d)\n", entry.BundlePath, entry.Manifest.Version)
		fmt.Printf("  created: %s\n", entry.Manifest.CreatedAt)
		fmt.Printf("  frame interval: %d ms\n", entry.Manifest.FrameIntervalMs)
	}
}
