// Package auditcatalog lists audit bundles found under a directory tree.
package auditcatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"driftpursuit/aimsolver/internal/audit"
)

// Entry captures a bundle manifest alongside its directory.
type Entry struct {
	BundlePath string         `json:"bundle_path"`
	Manifest   audit.Manifest `json:"manifest"`
}

// List walks root and returns every bundle whose manifest parses, oldest first.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "manifest.json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var manifest audit.Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		entries = append(entries, Entry{BundlePath: filepath.Dir(path), Manifest: manifest})
		return nil
	})
	if err != nil {
		return nil, err
	}
	//1.- RFC3339 timestamps sort lexically; ties fall back to the path.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].BundlePath < entries[j].BundlePath
		}
		return entries[i].Manifest.CreatedAt < entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
