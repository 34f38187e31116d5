package audit

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"driftpursuit/aimsolver/internal/logging"
)

// RetentionPolicy bounds how many audit bundles stay on disk and for how long.
type RetentionPolicy struct {
	MaxBundles int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of retained bundles.
type StorageStats struct {
	Bundles   int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner prunes audit bundles under a root directory.
type Cleaner struct {
	mu     sync.RWMutex
	root   string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

type bundleDir struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// NewCleaner constructs a cleaner for the provided audit root.
func NewCleaner(root string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{root: root, policy: policy, log: logger, now: time.Now}
}

// Run sweeps immediately and then on every interval until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stats returns the figures recorded by the last sweep.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Sweep applies the retention policy once.
func (c *Cleaner) Sweep() {
	if c == nil || strings.TrimSpace(c.root) == "" {
		return
	}
	entries, err := os.ReadDir(c.root)
	if err != nil {
		c.log.Warn("audit retention scan failed", logging.Error(err), logging.String("directory", c.root))
		return
	}

	//1.- Only directories holding a manifest count as bundles; anything else is left alone.
	bundles := c.collect(entries)
	now := c.now()
	stats := StorageStats{LastSweep: now}
	kept := 0
	for _, bundle := range bundles {
		if remove, reason := c.shouldRemove(bundle, now, kept); remove {
			err := os.RemoveAll(bundle.path)
			if err == nil {
				c.log.Info("audit retention removed bundle", logging.String("bundle", bundle.name), logging.String("reason", reason))
				continue
			}
			c.log.Warn("audit retention removal failed", logging.Error(err), logging.String("bundle", bundle.name))
		}
		kept++
		stats.Bundles++
		stats.Bytes += bundle.size
	}

	//2.- Publish the refreshed figures for the metrics handler.
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []bundleDir {
	bundles := make([]bundleDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.root, entry.Name())
		info, err := os.Stat(filepath.Join(path, manifestFile))
		if err != nil {
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("audit retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		bundles = append(bundles, bundleDir{name: entry.Name(), path: path, size: size, modTime: info.ModTime()})
	}
	//1.- Newest first so the bundle cap keeps recent sessions.
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) shouldRemove(bundle bundleDir, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(bundle.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxBundles > 0 && kept >= c.policy.MaxBundles {
		reasons = append(reasons, fmt.Sprintf(">=%d bundles", c.policy.MaxBundles))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
