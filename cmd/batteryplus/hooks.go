package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

const (
	numBuckets  = 21 // 0 -> 100 in 5% increments
	hookTimeout = 2 * time.Second
)

// hookCache is the immutable startup snapshot of the hook directories.
// Scripts added after startup are not picked up, a known limitation.
type hookCache struct {
	charging       [numBuckets][]string
	chargingAny    []string
	discharging    [numBuckets][]string
	dischargingAny []string
}

// parseLeadingBucket extracts a numeric prefix of up to three digits from a
// hook filename. Returns -1 when the name has no usable prefix (no leading
// digit, or a value over 100), which classifies it as a wildcard.
func parseLeadingBucket(name string) int {
	if name == "" || name[0] < '0' || name[0] > '9' {
		return -1
	}
	v := 0
	for i := 0; i < len(name) && i < 3 && name[i] >= '0' && name[i] <= '9'; i++ {
		v = v*10 + int(name[i]-'0')
	}
	if v > 100 {
		return -1
	}
	return v
}

func bucketIndex(percent int) int {
	return clampInt(percent, 0, 100) / 5
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0111 != 0
}

func scanHookDir(dir string) (buckets [numBuckets][]string, wildcards []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if !isExecutable(path) {
			continue
		}
		n := parseLeadingBucket(e.Name())
		switch {
		case n < 0:
			wildcards = append(wildcards, path)
		case n%5 == 0:
			buckets[n/5] = append(buckets[n/5], path)
		default:
			// Numeric prefix that isn't a 5% bucket, ignore.
		}
	}
	for i := range buckets {
		sort.Strings(buckets[i])
	}
	sort.Strings(wildcards)
	return
}

// loadHookCache creates the hook layout if missing and scans it once.
func loadHookCache(root string) *hookCache {
	for _, d := range []string{"charging.d", "discharging.d"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			log.Warnf("Could not create hook directory %s: %v", d, err)
		}
	}
	hc := &hookCache{}
	hc.charging, hc.chargingAny = scanHookDir(filepath.Join(root, "charging.d"))
	hc.discharging, hc.dischargingAny = scanHookDir(filepath.Join(root, "discharging.d"))
	return hc
}

// runHookFile executes one hook with stdout/stderr discarded. The spawn,
// bounded wait and forced kill are one scoped operation: when the context
// expires the child is killed and reaped before Run returns. A hook cannot
// fail the daemon, errors are only logged.
func runHookFile(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Warnf("Hook %s exceeded %v, killed", path, hookTimeout)
		} else {
			log.Debugf("Hook %s: %v", path, err)
		}
	}
}

// runHookPaths runs hooks in order, re-checking the exec bit just before each
// run so vanished or chmod-ed files are silently skipped.
func runHookPaths(paths []string) {
	for _, p := range paths {
		if isExecutable(p) {
			runHookFile(p)
		}
	}
}

// runBucket fires the hooks for one 5% bucket: the bucket's own entries
// first, then every wildcard.
func (hc *hookCache) runBucket(charging bool, percent int) {
	bi := bucketIndex(percent)
	if charging {
		runHookPaths(hc.charging[bi])
		runHookPaths(hc.chargingAny)
	} else {
		runHookPaths(hc.discharging[bi])
		runHookPaths(hc.dischargingAny)
	}
}

// runWildcards fires only the wildcard entries, used on reset ticks where no
// bucket hooks fired.
func (hc *hookCache) runWildcards(charging bool) {
	if charging {
		runHookPaths(hc.chargingAny)
	} else {
		runHookPaths(hc.dischargingAny)
	}
}
