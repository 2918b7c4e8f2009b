package main

import (
	"os"
	"os/exec"
	"path/filepath"
)

var hookSubdirs = []string{"active.d", "idle.d", "extended.d"}

func ensureHookLayout(root string) {
	for _, d := range hookSubdirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			log.Warnf("Could not create hook directory %s: %v", d, err)
		}
	}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0111 != 0
}

// hookRunner fires transition scripts across the primary hooks root and the
// optional mirror root.
type hookRunner struct {
	roots []string
}

func newHookRunner(root, mirror string) *hookRunner {
	r := &hookRunner{roots: []string{root}}
	ensureHookLayout(root)
	if mirror != "" {
		ensureHookLayout(mirror)
		r.roots = append(r.roots, mirror)
	}
	return r
}

// run starts every executable in the state's hook directories with the state
// name as the only argument. Hooks are never awaited: a slow script cannot
// stall a state transition. Children are reaped in the background.
func (r *hookRunner) run(s watchState) {
	for _, root := range r.roots {
		runHookDir(filepath.Join(root, s.String()+".d"), s.String())
	}
}

func runHookDir(dir, arg string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Name()[0] == '.' {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !isExecutable(path) {
			continue
		}
		cmd := exec.Command(path, arg)
		if err := cmd.Start(); err != nil {
			log.Debugf("Hook %s: %v", path, err)
			continue
		}
		go func() { _ = cmd.Wait() }()
	}
}
