package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mikhailzrick/knubat.components/atomicfile"
)

const (
	defaultIdleSeconds     = 900
	defaultExtendedSeconds = 3600
	defaultAxisDeadzone    = 0.15

	minTimerSeconds = 60
	maxTimerSeconds = 12 * 60 * 60
)

// watchConfig holds the tunables read from the config file. Paths come from
// the command line, timing and filtering from here.
type watchConfig struct {
	idle        time.Duration
	extended    time.Duration // measured from idle onset, not from boot
	axisDzPct   float64
	hooksMirror string
}

func defaultWatchConfig() watchConfig {
	return watchConfig{
		idle:      defaultIdleSeconds * time.Second,
		extended:  defaultExtendedSeconds * time.Second,
		axisDzPct: defaultAxisDeadzone,
	}
}

// parsePosSeconds accepts a whole number of seconds up to 12 hours, -1 for
// anything else.
func parsePosSeconds(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > maxTimerSeconds {
		return -1
	}
	return v
}

// parseWatchConfig reads KEY=value lines. Comments, blank lines, [section]
// headers and unknown keys are ignored; out-of-range values keep their
// defaults. Timer values under a minute are rejected, a sub-minute idle
// timeout is always a typo.
func parseWatchConfig(data []byte) watchConfig {
	cfg := defaultWatchConfig()
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "idle":
			if n := parsePosSeconds(val); n >= minTimerSeconds {
				cfg.idle = time.Duration(n) * time.Second
			}
		case "extended":
			if n := parsePosSeconds(val); n >= minTimerSeconds {
				cfg.extended = time.Duration(n) * time.Second
			}
		case "hooks_mirror":
			if val != "" {
				cfg.hooksMirror = val
			}
		case "ABS_Deadzone":
			// Accepts a ratio like 0.2 or a percent like 20.
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				if v > 1.0 {
					v /= 100.0
				}
				if v < 0 {
					v = 0
				}
				if v > 0.90 {
					v = 0.90
				}
				cfg.axisDzPct = v
			}
		}
	}
	return cfg
}

// loadWatchConfig reads the config file, writing a commented default first
// if none exists so users have something to edit.
func loadWatchConfig(path string) watchConfig {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		def := fmt.Sprintf("[Config]\nidle=%d\nextended=%d\nABS_Deadzone=%.3f\nhooks_mirror=\n",
			defaultIdleSeconds, defaultExtendedSeconds, defaultAxisDeadzone)
		if err := atomicfile.WriteString(path, def, 0644); err != nil {
			log.Warnf("Could not write default config: %v", err)
		}
		return defaultWatchConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("Could not read config %s: %v", path, err)
		return defaultWatchConfig()
	}
	return parseWatchConfig(data)
}
