package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// batteryPaths holds the two sysfs files the daemon polls. They are owned by
// the kernel's power_supply class; we only ever read them.
type batteryPaths struct {
	status  string
	voltage string
}

var batteryNamePatterns = []string{"BAT", "bat", "FUEL", "fuel"}

func hasRequiredFiles(dir string) bool {
	for _, f := range []string{"status", "voltage_now"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return false
		}
	}
	return true
}

// findBattery searches sysfsDir for a power supply exposing both a status and
// a voltage_now file. Battery-like names are preferred, then anything that
// qualifies. It is an error if nothing qualifies, the daemon is useless
// without a voltage source.
func findBattery(sysfsDir string) (*batteryPaths, error) {
	entries, err := os.ReadDir(sysfsDir)
	if err != nil {
		return nil, fmt.Errorf("no power supply class at %s: %w", sysfsDir, err)
	}

	matches := func(name string) bool {
		for _, p := range batteryNamePatterns {
			if strings.Contains(name, p) {
				return true
			}
		}
		return false
	}

	for _, e := range entries {
		if !matches(e.Name()) {
			continue
		}
		dir := filepath.Join(sysfsDir, e.Name())
		if hasRequiredFiles(dir) {
			return &batteryPaths{
				status:  filepath.Join(dir, "status"),
				voltage: filepath.Join(dir, "voltage_now"),
			}, nil
		}
	}

	// Fallback: any power supply with the required files.
	for _, e := range entries {
		dir := filepath.Join(sysfsDir, e.Name())
		if hasRequiredFiles(dir) {
			return &batteryPaths{
				status:  filepath.Join(dir, "status"),
				voltage: filepath.Join(dir, "voltage_now"),
			}, nil
		}
	}

	return nil, fmt.Errorf("no battery detected under %s", sysfsDir)
}

func readFirstLine(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	line := string(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimRight(line, " \t\r"), true
}

// readVoltageMV reads the raw sensor value and normalizes it to millivolts.
// Values of 100000 or more are taken to be microvolts. Returns -1 when the
// file is unreadable or not a number.
func readVoltageMV(path string) int {
	line, ok := readFirstLine(path)
	if !ok {
		return -1
	}
	raw, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return -1
	}
	if raw >= 100000 {
		raw /= 1000
	}
	return raw
}

// readChargeStatus returns the first line of the status file, "Unknown" when
// it cannot be read.
func readChargeStatus(path string) string {
	line, ok := readFirstLine(path)
	if !ok {
		return "Unknown"
	}
	return line
}
