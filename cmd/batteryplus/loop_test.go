package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setBattery writes the sysfs files a tick reads. Voltage goes in as
// microvolts, matching what power_supply drivers report.
func setBattery(t *testing.T, dir, status string, mv int) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "voltage_now"), []byte(strconv.Itoa(mv*1000)+"\n"), 0644))
}

type tickHarness struct {
	m   *monitor
	now *time.Time
	bat string
}

func newTickHarness(t *testing.T) *tickHarness {
	sysfs := t.TempDir()
	bat := filepath.Join(sysfs, "BAT0")
	require.NoError(t, os.MkdirAll(bat, 0755))
	setBattery(t, bat, "Discharging", 3800)

	paths, err := findBattery(sysfs)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	m := &monitor{
		paths:            paths,
		store:            openCalibration(filepath.Join(t.TempDir(), "voltage.map")),
		filter:           newVoltageFilter(),
		fullTimeoutTicks: chargeFullFallbackTicks(internalIntervalSeconds),
	}
	m.exp = &exposure{
		percentFile:   filepath.Join(t.TempDir(), "battery.percent"),
		writeInterval: writeIntervalSeconds * time.Second,
		hooks:         &hookCache{},
		visible:       -1,
		lastBucket:    -1,
	}
	m.exp.now = func() time.Time { return now }
	return &tickHarness{m: m, now: &now, bat: bat}
}

func TestFindBatteryPrefersBatteryNames(t *testing.T) {
	sysfs := t.TempDir()
	for _, name := range []string{"AC", "BAT0"} {
		dir := filepath.Join(sysfs, name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		setBattery(t, dir, "Discharging", 3800)
	}

	paths, err := findBattery(sysfs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sysfs, "BAT0", "status"), paths.status)
	assert.Equal(t, filepath.Join(sysfs, "BAT0", "voltage_now"), paths.voltage)
}

func TestFindBatteryFallsBackToAnySupply(t *testing.T) {
	sysfs := t.TempDir()
	dir := filepath.Join(sysfs, "axp20x-supply")
	require.NoError(t, os.MkdirAll(dir, 0755))
	setBattery(t, dir, "Discharging", 3800)

	paths, err := findBattery(sysfs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "voltage_now"), paths.voltage)
}

func TestFindBatteryNoneIsAnError(t *testing.T) {
	_, err := findBattery(t.TempDir())
	assert.Error(t, err)
}

func TestReadVoltageMV(t *testing.T) {
	dir := t.TempDir()
	write := func(content string) string {
		p := filepath.Join(dir, "voltage_now")
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	assert.Equal(t, 3800, readVoltageMV(write("3800\n")))
	assert.Equal(t, 3800, readVoltageMV(write("3800000\n"))) // microvolts
	assert.Equal(t, -1, readVoltageMV(write("garbage\n")))
	assert.Equal(t, -1, readVoltageMV(filepath.Join(dir, "missing")))
}

func TestReadChargeStatus(t *testing.T) {
	p := filepath.Join(t.TempDir(), "status")
	require.NoError(t, os.WriteFile(p, []byte("Charging\n"), 0644))
	assert.Equal(t, "Charging", readChargeStatus(p))
	assert.Equal(t, "Unknown", readChargeStatus(p+".missing"))
}

func TestTickDischargeMapsAndExposes(t *testing.T) {
	h := newTickHarness(t)

	h.m.runTick(false)

	assert.Equal(t, 3800, h.m.rawMV)
	assert.Equal(t, 3800, h.m.adjMV) // no droop correction off the charger
	assert.Equal(t, 78, h.m.internal)
	assert.Equal(t, 78, h.m.exp.visible)

	data, err := os.ReadFile(h.m.exp.percentFile)
	require.NoError(t, err)
	assert.Equal(t, "78\n", string(data))
}

func TestTickChargingAppliesDroop(t *testing.T) {
	h := newTickHarness(t)
	setBattery(t, h.bat, "Charging", 3800)

	h.m.runTick(false)

	assert.Equal(t, 3750, h.m.adjMV) // default 50mV droop subtracted
	assert.Equal(t, 70, h.m.internal)
}

func TestTickFullStatusLearnsVFullOncePerEvent(t *testing.T) {
	h := newTickHarness(t)
	setBattery(t, h.bat, "Full", 4100)

	h.m.runTick(false)
	assert.Equal(t, 100, h.m.internal)
	assert.Equal(t, 100, h.m.exp.visible)
	assert.Equal(t, 4010, h.m.store.vals.VFull)

	// Still full: the event already fired, the value must not creep.
	h.m.runTick(false)
	assert.Equal(t, 4010, h.m.store.vals.VFull)

	// Unplug, then a fresh charge-to-full event calibrates again.
	setBattery(t, h.bat, "Discharging", 4100)
	h.m.runTick(false)
	setBattery(t, h.bat, "Full", 4100)
	h.m.runTick(false)
	assert.Equal(t, 4020, h.m.store.vals.VFull)
}

func TestTickChargingCapsAt99UntilFallback(t *testing.T) {
	h := newTickHarness(t)
	h.m.fullTimeoutTicks = 3
	setBattery(t, h.bat, "Charging", 4300)

	h.m.runTick(false)
	assert.Equal(t, 99, h.m.internal)
	assert.Equal(t, 99, h.m.exp.visible)

	h.m.runTick(false)
	assert.Equal(t, 99, h.m.internal)

	// Third consecutive charging tick at >=99: treat as full even though
	// the PMIC never said so.
	*h.now = h.now.Add(30 * time.Second)
	h.m.runTick(false)
	assert.Equal(t, 100, h.m.internal)
	assert.Equal(t, 100, h.m.exp.visible)
	assert.Equal(t, 4010, h.m.store.vals.VFull)
}

func TestTickDroopLearnedAcrossUnplugEdge(t *testing.T) {
	h := newTickHarness(t)

	setBattery(t, h.bat, "Charging", 3900)
	for i := 0; i < 3; i++ {
		h.m.runTick(false)
	}
	require.True(t, h.m.droopArmed)
	require.Equal(t, 50, h.m.store.vals.VDroop)

	// The voltage relaxes once the charger stops pushing current.
	setBattery(t, h.bat, "Discharging", 3820)
	for i := 0; i < 3; i++ {
		h.m.runTick(false)
	}
	assert.Equal(t, 55, h.m.store.vals.VDroop)
	assert.False(t, h.m.droopArmed)

	// One sample per edge.
	h.m.runTick(false)
	assert.Equal(t, 55, h.m.store.vals.VDroop)
}

func TestTickResetRePrimesFilterOnBigJump(t *testing.T) {
	h := newTickHarness(t)
	h.m.runTick(false)
	require.Equal(t, 78, h.m.exp.visible)

	// The smoothing makes a real 300mV drop crawl in over many ticks.
	setBattery(t, h.bat, "Discharging", 3500)
	h.m.runTick(false)
	require.Equal(t, 78, h.m.internal)

	// A reset wipes the filter history so the next mapping is honest.
	h.m.runTick(true)
	assert.Equal(t, 68, h.m.internal)
	assert.Equal(t, 68, h.m.exp.visible)
	assert.Equal(t, 3500, h.m.filter.ema)

	h.m.runTick(false)
	assert.Equal(t, 30, h.m.internal)
}

func TestTickResetSmallJumpKeepsFilter(t *testing.T) {
	h := newTickHarness(t)
	h.m.runTick(false)
	require.Equal(t, 78, h.m.exp.visible)

	h.m.runTick(true)
	assert.Equal(t, 3800, h.m.filter.ema)
	assert.Equal(t, 78, h.m.exp.visible)
}

func TestTickAppendsReading(t *testing.T) {
	h := newTickHarness(t)
	h.m.readings = &readingsLog{path: filepath.Join(t.TempDir(), "readings.csv")}

	h.m.runTick(false)

	data, err := os.ReadFile(h.m.readings.path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], ", 3800, 3800, 3800, 78, 78, Discharging"), "line=%q", lines[0])
}

func TestKeepLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.csv")
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		b.WriteString("line")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))

	require.NoError(t, keepLastLines(path, 3))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line8\nline9\nline10\n", string(data))

	// Missing file is fine.
	assert.NoError(t, keepLastLines(path+".missing", 3))
}

func TestTickSecondsFloor(t *testing.T) {
	assert.Equal(t, 1, tickSeconds(0))
	assert.Equal(t, 1, tickSeconds(-5))
	assert.Equal(t, 10, tickSeconds(10))
}

func TestChargeFullFallbackTicks(t *testing.T) {
	assert.Equal(t, 180, chargeFullFallbackTicks(10))
	assert.Equal(t, 30, chargeFullFallbackTicks(60))
	assert.Equal(t, 180, chargeFullFallbackTicks(0))
}
