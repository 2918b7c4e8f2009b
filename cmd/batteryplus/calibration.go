package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Mikhailzrick/knubat.components/atomicfile"
)

// Map defaults used until a device learns its own values.
const (
	defaultVFull  = 4000 // mV, absolute ceiling, learned per device
	defaultVEmpty = 3250 // mV, fixed, never learned
	defaultVDroop = 50   // mV, offset applied while charging, learned per device
)

// Calibration is the persisted record of the three voltage parameters.
type Calibration struct {
	VFull  int
	VEmpty int
	VDroop int
}

func defaultCalibration() Calibration {
	return Calibration{VFull: defaultVFull, VEmpty: defaultVEmpty, VDroop: defaultVDroop}
}

// repaired applies the sanity invariants and returns the repaired record plus
// whether anything had to change. An implausible V_FULL resets V_EMPTY too,
// the pair is probably garbage.
func (c Calibration) repaired() (Calibration, bool) {
	changed := false
	if c.VEmpty < 3000 || c.VEmpty > 3400 {
		c.VEmpty = defaultVEmpty
		changed = true
	}
	if c.VFull < c.VEmpty+300 || c.VFull > 4400 {
		c.VFull = defaultVFull
		c.VEmpty = defaultVEmpty
		changed = true
	}
	if c.VDroop <= 1 || c.VDroop > 300 {
		c.VDroop = defaultVDroop
		changed = true
	}
	return c, changed
}

// parseCalibration reads KEY=value lines. Missing keys keep their defaults
// and are reported so the caller can force a re-save.
func parseCalibration(data []byte) (Calibration, bool) {
	c := defaultCalibration()
	var foundFull, foundEmpty, foundDroop bool
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "V_FULL="):
			if v, err := strconv.Atoi(strings.TrimSpace(line[len("V_FULL="):])); err == nil {
				c.VFull = v
				foundFull = true
			}
		case strings.HasPrefix(line, "V_EMPTY="):
			if v, err := strconv.Atoi(strings.TrimSpace(line[len("V_EMPTY="):])); err == nil {
				c.VEmpty = v
				foundEmpty = true
			}
		case strings.HasPrefix(line, "V_DROOP="):
			if v, err := strconv.Atoi(strings.TrimSpace(line[len("V_DROOP="):])); err == nil {
				c.VDroop = v
				foundDroop = true
			}
		}
	}
	return c, foundFull && foundEmpty && foundDroop
}

// calibrationStore owns the on-disk map. Single writer, atomic
// replace-on-write, no locking needed.
type calibrationStore struct {
	path string
	vals Calibration
}

// openCalibration loads the map, repairing out-of-range values back to
// defaults. A repaired or missing map is written back immediately so other
// tools always see a valid file. Never fails: corrupt calibration is
// self-healing, not an error.
func openCalibration(path string) *calibrationStore {
	s := &calibrationStore{path: path, vals: defaultCalibration()}

	data, err := os.ReadFile(path)
	if err != nil {
		s.save()
		return s
	}

	vals, complete := parseCalibration(data)
	repairedVals, repairedAny := vals.repaired()
	s.vals = repairedVals
	if repairedAny {
		log.Warnf("Calibration map had out-of-range values, repaired to V_FULL=%d V_EMPTY=%d V_DROOP=%d",
			s.vals.VFull, s.vals.VEmpty, s.vals.VDroop)
	}
	if !complete || repairedAny {
		s.save()
	}
	return s
}

// save persists the record atomically. Best effort: a failed write leaves the
// in-memory values authoritative and a later save will catch up.
func (s *calibrationStore) save() {
	data := fmt.Sprintf("V_FULL=%d\nV_EMPTY=%d\nV_DROOP=%d\n", s.vals.VFull, s.vals.VEmpty, s.vals.VDroop)
	if err := atomicfile.WriteString(s.path, data, 0644); err != nil {
		log.Warnf("Could not save calibration map: %v", err)
	}
}

// V_FULL learning: a bounded 75/25 blend toward the smoothed voltage
// observed at a charge-to-full event.
const (
	vfullMaxStep     = 50 // mV, max movement per calibration event
	vfullMinMeaning  = 5  // mV, raw changes under this are noise
	vdroopMinMeaning = 3  // mV
)

// learnVFull nudges V_FULL toward emaMV. Returns true if the record changed
// and was persisted.
func (s *calibrationStore) learnVFull(rawMV, emaMV int) bool {
	if rawMV <= 0 || emaMV <= 0 {
		return false
	}

	old := s.vals.VFull
	diff := emaMV - old
	if absInt(diff) < vfullMinMeaning {
		return false
	}

	// Don't let a single calibration change it too much.
	if diff > vfullMaxStep {
		diff = vfullMaxStep
	}
	if diff < -vfullMaxStep {
		diff = -vfullMaxStep
	}

	// 75% old, 25% new.
	blended := (3*old + (old + diff)) / 4

	// Quantize to only keep meaningful changes.
	quantized := ((blended + 2) / 5) * 5

	if absInt(quantized-old) < vfullMinMeaning {
		return false
	}
	s.vals.VFull = quantized
	s.save()
	return true
}

// learnVDroop blends the observed charging-to-discharging voltage drop into
// V_DROOP. The sample is the last charging EMA minus the first stable
// discharging reading; implausible drops are rejected outright.
func (s *calibrationStore) learnVDroop(lastChargingEMA, dischargeMV int) bool {
	if lastChargingEMA <= 0 || dischargeMV <= 0 {
		return false
	}

	sample := lastChargingEMA - dischargeMV
	if sample <= 1 || sample >= 300 {
		return false
	}

	old := s.vals.VDroop
	if old <= 0 {
		old = defaultVDroop
	}

	// 85% old, 15% new.
	blended := (17*old + 3*sample) / 20

	// Per-event step clamp, then global range.
	if blended > old+10 {
		blended = old + 10
	}
	if blended < old-5 {
		blended = old - 5
	}
	blended = clampInt(blended, 5, 250)

	quantized := ((blended + 2) / 5) * 5

	if absInt(quantized-s.vals.VDroop) < vdroopMinMeaning {
		return false
	}
	s.vals.VDroop = quantized
	s.save()
	return true
}
