package main

import "math"

// Curve constants. These are tuned heuristics carried over from deployed
// devices, not derived from battery chemistry; treat as tunables.
const (
	percentGamma = 1.20 // >1 compresses the low end so the mid-range doesn't stick

	droopFactorMax  = 2.0 // droop multiplier at 0%
	droopLowBandMax = 30  // percent above which no extra droop is applied
	droopShapeExp   = 2.0 // >1.0 weights the correction toward 0%
)

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// dynamicDroopMV computes the charging-induced voltage offset to subtract
// before mapping to percent. The learned base droop is inflated near empty,
// where charging current makes the voltage bump proportionally larger.
func dynamicDroopMV(approxPct int, c Calibration) int {
	approxPct = clampInt(approxPct, 0, 100)

	rangeMV := c.VFull - c.VEmpty

	base := c.VDroop
	if base <= 0 {
		base = defaultVDroop
	}

	factor := 1.0
	if approxPct < droopLowBandMax {
		t := float64(approxPct) / droopLowBandMax
		w := 1.0 - math.Min(math.Max(t, 0.0), 1.0)
		factor = 1.0 + (droopFactorMax-1.0)*math.Pow(w, droopShapeExp)
	}

	droop := int(math.Round(float64(base) * factor))

	// At most half the voltage window, never less than 10mV.
	return clampInt(droop, 10, rangeMV/2)
}

// voltageToPercent maps a millivolt value onto 0-100 using the calibrated
// curve. Pure function, no side effects.
//
// 100 is reserved for a window below the droop-adjusted ceiling so ripple
// near full doesn't flicker between 99 and 100. A non-positive input returns
// 1, deliberately not 0, so a sensor fault looks distinct from a dead
// battery.
func voltageToPercent(mv int, c Calibration) int {
	if mv <= 0 {
		return 1
	}

	droop := c.VDroop
	if droop <= 0 {
		droop = defaultVDroop
	}
	droop = clampInt(droop, 10, 150)

	vfullAdj := c.VFull - droop
	if vfullAdj <= c.VEmpty+50 {
		vfullAdj = c.VEmpty + 50
	}

	window := int(math.Round(float64(c.VFull-c.VEmpty) * 0.03))
	window = clampInt(window, 10, 30)

	v100Start := vfullAdj - window
	if v100Start < c.VEmpty+50 {
		v100Start = c.VEmpty + 50
	}

	if mv >= v100Start {
		return 100
	}

	clamped := clampInt(mv, c.VEmpty, v100Start)
	rangeAdj := v100Start - c.VEmpty
	x := 0.0
	if rangeAdj > 0 {
		x = float64(clamped-c.VEmpty) / float64(rangeAdj)
	}
	x = math.Min(math.Max(x, 0.0), 1.0)

	shaped := math.Pow(x, percentGamma)

	// Floor of 1: the battery protection circuit cuts power before true
	// zero, so 0% would never be a state the user actually sees.
	return clampInt(int(math.Round(shaped*100.0)), 1, 99)
}

// stepLimit advances the visible percent toward target by at most one point,
// and only in the safe direction: never down while charging, never up while
// discharging or unknown.
func stepLimit(last, target int, charging bool) int {
	if last < 0 {
		return target // first value
	}
	if charging {
		if target <= last {
			return last
		}
		if target <= last+1 {
			return target
		}
		return last + 1
	}
	if target >= last {
		return last
	}
	if target >= last-1 {
		return target
	}
	return last - 1
}
