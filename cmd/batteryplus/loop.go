package main

import (
	"strings"
	"time"
)

const (
	internalIntervalSeconds = 10

	// How long charging at >=99% internal counts as a full charge even if
	// the PMIC never reports "Full".
	chargeFullFallbackMinutes = 30

	// Ticks of stable status required on each side of a charge/discharge
	// edge before the droop learner uses it.
	droopStreakTicks = 3
)

// tickSeconds floors the configured interval so the loop always sleeps
// between ticks.
func tickSeconds(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func chargeFullFallbackTicks(intervalSeconds int) int {
	if intervalSeconds <= 0 {
		intervalSeconds = internalIntervalSeconds
	}
	return chargeFullFallbackMinutes * 60 / intervalSeconds
}

// monitor owns all per-tick battery state. Everything runs on one goroutine;
// the signal flags are the only cross-goroutine state.
type monitor struct {
	paths  *batteryPaths
	store  *calibrationStore
	filter *voltageFilter
	exp    *exposure

	fullTimeoutTicks int

	internal          int
	chargingStreak    int
	dischargingStreak int
	droopArmed        bool
	lastChargingEMA   int
	vfullRecorded     bool

	// Current tick readings, kept for change reporting.
	rawMV    int
	emaMV    int
	adjMV    int
	statusTx string

	readings    *readingsLog
	dbusEnabled bool
	telemetry   telemetryPublisher
}

// runTick executes one cycle of the estimation pipeline: read, filter,
// droop-compensate, map to percent, learn, expose.
func (m *monitor) runTick(reset bool) {
	raw := readVoltageMV(m.paths.voltage)
	status := readChargeStatus(m.paths.status)

	statusFull := strings.HasPrefix(status, "Full")
	charging := statusFull || strings.HasPrefix(status, "Charging")

	m.rawMV = raw
	m.statusTx = status

	if charging {
		m.chargingStreak++
		m.dischargingStreak = 0
		if m.chargingStreak >= droopStreakTicks {
			m.droopArmed = true
		}
	} else {
		m.dischargingStreak++
		m.chargingStreak = 0
		// Re-arm full-voltage learning for the next charge cycle.
		m.vfullRecorded = false
	}

	med, ema := m.filter.Update(raw, m.store.vals.VFull)
	m.emaMV = ema

	// Droop compensation applies only while on the charger. Prefer the
	// stable visible percent to pick the correction band; fall back to a
	// draft percent straight from the EMA.
	voltageForPercent := ema
	if charging {
		approx := m.exp.visible
		if approx < 0 {
			approx = voltageToPercent(ema, m.store.vals)
		}
		droop := dynamicDroopMV(approx, m.store.vals)
		if droop > 0 {
			voltageForPercent = clampInt(ema-droop, m.store.vals.VEmpty, m.store.vals.VFull)
		}
	}
	m.adjMV = voltageForPercent

	m.internal = voltageToPercent(voltageForPercent, m.store.vals)

	timeoutFull := charging && m.internal >= 99 && m.chargingStreak >= m.fullTimeoutTicks

	// Hold 99 while charging until the PMIC reports full (or the fallback
	// timeout fires), then show 100.
	if charging {
		if statusFull || timeoutFull {
			m.internal = 100
		} else if m.internal > 99 {
			m.internal = 99
		}
	}

	// A reset re-primes the filter when this is the first value or the
	// jump is meaningful; the snap takes effect from the next tick.
	if reset {
		first := m.exp.visible < 0
		delta := 0
		if !first {
			delta = absInt(m.internal - m.exp.visible)
		}
		if first || delta >= 3 {
			m.filter.Reset(raw)
		}
	}

	// Learn V_FULL once per charge-to-full event.
	if !m.vfullRecorded && (statusFull || timeoutFull) && raw > 0 {
		if m.store.learnVFull(raw, ema) {
			log.Infof("Calibrated V_FULL to %dmV", m.store.vals.VFull)
		}
		m.vfullRecorded = true
	}

	m.exp.update(m.internal, charging, reset)

	// Learn droop once per charge/discharge edge, after both sides have
	// been stable for a few ticks.
	if m.droopArmed && !charging && m.dischargingStreak >= droopStreakTicks {
		if m.lastChargingEMA > 0 && med > 0 {
			if m.store.learnVDroop(m.lastChargingEMA, med) {
				log.Infof("Calibrated V_DROOP to %dmV", m.store.vals.VDroop)
			}
		}
		m.droopArmed = false
	}

	if charging {
		m.lastChargingEMA = ema
	}

	if m.readings != nil {
		if err := m.readings.append(raw, ema, voltageForPercent, m.internal, m.exp.visible, status); err != nil {
			log.Debugf("Could not log reading: %v", err)
		}
	}

	log.Debugf("Tick: raw=%dmV ema=%dmV adj=%dmV internal=%d%% visible=%d%% status=%s",
		raw, ema, voltageForPercent, m.internal, m.exp.visible, status)
}

// reportChange is called by the exposure controller on every visible percent
// change. All reporting is best effort.
func (m *monitor) reportChange(visible int, charging bool) {
	if visible >= 0 && visible <= lowPctThreshold && !charging {
		log.Warnf("Low battery: %d%%", visible)
	}
	if m.dbusEnabled {
		if err := sendBatterySignal(m.emaMV, visible); err != nil {
			log.Error("Error sending battery signal: ", err)
		}
	}
	if m.telemetry != nil {
		if err := m.telemetry.Publish(m.statusPayload(visible)); err != nil {
			log.Error("Error publishing battery telemetry: ", err)
		}
	}
}

// run ticks until stop is requested. The inter-tick sleep happens in one
// second slices so a stop or reset cuts it short instead of waiting out the
// full interval.
func (m *monitor) run(flags *signalFlags, interval time.Duration) {
	trimTime := time.Now()
	for !flags.stop.Load() {
		reset := flags.reset.Swap(false)
		m.runTick(reset)

		if m.readings != nil && time.Since(trimTime) > 24*time.Hour {
			if err := keepLastLines(m.readings.path, readingsMaxLines); err != nil {
				log.Warnf("Could not truncate readings file: %v", err)
			} else {
				trimTime = time.Now()
			}
		}

		for slept := time.Duration(0); slept < interval; slept += time.Second {
			if flags.stop.Load() || flags.reset.Load() {
				break
			}
			time.Sleep(time.Second)
		}
	}
}
