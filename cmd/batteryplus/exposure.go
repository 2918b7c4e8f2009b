package main

import (
	"strconv"
	"time"

	"github.com/Mikhailzrick/knubat.components/atomicfile"
)

// Exposure timing. The write interval is halved near empty and while
// charging so the UI reacts faster where it matters.
const (
	writeIntervalSeconds = 60
	lowPctThreshold      = 10
)

// exposure decouples the frequently recomputed internal percent from the
// slowly advancing percent exposed to the UI. The visible value only ever
// changes through update.
type exposure struct {
	percentFile   string
	writeInterval time.Duration
	hooks         *hookCache

	visible    int // -1 until the first write
	lastBucket int // -1 until the first bucket firing
	lastWrite  time.Time

	now      func() time.Time
	onChange func(visible int, charging bool)
}

// update applies one tick's exposure policy:
//   - first value ever snaps straight to internal
//   - a reset with a delta of 3 points or more forces an immediate snap,
//     smaller deltas catch up through the normal step limit
//   - otherwise visible moves toward internal by at most 1 point per write
//     opportunity, opportunities spaced writeInterval apart
//
// Bucket hooks fire when the written value lands on a new multiple of 5; on
// reset ticks where they didn't, the wildcards run once instead.
func (e *exposure) update(internal int, charging, reset bool) {
	first := e.visible < 0

	delta := 0
	if !first {
		delta = absInt(internal - e.visible)
	}

	now := e.now()
	needWrite := false
	if first {
		needWrite = true
	} else if internal != e.visible {
		interval := e.writeInterval
		if internal <= lowPctThreshold || charging {
			interval /= 2
		}
		if reset && delta >= 3 {
			needWrite = true
		} else if now.Sub(e.lastWrite) >= interval {
			needWrite = true
		}
	}

	hooksFired := false
	if needWrite {
		newVisible := e.visible
		if first || (reset && delta >= 3) {
			newVisible = internal
		} else {
			newVisible = stepLimit(e.visible, internal, charging)
		}

		if newVisible != e.visible {
			e.visible = newVisible
			if err := atomicfile.WriteString(e.percentFile, strconv.Itoa(newVisible)+"\n", 0644); err != nil {
				log.Warnf("Could not write percent file: %v", err)
			}
			e.lastWrite = now

			if e.onChange != nil {
				e.onChange(newVisible, charging)
			}

			// Fire once, on exact 5% increments only.
			if newVisible%5 == 0 && newVisible != e.lastBucket {
				e.hooks.runBucket(charging, newVisible)
				e.lastBucket = newVisible
				hooksFired = true
			}
		}
	}

	if reset && !hooksFired {
		e.hooks.runWildcards(charging)
	}
}
