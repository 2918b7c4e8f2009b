package main

// EMA weights, equivalent to a smoothing factor of 0.2.
const (
	emaAlphaNum = 2
	emaAlphaDen = 10
)

// voltageFilter smooths raw readings with a median-of-3 de-spike stage
// followed by an integer exponential moving average. All values are
// millivolts, -1 means unset.
type voltageFilter struct {
	prev1 int
	prev2 int
	ema   int
}

func newVoltageFilter() *voltageFilter {
	return &voltageFilter{prev1: -1, prev2: -1, ema: -1}
}

func median3(a, b, c int) int {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b, c = c, b
	}
	if a > b {
		a, b = b, a
	}
	return b
}

// Update feeds one raw reading into the filter and returns the de-spiked
// value plus the updated EMA. A non-positive raw reading means no new sample:
// the filter holds its last value. seed primes the history when no sample has
// ever been seen.
func (f *voltageFilter) Update(raw, seed int) (med, ema int) {
	if f.prev1 < 0 {
		if raw > 0 {
			f.prev1 = raw
		} else {
			f.prev1 = seed
		}
	}
	if f.prev2 < 0 {
		f.prev2 = f.prev1
	}

	sample := raw
	if sample <= 0 {
		sample = f.prev1
	}

	med = median3(f.prev2, f.prev1, sample)
	f.prev2 = f.prev1
	f.prev1 = sample

	if f.ema < 0 {
		f.ema = med
	} else {
		f.ema = (emaAlphaNum*med + (emaAlphaDen-emaAlphaNum)*f.ema) / emaAlphaDen
	}
	return med, f.ema
}

// Reset snaps the whole filter state to raw when a reading is available,
// otherwise clears it so it re-primes over the next ticks.
func (f *voltageFilter) Reset(raw int) {
	if raw > 0 {
		f.prev1, f.prev2, f.ema = raw, raw, raw
	} else {
		f.prev1, f.prev2, f.ema = -1, -1, -1
	}
}
