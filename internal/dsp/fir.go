// Package dsp holds the fixed-point signal-processing kernels shared by the
// analog frontend and the oscillogram engine: the anti-alias FIR filter, the
// counter decimator, the moving-window sum used for effective-value
// computation, and the two oscillogram reducers (moving-average,
// majority-vote). None of it uses floating point.
package dsp

import "github.com/catompiler/pqrecorder/internal/q15"

// FIRTaps holds the fixed 23-tap symmetric low-pass coefficients, unity gain
// across the passband. Values are ROM constants, not configuration.
var FIRTaps = [23]q15.Q15{
	-72, -74, -66, 8, 218, 620, 1226, 1990, 2809, 3546, 4058,
	4242,
	4058, 3546, 2809, 1990, 1226, 620, 218, 8, -66, -74, -72,
}

// FIR is a circular-buffer symmetric FIR filter operating on Q15 samples.
type FIR struct {
	taps []q15.Q15
	buf  []q15.Q15
	pos  int
}

// NewFIR builds a FIR filter using the fixed ROM coefficient table.
func NewFIR() *FIR {
	f := &FIR{
		taps: FIRTaps[:],
		buf:  make([]q15.Q15, len(FIRTaps)),
	}
	return f
}

// Put shifts in one new sample and returns the filtered output, computed as
// a saturating Q15 multiply-accumulate across the full tap buffer.
func (f *FIR) Put(sample q15.Q15) q15.Q15 {
	f.buf[f.pos] = sample
	var mac q15.MAC
	// buf[pos] holds the newest sample; walk backwards from there through
	// the circular buffer so taps[0] always multiplies the newest sample.
	idx := f.pos
	for i := range f.taps {
		mac.Add(f.taps[i], f.buf[idx])
		idx--
		if idx < 0 {
			idx = len(f.buf) - 1
		}
	}
	f.pos++
	if f.pos == len(f.buf) {
		f.pos = 0
	}
	return mac.Result()
}

// Reset clears the tap history (used when a channel is disabled/re-enabled).
func (f *FIR) Reset() {
	for i := range f.buf {
		f.buf[i] = 0
	}
	f.pos = 0
}
