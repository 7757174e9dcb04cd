package dsp

import "github.com/catompiler/pqrecorder/internal/q15"

// MovingWindow is a fixed-size sliding-window accumulator used for the
// effective-value computation: it holds the last `size` samples (already
// transformed by the caller into |x|, x², or x, per the channel's eff_kind)
// and maintains a running saturating sum in IQ15, replacing the oldest
// sample with the newest on every Put. Grounded on ain.c's mwin_t.
type MovingWindow struct {
	buf   []q15.IQ15
	pos   int
	count int
	sum   q15.IQ15
}

// NewMovingWindow builds a window of the given sample count.
func NewMovingWindow(size int) *MovingWindow {
	if size < 1 {
		size = 1
	}
	return &MovingWindow{buf: make([]q15.IQ15, size)}
}

// Put folds in one new widened sample, evicting the oldest. The running sum
// saturates rather than wraps on overflow, per the spec's failure semantics.
func (w *MovingWindow) Put(v q15.IQ15) {
	old := w.buf[w.pos]
	w.buf[w.pos] = v
	w.pos++
	if w.pos == len(w.buf) {
		w.pos = 0
	}
	w.sum = q15.SubSatIQ(q15.AddSatIQ(w.sum, v), old)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Sum returns the current running sum.
func (w *MovingWindow) Sum() q15.IQ15 { return w.sum }

// Size returns the configured window length.
func (w *MovingWindow) Size() int { return len(w.buf) }

// Full reports whether the window has accumulated a complete cycle of
// samples since the last Reset.
func (w *MovingWindow) Full() bool { return w.count == len(w.buf) }

// Reset clears the window history (used when a channel is disabled and
// later re-enabled, so stale samples never leak across sessions).
func (w *MovingWindow) Reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.pos, w.count, w.sum = 0, 0, 0
}
