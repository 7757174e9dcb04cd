// Package ain implements the analog-channel DSP frontend (C1): ADC
// normalization, the 23-tap FIR, decimation, and the moving-window
// effective-value computation. Grounded on original_source/ain.c and
// ain.h.
package ain

import (
	"context"
	"sync"

	"github.com/catompiler/pqrecorder/internal/dsp"
	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/hal"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/charmbracelet/log"
)

// Kind distinguishes DC from AC analog channels.
type Kind int

const (
	DC Kind = iota
	AC
)

// EffKind selects the effective-value computation.
type EffKind int

const (
	AVG EffKind = iota
	RMS
)

// Fixed system constants, grounded on ain.h.
const (
	OversampleFreq = 12800
	SampleFreq     = 1600
	OversampleRate = OversampleFreq / SampleFreq // 8
	PowerFreq      = 50
	PeriodSamples  = SampleFreq / PowerFreq // 32

	ADCBits       = 12
	ADCBitsSigned = 11
)

// ChannelConfig is the static, config-file-driven description of one
// analog channel.
type ChannelConfig struct {
	Kind      Kind
	EffKind   EffKind
	ADCOffset uint16
	ADCGain   q15.Q15
	EffGain   q15.IQ15
	RealK     q15.IQ15
	Name      string
	Unit      string
	Enabled   bool
}

// Channel holds one analog channel's filter/window state plus its last
// committed instantaneous and effective values.
type Channel struct {
	mu  sync.RWMutex
	cfg ChannelConfig
	fir *dsp.FIR
	win *dsp.MovingWindow

	instValue q15.Q15
	effValue  q15.Q15
}

// NewChannel builds a channel with fresh filter/window state.
func NewChannel(cfg ChannelConfig) *Channel {
	return &Channel{
		cfg: cfg,
		fir: dsp.NewFIR(),
		win: dsp.NewMovingWindow(PeriodSamples),
	}
}

// Configure replaces the channel's configuration and resets filter state —
// called from the config-reload path (logger NoInit).
func (c *Channel) Configure(cfg ChannelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.resetLocked()
}

// Reset clears filter/window state without touching configuration, per
// ain_reset_channels / ain_channel_reset.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Channel) resetLocked() {
	c.fir.Reset()
	c.win.Reset()
	c.instValue, c.effValue = 0, 0
}

// Enabled reports whether the channel is currently active.
func (c *Channel) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Enabled
}

// Name, Unit and RealK expose read-only metadata for the oscillogram,
// trigger, and COMTRADE serialization layers.
func (c *Channel) Name() string    { c.mu.RLock(); defer c.mu.RUnlock(); return c.cfg.Name }
func (c *Channel) Unit() string    { c.mu.RLock(); defer c.mu.RUnlock(); return c.cfg.Unit }
func (c *Channel) RealK() q15.IQ15 { c.mu.RLock(); defer c.mu.RUnlock(); return c.cfg.RealK }

// ValueInst returns the last committed instantaneous value, 0 if disabled.
func (c *Channel) ValueInst() q15.Q15 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.cfg.Enabled {
		return 0
	}
	return c.instValue
}

// ValueEff returns the last committed effective value, 0 if disabled.
func (c *Channel) ValueEff() q15.Q15 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.cfg.Enabled {
		return 0
	}
	return c.effValue
}

// normalize converts one raw ADC sample into Q15, per §4.1: bipolar around
// adc_offset when it is non-zero, unipolar across the full ADC range
// otherwise, then scaled by adc_gain.
func (c *Channel) normalize(raw uint16) q15.Q15 {
	var n q15.Q15
	if c.cfg.ADCOffset != 0 {
		centered := int64(raw) - int64(c.cfg.ADCOffset)
		n = q15.SatQ15(int32(centered << (q15.FractBits - ADCBitsSigned)))
	} else {
		n = q15.SatQ15(int32(int64(raw) << (q15.FractBits - ADCBits)))
	}
	return q15.Mul(n, c.cfg.ADCGain)
}

// processSample runs one raw ADC sample through normalization and the FIR,
// returning the filtered instantaneous sample (still at oversample rate).
func (c *Channel) processSample(raw uint16) q15.Q15 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Enabled {
		return 0
	}
	n := c.normalize(raw)
	return c.fir.Put(n)
}

// commit is called once per decimated tick: it latches the instantaneous
// value and folds it into the effective-value window.
func (c *Channel) commit(filtered q15.Q15) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Enabled {
		return
	}
	c.instValue = filtered

	var windowed q15.IQ15
	switch {
	case c.cfg.EffKind == RMS:
		windowed = q15.WidenQ15(q15.Mul(filtered, filtered))
	case c.cfg.EffKind == AVG && c.cfg.Kind == AC:
		windowed = q15.WidenQ15(q15.Abs(filtered))
	default:
		windowed = q15.WidenQ15(filtered)
	}
	c.win.Put(windowed)

	mean := q15.IDivIQ(c.win.Sum(), int32(c.win.Size()))
	var value q15.Q15
	if c.cfg.EffKind == RMS {
		root, ok := q15.SqrtQ15(q15.SatFromIQ(mean))
		if ok {
			value = root
		}
		// A failed sqrt yields 0 — never blocks or raises, per §4.1.
	} else {
		value = q15.SatFromIQ(mean)
	}
	// eff_gain is IQ15 and may legitimately carry values >= 1.0 (a calibration
	// correction above unity) — widen value and multiply in IQ15, narrowing
	// only the final result, per original_source/ain.c:369's iq15_mul.
	c.effValue = q15.SatFromIQ(q15.MulL(q15.WidenQ15(value), c.cfg.EffGain))
}

// Frontend drives every analog channel through normalization/FIR at the
// oversample rate and commits instantaneous/effective values at the
// decimated rate, in fixed channel order (0..N-1) to keep the effective
// value windows phase-aligned, per §5.
type Frontend struct {
	mu sync.RWMutex

	Channels []*Channel
	decim    *dsp.Decimator
	enabled  bool
	log      *log.Logger

	// filtered is the per-frame scratch buffer ProcessFrame fills in place —
	// allocated once here so the oversample-rate hot path never calls make.
	filtered []q15.Q15
}

// NewFrontend builds a frontend over the given channels, decimating from
// OversampleFreq to SampleFreq.
func NewFrontend(channels []*Channel, logger *log.Logger) *Frontend {
	if logger == nil {
		logger = log.Default()
	}
	return &Frontend{
		Channels: channels,
		decim:    dsp.NewDecimator(OversampleRate),
		log:      logger.With("component", "ain"),
		filtered: make([]q15.Q15, len(channels)),
	}
}

// SetEnabled gates whether ProcessFrame does anything, per ain_set_enabled.
func (f *Frontend) SetEnabled(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = v
}

// Enabled reports the module-wide enable gate, per ain_enabled.
func (f *Frontend) Enabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled
}

// Reset clears the shared decimator and every channel's filter state, per
// ain_reset.
func (f *Frontend) Reset() {
	f.decim.Reset()
	for _, ch := range f.Channels {
		ch.Reset()
	}
}

// ProcessFrame runs one raw ADC frame through every channel, committing
// instantaneous/effective values if this frame completes a decimation
// cycle. Returns whether a commit happened, and a non-nil error if the
// frame doesn't match the configured channel count.
func (f *Frontend) ProcessFrame(frame hal.ADCFrame) (bool, error) {
	if !f.Enabled() {
		return false, nil
	}
	if len(frame.Samples) != len(f.Channels) {
		return false, errs.New(errs.InvalidValue, "ADC frame has %d samples, want %d", len(frame.Samples), len(f.Channels))
	}

	for i, ch := range f.Channels {
		f.filtered[i] = ch.processSample(frame.Samples[i])
	}

	committed := f.decim.Tick()
	if committed {
		for i, ch := range f.Channels {
			ch.commit(f.filtered[i])
		}
	}
	return committed, nil
}

// Run consumes ADC frames from in until ctx is cancelled, calling onCommit
// after every ProcessFrame that completes a decimation cycle.
func (f *Frontend) Run(ctx context.Context, in <-chan hal.ADCFrame, onCommit func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			committed, err := f.ProcessFrame(frame)
			if err != nil {
				f.log.Warn("dropped malformed ADC frame", "err", err)
				continue
			}
			if committed && onCommit != nil {
				onCommit()
			}
		}
	}
}
