// Package trig implements the trigger engine (C4): per-channel dwell-time
// threshold comparison against instantaneous or effective values, with
// activation-edge detection. Grounded on original_source/trig.c and
// trig.h.
package trig

import (
	"sync"

	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/q15"
)

// SrcType selects which subsystem a trigger channel watches.
type SrcType int

const (
	AIN SrcType = iota
	DIN
)

// SampleKind selects instantaneous vs. effective source sampling.
type SampleKind int

const (
	Inst SampleKind = iota
	Eff
)

// CompareType selects overvoltage (above ref) vs. undervoltage (below ref).
type CompareType int

const (
	OVF CompareType = iota
	UDF
)

// AnalogSource is the capability an AIN-backed trigger channel needs;
// satisfied by *ain.Channel without either package importing the other.
type AnalogSource interface {
	ValueInst() q15.Q15
	ValueEff() q15.Q15
	RealK() q15.IQ15
}

// DigitalSource is the capability a DIN-backed trigger channel needs;
// satisfied by *din.Channel without either package importing the other.
type DigitalSource interface {
	State() bool
	Changed() bool
}

// ChannelConfig is the static, config-file-driven description of one
// trigger channel. Ref is given in engineering units; NewAnalogChannel
// converts it to Q15 by dividing by the source channel's real_k, per §4.4's
// reference scaling.
type ChannelConfig struct {
	SrcType  SrcType
	SrcIndex int
	SampleKind
	Type    CompareType
	Time    q15.Q15 // dwell time to activate, seconds, Q15
	Ref     q15.IQ15
	Name    string
	Enabled bool
}

// Channel is one trigger's live comparison state.
type Channel struct {
	mu  sync.RWMutex
	cfg ChannelConfig
	ref q15.Q15 // normalized reference, post real_k scaling

	analogSrc  AnalogSource
	digitalSrc DigitalSource

	curTime   q15.Q15
	active    bool
	activated bool
	fail      bool
}

// NewAnalogChannel builds an AIN-backed trigger channel.
func NewAnalogChannel(cfg ChannelConfig, src AnalogSource) *Channel {
	cfg.SrcType = AIN
	c := &Channel{cfg: cfg, analogSrc: src}
	c.updateRefLocked()
	return c
}

// NewDigitalChannel builds a DIN-backed trigger channel.
func NewDigitalChannel(cfg ChannelConfig, src DigitalSource) *Channel {
	cfg.SrcType = DIN
	c := &Channel{cfg: cfg}
	c.digitalSrc = src
	c.ref = q15.SatFromIQ(cfg.Ref)
	return c
}

// updateRefLocked converts an analog channel's engineering-units reference
// into normalized Q15 space by dividing by real_k, per §4.4.
func (c *Channel) updateRefLocked() {
	if c.analogSrc == nil {
		c.ref = q15.SatFromIQ(c.cfg.Ref)
		return
	}
	scale := c.analogSrc.RealK()
	c.ref = q15.SatFromIQ(q15.DivL(c.cfg.Ref, scale))
}

// Reset clears a channel's runtime comparison state (enabled flag and
// configuration are preserved).
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curTime = 0
	c.active = false
	c.activated = false
	c.fail = false
}

// SetEnabled toggles whether this channel participates in Check.
func (c *Channel) SetEnabled(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Enabled = v
}

// Enabled reports whether the channel is checked.
func (c *Channel) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Enabled
}

// Name returns the channel's configured name.
func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Name
}

// Activated reports whether this channel's activation edge fired on the
// last Check tick.
func (c *Channel) Activated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activated
}

// value samples the channel's configured source and sample kind.
func (c *Channel) value() q15.Q15 {
	switch c.cfg.SrcType {
	case AIN:
		if c.cfg.SampleKind == Inst {
			return c.analogSrc.ValueInst()
		}
		return c.analogSrc.ValueEff()
	case DIN:
		if c.cfg.SampleKind == Inst {
			if c.digitalSrc.State() {
				return 1
			}
			return 0
		}
		if c.digitalSrc.Changed() && c.digitalSrc.State() {
			return 1
		}
		return 0
	}
	return 0
}

// compare reports whether value is outside the configured threshold.
func (c *Channel) compare(value q15.Q15) bool {
	if c.cfg.Type == OVF {
		return value > c.ref
	}
	return value < c.ref
}

// check runs one dwell-time comparison tick, per §4.4 / Property 6: the
// channel must stay outside threshold continuously for Time seconds before
// activating, and activated is true for exactly one tick per low→high
// transition of active.
func (c *Channel) check(dt q15.Q15) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		return false
	}

	value := c.value()
	fail := c.compare(value)
	activated := false

	if fail {
		c.curTime = q15.AddSat(c.curTime, dt)
		if c.curTime >= c.cfg.Time {
			c.curTime = c.cfg.Time
			if !c.active {
				activated = true
			}
			c.active = true
		}
	} else {
		c.active = false
		c.curTime = 0
	}

	c.fail = fail
	c.activated = activated
	return activated
}

// Engine owns every trigger channel and the enable gate, per trig.c's
// module-level trig_t.
type Engine struct {
	mu       sync.RWMutex
	channels []*Channel
	enabled  bool
}

// New builds a trigger engine over the given channels, in configured
// order — index order is significant for the LAST-wins tie-break below.
func New(channels []*Channel) *Engine {
	return &Engine{channels: channels}
}

// SetEnabled toggles whether Check does anything.
func (e *Engine) SetEnabled(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = v
}

// Enabled reports the engine-wide enable gate.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Reset clears every channel's runtime state.
func (e *Engine) Reset() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.channels {
		ch.Reset()
	}
}

// Check runs one dwell-time comparison tick across every channel in order,
// per trig_check. Returns whether at least one channel activated this
// tick, and — per the spec's explicit LAST-wins resolution of the
// FIRST-vs-LAST ambiguity in the original source revisions — the index of
// the highest-indexed channel that activated, or -1 if none did.
func (e *Engine) Check(dt q15.Q15) (activated bool, triggeringIndex int) {
	e.mu.RLock()
	enabled := e.enabled
	e.mu.RUnlock()
	if !enabled {
		return false, -1
	}

	triggeringIndex = -1
	for i, ch := range e.channels {
		if ch.check(dt) {
			activated = true
			triggeringIndex = i // last-wins: keep overwriting
		}
	}
	return activated, triggeringIndex
}

// ChannelAt returns the nth channel, or an error if n is out of range —
// mirrors trig_channel_*'s bounds-checked accessors.
func (e *Engine) ChannelAt(n int) (*Channel, error) {
	if n < 0 || n >= len(e.channels) {
		return nil, errs.New(errs.OutOfRange, "trigger channel %d out of range", n)
	}
	return e.channels[n], nil
}

// Channels exposes the channel set for the logger and COMTRADE serializer.
func (e *Engine) Channels() []*Channel { return e.channels }
