// Package din implements the digital-input debouncer (C2): per-channel
// inversion plus a time-based debounce state machine. Grounded on
// original_source/din.c and din.h.
package din

import (
	"sync"

	"github.com/catompiler/pqrecorder/internal/hal"
	"github.com/catompiler/pqrecorder/internal/q15"
)

// Mode selects whether a channel's raw GPIO level is inverted before use.
type Mode int

const (
	Normal Mode = iota
	Inverted
)

// Type tags a channel with a system-level meaning the logger watches for.
type Type int

const (
	None Type = iota
	Reset
	Halt
)

type debounceState int

const (
	steady debounceState = iota
	transitioning
)

// ChannelConfig is the static, config-file-driven description of one
// digital input.
type ChannelConfig struct {
	Mode         Mode
	Type         Type
	DebounceTime q15.Q15 // seconds, Q15
	Name         string
}

// Channel holds one digital input's debounce state.
type Channel struct {
	mu  sync.RWMutex
	cfg ChannelConfig

	state     debounceState
	committed bool
	changed   bool
	dwell     q15.Q15
}

// NewChannel builds a channel in the Steady/off state.
func NewChannel(cfg ChannelConfig) *Channel {
	return &Channel{cfg: cfg}
}

// Configure replaces the configuration and resets debounce state.
func (c *Channel) Configure(cfg ChannelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.state = steady
	c.committed = false
	c.changed = false
	c.dwell = 0
}

// State returns the last committed (post-debounce, post-inversion) state.
func (c *Channel) State() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.committed
}

// Changed reports whether this tick is the one that committed a transition.
func (c *Channel) Changed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// Name and Type expose read-only metadata for the trigger engine and
// logger.
func (c *Channel) Name() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.cfg.Name }
func (c *Channel) Type() Type   { c.mu.RLock(); defer c.mu.RUnlock(); return c.cfg.Type }

// process runs one debounce tick given the raw (pre-inversion) pin level
// and elapsed time, per §4.2's per-channel state machine.
func (c *Channel) process(dt q15.Q15, raw bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	effective := raw
	if c.cfg.Mode == Inverted {
		effective = !raw
	}

	c.changed = false

	switch c.state {
	case steady:
		if effective == c.committed {
			c.dwell = 0
			return
		}
		c.state = transitioning
		c.dwell = dt
	case transitioning:
		if effective == c.committed {
			c.state = steady
			c.dwell = 0
			return
		}
		c.dwell = q15.AddSat(c.dwell, dt)
		if c.dwell >= c.cfg.DebounceTime {
			c.state = steady
			c.committed = effective
			c.changed = true
			c.dwell = 0
		}
	}
}

// Debouncer owns every digital channel and the raw GPIO source.
type Debouncer struct {
	Channels []*Channel
	source   hal.DigitalSource
}

// NewDebouncer builds a debouncer over the given channels and raw source.
func NewDebouncer(channels []*Channel, source hal.DigitalSource) *Debouncer {
	return &Debouncer{Channels: channels, source: source}
}

// Process samples the raw GPIO source and runs one debounce tick for every
// channel, in fixed channel order.
func (d *Debouncer) Process(dt q15.Q15) {
	raw := d.source.Read()
	for i, ch := range d.Channels {
		var r bool
		if i < len(raw) {
			r = raw[i]
		}
		ch.process(dt, r)
	}
}

// StateOf returns the committed state of the lowest-indexed channel
// carrying the given type, and whether any channel carries it.
func (d *Debouncer) StateOf(t Type) (bool, bool) {
	for _, ch := range d.Channels {
		if ch.Type() == t {
			return ch.State(), true
		}
	}
	return false, false
}

// ChangedState returns whether the lowest-indexed channel carrying the
// given type changed this tick, along with its committed state.
func (d *Debouncer) ChangedState(t Type) (changed bool, state bool, found bool) {
	for _, ch := range d.Channels {
		if ch.Type() == t {
			return ch.Changed(), ch.State(), true
		}
	}
	return false, false, false
}
