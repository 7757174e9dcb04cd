// Package dout implements the digital-output driver: per-channel
// inversion plus type-tagged group state, driven by the logger's state
// mapping. Grounded on original_source/dout.c and dout.h.
package dout

import (
	"sync"

	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/hal"
)

// Mode selects whether a channel's logical state is inverted before it
// reaches the pin, per dout_mode_t.
type Mode int

const (
	Normal Mode = iota
	Inverted
)

// Type tags an output channel with the condition it reflects, per
// dout_type_t.
type Type int

const (
	None Type = iota
	Run
	Error
	Event
)

// ChannelConfig is the static, config-file-driven description of one
// digital output.
type ChannelConfig struct {
	Mode Mode
	Type Type
	Name string
}

// Channel holds one output's configuration and last-set logical state.
type Channel struct {
	mu    sync.RWMutex
	cfg   ChannelConfig
	state bool
}

// NewChannel builds a channel in the off state.
func NewChannel(cfg ChannelConfig) *Channel {
	return &Channel{cfg: cfg}
}

// Configure replaces the configuration, per dout_channel_setup.
func (c *Channel) Configure(cfg ChannelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Type and Name expose read-only metadata for the controller.
func (c *Channel) Type() Type   { c.mu.RLock(); defer c.mu.RUnlock(); return c.cfg.Type }
func (c *Channel) Name() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.cfg.Name }

// SetState sets the channel's logical (pre-inversion) state, per
// dout_set_state.
func (c *Channel) SetState(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = v
}

// State reports the channel's logical state.
func (c *Channel) State() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// pinState applies the channel's inversion mode to its logical state, per
// dout_channel_set_state_inst.
func (c *Channel) pinState() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.Mode == Inverted {
		return !c.state
	}
	return c.state
}

// Controller owns every digital output channel and the raw GPIO sink.
type Controller struct {
	Channels []*Channel
	sink     hal.DigitalSink
}

// NewController builds a controller over the given channels and sink.
func NewController(channels []*Channel, sink hal.DigitalSink) *Controller {
	return &Controller{Channels: channels, sink: sink}
}

// SetTypeState sets the logical state of every channel carrying the given
// type, per dout_set_type_state.
func (c *Controller) SetTypeState(t Type, v bool) {
	for _, ch := range c.Channels {
		if ch.Type() == t {
			ch.SetState(v)
		}
	}
}

// Process drives every channel's inverted state out to the sink, per
// dout_process.
func (c *Controller) Process() {
	for i, ch := range c.Channels {
		c.sink.Set(i, ch.pinState())
	}
}

// ChannelAt returns the nth channel, or an error if n is out of range.
func (c *Controller) ChannelAt(n int) (*Channel, error) {
	if n < 0 || n >= len(c.Channels) {
		return nil, errs.New(errs.OutOfRange, "digital output channel %d out of range", n)
	}
	return c.Channels[n], nil
}
