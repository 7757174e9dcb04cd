package osc

import "github.com/catompiler/pqrecorder/internal/q15"

// SrcType is the sum type distinguishing an oscillogram channel's source
// subsystem, replacing the source's switch-on-enum polymorphism per §9's
// redesign note.
type SrcType int

const (
	AIN SrcType = iota
	DIN
)

// ValueType selects whether a channel stores a Q15 value (VAL, analog) or a
// packed bit (BIT, digital).
type ValueType int

const (
	Val ValueType = iota
	Bit
)

// SampleKind selects which of the source's two outputs a channel samples.
type SampleKind int

const (
	Inst SampleKind = iota
	Eff
)

// IndexInvalid is the sentinel data_offset meaning "unallocated".
const IndexInvalid uint32 = 0xFFFFFFFF

// AnalogSource is the capability an AIN-backed oscillogram channel needs;
// satisfied by *ain.Channel without either package importing the other.
type AnalogSource interface {
	ValueInst() q15.Q15
	ValueEff() q15.Q15
}

// DigitalSource is the capability a DIN-backed oscillogram channel needs;
// satisfied by *din.Channel without either package importing the other.
type DigitalSource interface {
	State() bool
	Changed() bool
}

// Reducer is the minimal accumulate/emit contract an oscillogram channel
// needs from dsp.AverageReducer / dsp.MajorityReducer.
type Reducer interface {
	Put(v q15.Q15)
	PutBit(b bool)
	Take() q15.Q15
	TakeBit() bool
	Reset()
}

// ChannelConfig is the static, config-file-driven description of one
// oscillogram channel.
type ChannelConfig struct {
	SrcType       SrcType
	ValueType     ValueType
	SrcSampleType SampleKind
	SrcIndex      int
	Enabled       bool
	Name          string
}

// Channel binds a ChannelConfig to its live source and reducer, plus the
// pool layout assigned by the oscillogram's allocator.
type Channel struct {
	cfg        ChannelConfig
	analogSrc  AnalogSource
	digitalSrc DigitalSource
	reducer    Reducer
	dataOffset uint32
}

// NewAnalogChannel builds an AIN-backed oscillogram channel.
func NewAnalogChannel(cfg ChannelConfig, src AnalogSource, reducer Reducer) *Channel {
	cfg.SrcType = AIN
	return &Channel{cfg: cfg, analogSrc: src, reducer: reducer, dataOffset: IndexInvalid}
}

// NewDigitalChannel builds a DIN-backed oscillogram channel.
func NewDigitalChannel(cfg ChannelConfig, src DigitalSource, reducer Reducer) *Channel {
	cfg.SrcType = DIN
	return &Channel{cfg: cfg, digitalSrc: src, reducer: reducer, dataOffset: IndexInvalid}
}

// Name returns the channel's configured name.
func (c *Channel) Name() string { return c.cfg.Name }

// ValueType reports whether this channel is analog (Val) or digital (Bit).
func (c *Channel) ValueType() ValueType { return c.cfg.ValueType }

// Enabled reports whether the channel participates in allocation/append.
func (c *Channel) Enabled() bool { return c.cfg.Enabled }

// sampleAnalog reads one raw value from the channel's source for this tick.
func (c *Channel) sampleAnalog() q15.Q15 {
	if c.cfg.SrcSampleType == Eff {
		return c.analogSrc.ValueEff()
	}
	return c.analogSrc.ValueInst()
}

func (c *Channel) sampleDigital() bool {
	if c.cfg.SrcSampleType == Eff {
		return c.digitalSrc.Changed() && c.digitalSrc.State()
	}
	return c.digitalSrc.State()
}
