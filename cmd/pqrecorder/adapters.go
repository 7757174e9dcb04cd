package main

import (
	"time"

	"github.com/catompiler/pqrecorder/internal/comtrade"
	"github.com/catompiler/pqrecorder/internal/osc"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/catompiler/pqrecorder/internal/station"
	"github.com/catompiler/pqrecorder/internal/storage"
	"github.com/catompiler/pqrecorder/internal/trig"
)

// channelMeta carries the CFG/CSV metadata an oscillogram channel does not
// retain itself (engineering unit and real_k scale), captured once at
// wiring time from the analog frontend's configuration. Topology is fixed
// for the process lifetime here — a config reload that changes channel
// count or wiring would need to rebuild these, which the recorder's
// NoInit reconfiguration does not currently do (see DESIGN.md).
type channelMeta struct {
	name  string
	unit  string
	realK q15.IQ15
}

// oscSource adapts one paused oscillogram buffer into comtrade.Source and
// comtrade.CSVSource, so internal/storage never has to import internal/osc.
// Grounded on original_source/event.c's event_t/comtrade_t indirection,
// generalized to also serve trends.c's running trend buffer.
type oscSource struct {
	osc      *osc.Oscillogram
	bufIdx   int
	station  station.Station
	oscRatio q15.IQ15

	analogMeta []channelMeta
	analogRaw  []int // index into osc.Channels() for each entry of analogMeta
	digiMeta   []string
	digiRaw    []int

	triggerName string
	triggerIdx  int
}

func newOscSource(o *osc.Oscillogram, bufIdx int, st station.Station, oscRatio q15.IQ15, analogMeta []channelMeta, digiMeta []string) *oscSource {
	s := &oscSource{
		osc:        o,
		bufIdx:     bufIdx,
		station:    st,
		oscRatio:   oscRatio,
		analogMeta: analogMeta,
		digiMeta:   digiMeta,
	}
	for i, ch := range o.Channels() {
		switch ch.ValueType() {
		case osc.Val:
			s.analogRaw = append(s.analogRaw, i)
		case osc.Bit:
			s.digiRaw = append(s.digiRaw, i)
		}
	}
	return s
}

// --- comtrade.Source ---

func (s *oscSource) StationName() string { return s.station.Name }
func (s *oscSource) RecDevID() string    { return s.station.DevID }

func (s *oscSource) AnalogChannels() int { return len(s.analogMeta) }

func (s *oscSource) AnalogChannel(i int) comtrade.AnalogChannel {
	m := s.analogMeta[i]
	// A is the scale the CFG reader multiplies the raw int16 sample by to
	// recover the real-unit value: the sample pool stores a normalized Q15
	// fraction of full scale, and full scale is real_k engineering units.
	a := q15.FromFloatIQ(q15.ToFloatIQ(m.realK) / (1 << q15.FractBits))
	return comtrade.AnalogChannel{
		ChID:      m.name,
		Unit:      m.unit,
		A:         a,
		B:         0,
		Skew:      0,
		Min:       int16(q15.MinQ15),
		Max:       int16(q15.MaxQ15),
		Primary:   m.realK,
		Secondary: m.realK,
		PS:        comtrade.PSPrimary,
	}
}

func (s *oscSource) DigitalChannels() int { return len(s.digiMeta) }

func (s *oscSource) DigitalChannel(i int) comtrade.DigitalChannel {
	return comtrade.DigitalChannel{ChID: s.digiMeta[i]}
}

func (s *oscSource) LineFreq() q15.IQ15 { return s.station.LineFreq }

func (s *oscSource) SampleRates() []comtrade.SampleRate {
	n := s.osc.BufferCount(s.bufIdx)
	if n == 0 {
		return nil
	}
	return []comtrade.SampleRate{{Samp: q15.FromFloatIQ(float64(s.osc.SampleFreq())), EndSamp: n}}
}

func (s *oscSource) DataTime() time.Time { return s.osc.BufferStartTime(s.bufIdx) }

// TriggerTime approximates the activation instant as the point (1-oscRatio)
// of the way through the captured buffer: oscRatio is the configured
// post-trigger share, so the pre-trigger share ends there.
func (s *oscSource) TriggerTime() time.Time {
	start := s.osc.BufferStartTime(s.bufIdx)
	end := s.osc.BufferEndTime(s.bufIdx)
	preShare := 1.0 - q15.ToFloatIQ(s.oscRatio)
	if preShare < 0 {
		preShare = 0
	}
	if preShare > 1 {
		preShare = 1
	}
	return start.Add(time.Duration(float64(end.Sub(start)) * preShare))
}

func (s *oscSource) TimeMult() uint32 {
	freq := s.osc.SampleFreq()
	if freq <= 0 {
		return 0
	}
	return uint32(1_000_000 / freq)
}

func (s *oscSource) AnalogValue(ch int, sample int) int16 {
	if ch < 0 || ch >= len(s.analogRaw) {
		return 0
	}
	return int16(s.osc.ChannelAnalogValue(s.bufIdx, s.analogRaw[ch], uint32(sample)))
}

func (s *oscSource) DigitalValue(ch int, sample int) bool {
	if ch < 0 || ch >= len(s.digiRaw) {
		return false
	}
	return s.osc.ChannelDigitalValue(s.bufIdx, s.digiRaw[ch], uint32(sample))
}

// --- comtrade.CSVSource ---

func (s *oscSource) EventTime() time.Time { return s.TriggerTime() }
func (s *oscSource) TriggerIndex() int    { return s.triggerIdx }
func (s *oscSource) TriggerName() string  { return s.triggerName }
func (s *oscSource) SampleFreq() int      { return s.osc.SampleFreq() }
func (s *oscSource) Rate() int            { return 1 }
func (s *oscSource) Skew() int            { return 0 }
func (s *oscSource) SamplesCount() int    { return int(s.osc.BufferCount(s.bufIdx)) }
func (s *oscSource) StartTime() time.Time { return s.DataTime() }

// BufferSamples implements storage.TrendSource's sample-count accessor;
// it mirrors SamplesCount (comtrade.CSVSource's accessor) over the same
// paused buffer.
func (s *oscSource) BufferSamples() int { return int(s.osc.BufferCount(s.bufIdx)) }

func (s *oscSource) SamplePeriod() time.Duration {
	freq := s.osc.SampleFreq()
	if freq <= 0 {
		return 0
	}
	return time.Second / time.Duration(freq)
}

func (s *oscSource) ChannelCount() int { return len(s.analogMeta) + len(s.digiMeta) }

func (s *oscSource) ChannelName(i int) string {
	if i < len(s.analogMeta) {
		return s.analogMeta[i].name
	}
	return s.digiMeta[i-len(s.analogMeta)]
}

func (s *oscSource) ChannelUnit(i int) string {
	if i < len(s.analogMeta) {
		return s.analogMeta[i].unit
	}
	return ""
}

func (s *oscSource) ChannelKind(i int) comtrade.CSVChannelKind {
	if i < len(s.analogMeta) {
		return comtrade.CSVAnalog
	}
	return comtrade.CSVDigital
}

func (s *oscSource) ChannelScale(i int) q15.IQ15 {
	if i < len(s.analogMeta) {
		return s.analogMeta[i].realK
	}
	return 0
}

func (s *oscSource) ChannelValue(i int, sample int) q15.IQ15 {
	if i < len(s.analogMeta) {
		raw := s.osc.ChannelAnalogValue(s.bufIdx, s.analogRaw[i], uint32(sample))
		return q15.ToReal(raw, s.analogMeta[i].realK)
	}
	di := i - len(s.analogMeta)
	if s.osc.ChannelDigitalValue(s.bufIdx, s.digiRaw[di], uint32(sample)) {
		return 1
	}
	return 0
}

// eventBuilder implements logger.EventBuilder, snapshotting the currently
// paused event/trend oscillogram buffers into storage.EventSource/TrendSource
// values the moment the logger asks for them.
type eventBuilder struct {
	eventOsc *osc.Oscillogram
	trendOsc *osc.Oscillogram
	trig     *trig.Engine

	station  station.Station
	oscRatio q15.IQ15

	eventAnalogMeta []channelMeta
	eventDigiMeta   []string
	trendAnalogMeta []channelMeta
	trendDigiMeta   []string
}

func (b *eventBuilder) BuildEvent(triggeringIndex int) storage.EventSource {
	idx := b.eventOsc.WriteBufferIndex()
	src := newOscSource(b.eventOsc, idx, b.station, b.oscRatio, b.eventAnalogMeta, b.eventDigiMeta)
	src.triggerIdx = triggeringIndex
	if b.trig != nil {
		if ch, err := b.trig.ChannelAt(triggeringIndex); err == nil {
			src.triggerName = ch.Name()
		}
	}
	return src
}

func (b *eventBuilder) BuildTrend() storage.TrendSource {
	idx := b.trendOsc.ReadBufferIndex()
	return newOscSource(b.trendOsc, idx, b.station, b.oscRatio, b.trendAnalogMeta, b.trendDigiMeta)
}
