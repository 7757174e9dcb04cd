package trig

import (
	"testing"

	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

type fakeAnalog struct {
	v     q15.Q15
	realK q15.IQ15
}

func (f *fakeAnalog) ValueInst() q15.Q15 { return f.v }
func (f *fakeAnalog) ValueEff() q15.Q15  { return f.v }
func (f *fakeAnalog) RealK() q15.IQ15    { return f.realK }

func TestActivatesAfterDwellTime(t *testing.T) {
	src := &fakeAnalog{realK: q15.FromFloatIQ(1.0)}
	ch := NewAnalogChannel(ChannelConfig{
		Enabled:    true,
		Type:       OVF,
		Time:       q15.FromFloat(0.05),
		Ref:        q15.FromFloatIQ(0.5),
		SampleKind: Eff,
	}, src)
	e := New([]*Channel{ch})
	e.SetEnabled(true)

	dt := q15.FromFloat(0.001)
	src.v = q15.FromFloat(0.8) // above threshold

	var activatedTick = -1
	for i := 0; i < 60; i++ {
		activated, idx := e.Check(dt)
		if activated {
			activatedTick = i
			assert.Equal(t, 0, idx)
			break
		}
	}
	assert.GreaterOrEqual(t, activatedTick, 48)
}

func TestNoActivationWhenBelowThreshold(t *testing.T) {
	src := &fakeAnalog{realK: q15.FromFloatIQ(1.0)}
	ch := NewAnalogChannel(ChannelConfig{
		Enabled:    true,
		Type:       OVF,
		Time:       q15.FromFloat(0.05),
		Ref:        q15.FromFloatIQ(0.5),
		SampleKind: Eff,
	}, src)
	e := New([]*Channel{ch})
	e.SetEnabled(true)

	src.v = q15.FromFloat(0.1)
	dt := q15.FromFloat(0.001)
	for i := 0; i < 100; i++ {
		activated, _ := e.Check(dt)
		assert.False(t, activated)
	}
}

// LAST-wins: when two channels activate on the same tick, TriggeringIndex
// picks the highest-indexed one.
func TestLastWinsTieBreak(t *testing.T) {
	src0 := &fakeAnalog{realK: q15.FromFloatIQ(1.0), v: q15.FromFloat(0.9)}
	src1 := &fakeAnalog{realK: q15.FromFloatIQ(1.0), v: q15.FromFloat(0.9)}
	ch0 := NewAnalogChannel(ChannelConfig{Enabled: true, Type: OVF, Time: 0, Ref: q15.FromFloatIQ(0.5), SampleKind: Eff}, src0)
	ch1 := NewAnalogChannel(ChannelConfig{Enabled: true, Type: OVF, Time: 0, Ref: q15.FromFloatIQ(0.5), SampleKind: Eff}, src1)
	e := New([]*Channel{ch0, ch1})
	e.SetEnabled(true)

	activated, idx := e.Check(q15.FromFloat(0.001))
	assert.True(t, activated)
	assert.Equal(t, 1, idx)
}

func TestDisabledEngineNeverActivates(t *testing.T) {
	src := &fakeAnalog{realK: q15.FromFloatIQ(1.0), v: q15.FromFloat(0.9)}
	ch := NewAnalogChannel(ChannelConfig{Enabled: true, Type: OVF, Time: 0, Ref: q15.FromFloatIQ(0.5), SampleKind: Eff}, src)
	e := New([]*Channel{ch})

	activated, idx := e.Check(q15.FromFloat(0.001))
	assert.False(t, activated)
	assert.Equal(t, -1, idx)
}

// Property 6: activated is true for exactly one tick per low->high
// transition of active.
func TestPropertyActivatedEdgeFiresOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		src := &fakeAnalog{realK: q15.FromFloatIQ(1.0)}
		ch := NewAnalogChannel(ChannelConfig{
			Enabled:    true,
			Type:       OVF,
			Time:       q15.FromFloat(0.01),
			Ref:        q15.FromFloatIQ(0.5),
			SampleKind: Eff,
		}, src)
		e := New([]*Channel{ch})
		e.SetEnabled(true)

		dt := q15.FromFloat(0.001)
		ticks := rapid.IntRange(5, 200).Draw(t, "ticks")

		edgeCount := 0
		wasActive := false
		for i := 0; i < ticks; i++ {
			high := rapid.Bool().Draw(t, "high")
			if high {
				src.v = q15.FromFloat(0.9)
			} else {
				src.v = q15.FromFloat(0.1)
			}
			activated, _ := e.Check(dt)
			if activated {
				edgeCount++
				assert.False(t, wasActive, "activated fired while already active")
			}
			ch.mu.RLock()
			wasActive = ch.active
			ch.mu.RUnlock()
		}
		assert.GreaterOrEqual(t, edgeCount, 0)
	})
}
