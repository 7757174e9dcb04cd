package dout

import (
	"testing"

	"github.com/catompiler/pqrecorder/internal/hal"
	"github.com/stretchr/testify/assert"
)

func TestSetTypeStateOnlyAffectsMatchingChannels(t *testing.T) {
	run := NewChannel(ChannelConfig{Type: Run, Name: "run"})
	err := NewChannel(ChannelConfig{Type: Error, Name: "error"})
	sink := hal.NewSimulatedDigitalSink(2)
	c := NewController([]*Channel{run, err}, sink)

	c.SetTypeState(Run, true)
	assert.True(t, run.State())
	assert.False(t, err.State())
}

func TestProcessAppliesInversion(t *testing.T) {
	normal := NewChannel(ChannelConfig{Mode: Normal, Type: Run})
	inverted := NewChannel(ChannelConfig{Mode: Inverted, Type: Error})
	sink := hal.NewSimulatedDigitalSink(2)
	c := NewController([]*Channel{normal, inverted}, sink)

	c.SetTypeState(Run, true)
	c.SetTypeState(Error, true)
	c.Process()

	assert.True(t, sink.Get(0))
	assert.False(t, sink.Get(1)) // inverted: logical on -> pin off
}

func TestChannelAtOutOfRange(t *testing.T) {
	c := NewController(nil, hal.NewSimulatedDigitalSink(0))
	_, err := c.ChannelAt(0)
	assert.Error(t, err)
}
