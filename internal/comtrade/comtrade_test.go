package comtrade

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	analog  []AnalogChannel
	digital []DigitalChannel
	values  [][]int16 // [channel][sample], analog only
	bits    [][]bool  // [channel][sample], digital only
}

func (f *fakeSource) StationName() string        { return "pqrecorder" }
func (f *fakeSource) RecDevID() string           { return "station-1" }
func (f *fakeSource) AnalogChannels() int        { return len(f.analog) }
func (f *fakeSource) AnalogChannel(i int) AnalogChannel { return f.analog[i] }
func (f *fakeSource) DigitalChannels() int       { return len(f.digital) }
func (f *fakeSource) DigitalChannel(i int) DigitalChannel { return f.digital[i] }
func (f *fakeSource) LineFreq() q15.IQ15         { return q15.FromFloatIQ(50) }
func (f *fakeSource) SampleRates() []SampleRate {
	return []SampleRate{{Samp: q15.FromFloatIQ(1600), EndSamp: uint32(len(f.values[0]))}}
}
func (f *fakeSource) DataTime() time.Time    { return time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC) }
func (f *fakeSource) TriggerTime() time.Time { return time.Date(2026, 7, 31, 10, 0, 1, 500000000, time.UTC) }
func (f *fakeSource) TimeMult() uint32       { return 625 }
func (f *fakeSource) AnalogValue(ch int, sample int) int16 { return f.values[ch][sample] }
func (f *fakeSource) DigitalValue(ch int, sample int) bool { return f.bits[ch][sample] }

func buildFakeSource() *fakeSource {
	return &fakeSource{
		analog: []AnalogChannel{
			{ChID: "Ua", Unit: "V", A: q15.FromFloatIQ(1), B: 0, Min: -32767, Max: 32767, Primary: q15.FromFloatIQ(1), Secondary: q15.FromFloatIQ(1), PS: PSPrimary},
		},
		digital: []DigitalChannel{
			{ChID: "din0"},
		},
		values: [][]int16{{100, 200, 300}},
		bits:   [][]bool{{true, false, true}},
	}
}

func TestWriteCFGProducesExpectedLineShape(t *testing.T) {
	src := buildFakeSource()
	var buf bytes.Buffer
	require.NoError(t, WriteCFG(&buf, src))

	lines := strings.Split(buf.String(), "\r\n")
	assert.Equal(t, "pqrecorder,station-1,1999", lines[0])
	assert.Equal(t, "2,1A,1D", lines[1])
	assert.Contains(t, lines[2], "Ua,")
	assert.Contains(t, lines[3], "din0,")
	assert.Equal(t, "BINARY", lines[len(lines)-3])
	assert.Equal(t, "625", lines[len(lines)-2])
}

func TestAppendDATRoundTrips(t *testing.T) {
	src := buildFakeSource()
	var buf bytes.Buffer
	for s := 0; s < 3; s++ {
		require.NoError(t, AppendDAT(&buf, src, s, uint32(s)))
	}

	assert.Equal(t, 3*RecordSize(src), buf.Len())

	r := bufio.NewReader(&buf)
	var sampleNum, timestamp uint32
	require.NoError(t, binary.Read(r, binary.LittleEndian, &sampleNum))
	require.NoError(t, binary.Read(r, binary.LittleEndian, &timestamp))
	assert.EqualValues(t, 1, sampleNum)
	assert.EqualValues(t, 0, timestamp)

	var analog int16
	require.NoError(t, binary.Read(r, binary.LittleEndian, &analog))
	assert.EqualValues(t, 100, analog)

	var digitalWord int16
	require.NoError(t, binary.Read(r, binary.LittleEndian, &digitalWord))
	assert.EqualValues(t, 1, digitalWord) // bit 0 set, din0=true
}

func TestRecordSizeAccountsForPackedDigitalWords(t *testing.T) {
	src := &fakeSource{
		analog:  []AnalogChannel{{}, {}},
		digital: make([]DigitalChannel, 20),
	}
	// 2 header words + 2 analog int16 + ceil(20/16)=2 packed digital words.
	assert.Equal(t, 8+2*2+2*2, RecordSize(src))
}

type fakeCSVSource struct {
	*fakeSource
}

func (f *fakeCSVSource) EventTime() time.Time       { return f.TriggerTime() }
func (f *fakeCSVSource) TriggerIndex() int          { return 0 }
func (f *fakeCSVSource) TriggerName() string        { return "trig0" }
func (f *fakeCSVSource) SampleFreq() int            { return 1600 }
func (f *fakeCSVSource) Rate() int                  { return 1 }
func (f *fakeCSVSource) Skew() int                  { return 0 }
func (f *fakeCSVSource) SamplesCount() int          { return len(f.values[0]) }
func (f *fakeCSVSource) StartTime() time.Time       { return f.DataTime() }
func (f *fakeCSVSource) SamplePeriod() time.Duration { return time.Second / 1600 }
func (f *fakeCSVSource) ChannelCount() int          { return len(f.analog) + len(f.digital) }
func (f *fakeCSVSource) ChannelName(i int) string {
	if i < len(f.analog) {
		return f.analog[i].ChID
	}
	return f.digital[i-len(f.analog)].ChID
}
func (f *fakeCSVSource) ChannelUnit(i int) string {
	if i < len(f.analog) {
		return f.analog[i].Unit
	}
	return ""
}
func (f *fakeCSVSource) ChannelKind(i int) CSVChannelKind {
	if i < len(f.analog) {
		return CSVAnalog
	}
	return CSVDigital
}
func (f *fakeCSVSource) ChannelScale(i int) q15.IQ15 { return q15.FromFloatIQ(1) }
func (f *fakeCSVSource) ChannelValue(i int, sample int) q15.IQ15 {
	if i < len(f.analog) {
		return q15.IQ15(f.values[i][sample])
	}
	if f.bits[i-len(f.analog)][sample] {
		return 1
	}
	return 0
}

func TestWriteCSVHasExpectedHeaderRows(t *testing.T) {
	src := &fakeCSVSource{buildFakeSource()}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, src))

	lines := strings.Split(buf.String(), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "Date;"))
	assert.True(t, strings.HasPrefix(lines[1], "Time;"))
	assert.Equal(t, "Trigger;0;trig0", lines[2])
	assert.Equal(t, "Channels: 2", lines[7])
	assert.Equal(t, "Name;Ua;din0", lines[8])
	assert.Equal(t, "Unit;V;", lines[9])
	assert.True(t, strings.HasPrefix(lines[10], "Scale;"))
	assert.True(t, strings.HasSuffix(lines[10], ";")) // digital channel has no scale
	assert.True(t, strings.HasPrefix(lines[11], "Data "))
}
