package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/catompiler/pqrecorder/internal/comtrade"
	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/future"
	"github.com/catompiler/pqrecorder/internal/hal"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEventSource is a minimal comtrade.Source + comtrade.CSVSource double
// with one analog and one digital channel, three samples.
type fakeEventSource struct {
	values []int16
	bits   []bool
}

func (f *fakeEventSource) StationName() string { return "station" }
func (f *fakeEventSource) RecDevID() string    { return "rec1" }
func (f *fakeEventSource) AnalogChannels() int  { return 1 }
func (f *fakeEventSource) AnalogChannel(i int) comtrade.AnalogChannel {
	return comtrade.AnalogChannel{ChID: "Ua", Unit: "V", A: q15.FromFloatIQ(1), Primary: q15.FromFloatIQ(1), Secondary: q15.FromFloatIQ(1), PS: comtrade.PSPrimary}
}
func (f *fakeEventSource) DigitalChannels() int { return 1 }
func (f *fakeEventSource) DigitalChannel(i int) comtrade.DigitalChannel {
	return comtrade.DigitalChannel{ChID: "din0"}
}
func (f *fakeEventSource) LineFreq() q15.IQ15 { return q15.FromFloatIQ(50) }
func (f *fakeEventSource) SampleRates() []comtrade.SampleRate {
	return []comtrade.SampleRate{{Samp: q15.FromFloatIQ(1600), EndSamp: uint32(len(f.values))}}
}
func (f *fakeEventSource) DataTime() time.Time    { return time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC) }
func (f *fakeEventSource) TriggerTime() time.Time { return time.Date(2026, 7, 31, 9, 0, 1, 0, time.UTC) }
func (f *fakeEventSource) TimeMult() uint32       { return 625 }
func (f *fakeEventSource) AnalogValue(ch, sample int) int16 { return f.values[sample] }
func (f *fakeEventSource) DigitalValue(ch, sample int) bool { return f.bits[sample] }

func (f *fakeEventSource) EventTime() time.Time       { return f.TriggerTime() }
func (f *fakeEventSource) TriggerIndex() int          { return 0 }
func (f *fakeEventSource) TriggerName() string        { return "trig0" }
func (f *fakeEventSource) SampleFreq() int            { return 1600 }
func (f *fakeEventSource) Rate() int                  { return 1 }
func (f *fakeEventSource) Skew() int                  { return 0 }
func (f *fakeEventSource) SamplesCount() int          { return len(f.values) }
func (f *fakeEventSource) StartTime() time.Time       { return f.DataTime() }
func (f *fakeEventSource) SamplePeriod() time.Duration { return time.Second / 1600 }
func (f *fakeEventSource) ChannelCount() int          { return 2 }
func (f *fakeEventSource) ChannelName(i int) string {
	if i == 0 {
		return "Ua"
	}
	return "din0"
}
func (f *fakeEventSource) ChannelUnit(i int) string {
	if i == 0 {
		return "V"
	}
	return ""
}
func (f *fakeEventSource) ChannelKind(i int) comtrade.CSVChannelKind {
	if i == 0 {
		return comtrade.CSVAnalog
	}
	return comtrade.CSVDigital
}
func (f *fakeEventSource) ChannelScale(i int) q15.IQ15 { return q15.FromFloatIQ(1) }
func (f *fakeEventSource) ChannelValue(i int, sample int) q15.IQ15 {
	if i == 0 {
		return q15.IQ15(f.values[sample])
	}
	if f.bits[sample] {
		return 1
	}
	return 0
}

func buildFakeEventSource() *fakeEventSource {
	return &fakeEventSource{values: []int16{10, 20, 30}, bits: []bool{true, false, true}}
}

func TestWriteEventProducesThreeFilesInCSVCFGDATOrder(t *testing.T) {
	fs := hal.NewMemFileSystem()
	w := New(fs, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	src := buildFakeEventSource()
	f := future.New[struct{}]()
	code := w.WriteEvent(f, Event{Time: time.Date(2026, 7, 31, 9, 0, 1, 0, time.UTC), TriggeringIndex: 0}, src)
	require.Equal(t, errs.NoError, code)

	require.Eventually(t, f.Done, time.Second, time.Millisecond)
	assert.Equal(t, errs.NoError, f.Code())

	names, _ := fs.Glob("event_*")
	var hasCSV, hasCFG, hasDAT bool
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".csv"):
			hasCSV = true
		case strings.HasSuffix(n, ".cfg"):
			hasCFG = true
		case strings.HasSuffix(n, ".dat"):
			hasDAT = true
		}
	}
	assert.True(t, hasCSV)
	assert.True(t, hasCFG)
	assert.True(t, hasDAT)
}

// fakeTrendSource is a comtrade.Source + BufferSamples double for trend
// sync tests.
type fakeTrendSource struct {
	*fakeEventSource
	bufSamples int
}

func (f *fakeTrendSource) BufferSamples() int { return f.bufSamples }

func TestTrendSyncWritesCFGAndDATWhenRunning(t *testing.T) {
	fs := hal.NewMemFileSystem()
	w := New(fs, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	startFuture := future.New[struct{}]()
	require.Equal(t, errs.NoError, w.TrendStart(startFuture))
	require.Eventually(t, startFuture.Done, time.Second, time.Millisecond)

	src := &fakeTrendSource{fakeEventSource: buildFakeEventSource(), bufSamples: 3}
	syncFuture := future.New[struct{}]()
	require.Equal(t, errs.NoError, w.TrendSync(syncFuture, src))
	require.Eventually(t, syncFuture.Done, time.Second, time.Millisecond)
	assert.Equal(t, errs.NoError, syncFuture.Code())

	names, _ := fs.Glob("trend_*")
	assert.NotEmpty(t, names)
}

func TestTrendSyncNoOpWhenNotRunning(t *testing.T) {
	fs := hal.NewMemFileSystem()
	w := New(fs, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	src := &fakeTrendSource{fakeEventSource: buildFakeEventSource(), bufSamples: 3}
	syncFuture := future.New[struct{}]()
	require.Equal(t, errs.NoError, w.TrendSync(syncFuture, src))
	require.Eventually(t, syncFuture.Done, time.Second, time.Millisecond)

	names, _ := fs.Glob("trend_*")
	assert.Empty(t, names)
}

func TestTrendLimitFromSecondsEnforcesFloor(t *testing.T) {
	assert.Equal(t, 0, TrendLimitFromSeconds(1600, 0))
	assert.Equal(t, TrendLimitSamplesMin, TrendLimitFromSeconds(1, 1))
	assert.Equal(t, 3200, TrendLimitFromSeconds(1600, 2))
}

func TestRemoveOutdatedUnlinksOldTrendFilesOnly(t *testing.T) {
	fs := hal.NewMemFileSystem()
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	fs.SetNow(func() time.Time { return base })

	oldFile, _ := fs.Create("trend_old.cfg")
	oldFile.Close()

	fs.SetNow(func() time.Time { return base.Add(90 * time.Minute) })
	newFile, _ := fs.Create("trend_new.cfg")
	newFile.Close()

	other, _ := fs.Create("event_1.cfg")
	other.Close()

	w := New(fs, nil, nil)
	now := base.Add(100 * time.Minute)
	code := w.RemoveOutdated(time.Hour, func() time.Time { return now })
	assert.Equal(t, errs.NoError, code)

	names, _ := fs.Glob("trend_*")
	assert.Equal(t, []string{"trend_new.cfg"}, names)

	evNames, _ := fs.Glob("event_*")
	assert.Equal(t, []string{"event_1.cfg"}, evNames)
}

func TestQueueFullResolvesOutOfMemorySynchronously(t *testing.T) {
	fs := hal.NewMemFileSystem()
	w := New(fs, nil, nil)
	// Never started: w.Run is not consuming, so the 4-deep queue fills.
	var codes []errs.Code
	for i := 0; i < 5; i++ {
		f := future.New[struct{}]()
		codes = append(codes, w.ReadConf(f))
	}
	assert.Equal(t, errs.OutOfMemory, codes[len(codes)-1])
}
