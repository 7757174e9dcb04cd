package logger

import (
	"testing"
	"time"

	"github.com/catompiler/pqrecorder/internal/ain"
	"github.com/catompiler/pqrecorder/internal/din"
	"github.com/catompiler/pqrecorder/internal/dout"
	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/future"
	"github.com/catompiler/pqrecorder/internal/hal"
	"github.com/catompiler/pqrecorder/internal/osc"
	"github.com/catompiler/pqrecorder/internal/storage"
	"github.com/catompiler/pqrecorder/internal/trig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDigitalSrc struct{ state bool }

func (f *fakeDigitalSrc) State() bool   { return f.state }
func (f *fakeDigitalSrc) Changed() bool { return true }

type fakeEventOsc struct {
	paused  bool
	enabled bool
	resumed bool
}

func (f *fakeEventOsc) SetEnabled(v bool)      { f.enabled = v }
func (f *fakeEventOsc) BufferPaused(int) bool  { return f.paused }
func (f *fakeEventOsc) WriteBufferIndex() int  { return 0 }
func (f *fakeEventOsc) Resume()                { f.resumed = true }

type fakeTrendController struct {
	startCalled, stopCalled, syncCalled bool
	syncCode                            errs.Code
}

func (f *fakeTrendController) TrendStart(ft *future.Future[struct{}]) errs.Code {
	f.startCalled = true
	ft.Start()
	ft.Finish(errs.NoError, struct{}{})
	return errs.NoError
}
func (f *fakeTrendController) TrendStop(ft *future.Future[struct{}]) errs.Code {
	f.stopCalled = true
	ft.Start()
	ft.Finish(errs.NoError, struct{}{})
	return errs.NoError
}
func (f *fakeTrendController) TrendSync(ft *future.Future[struct{}], src storage.TrendSource) errs.Code {
	f.syncCalled = true
	ft.Start()
	code := f.syncCode
	if code == errs.NoError {
		ft.Finish(errs.NoError, struct{}{})
	} else {
		ft.Finish(code, struct{}{})
	}
	return errs.NoError
}

type fakeBuilder struct{}

func (fakeBuilder) BuildEvent(int) storage.EventSource { return nil }
func (fakeBuilder) BuildTrend() storage.TrendSource    { return nil }

func buildOsc(t *testing.T) *osc.Oscillogram {
	t.Helper()
	o, err := osc.New(osc.Config{PoolSize: 0, NumBuffers: 1, DecimRate: 1, SampleFreq: 1600}, nil, nil)
	require.NoError(t, err)
	return o
}

func buildDin(t *testing.T) *din.Debouncer {
	t.Helper()
	src := hal.NewSimulatedDigitalSource(2)
	reset := din.NewChannel(din.ChannelConfig{Type: din.Reset, DebounceTime: 0, Name: "reset"})
	halt := din.NewChannel(din.ChannelConfig{Type: din.Halt, DebounceTime: 0, Name: "halt"})
	return din.NewDebouncer([]*din.Channel{reset, halt}, src)
}

func buildDout() (*dout.Controller, *hal.SimulatedDigitalSink) {
	run := dout.NewChannel(dout.ChannelConfig{Type: dout.Run, Name: "run"})
	errCh := dout.NewChannel(dout.ChannelConfig{Type: dout.Error, Name: "error"})
	evt := dout.NewChannel(dout.ChannelConfig{Type: dout.Event, Name: "event"})
	sink := hal.NewSimulatedDigitalSink(3)
	return dout.NewController([]*dout.Channel{run, errCh, evt}, sink), sink
}

func buildLogger(t *testing.T, readConf func(*future.Future[struct{}]) errs.Code) (*Logger, *fakeEventOsc, *fakeTrendController, *din.Debouncer, *dout.Controller, *hal.SimulatedDigitalSink) {
	t.Helper()
	a := ain.NewFrontend(nil, nil)
	tg := trig.New(nil)
	eo := &fakeEventOsc{}
	tc := &fakeTrendController{}
	dbn := buildDin(t)
	dc, sink := buildDout()
	trends := buildOsc(t)

	l := New(Deps{
		AIN:      a,
		Trig:     tg,
		EventOsc: eo,
		Trends:   trends,
		Din:      dbn,
		Dout:     dc,
		Trend:    tc,
		ReadConf: readConf,
		WriteEvent: func(f *future.Future[struct{}], e storage.Event, src storage.EventSource) errs.Code {
			f.Start()
			f.Finish(errs.NoError, struct{}{})
			return errs.NoError
		},
		Builder: fakeBuilder{},
	}, nil)
	return l, eo, tc, dbn, dc, sink
}

func TestNoInitTransitionsToRunOnSuccessfulConfRead(t *testing.T) {
	l, _, tc, _, _, _ := buildLogger(t, func(f *future.Future[struct{}]) errs.Code {
		f.Start()
		f.Finish(errs.NoError, struct{}{})
		return errs.NoError
	})

	now := time.Now()
	for i := 0; i < 4; i++ {
		l.Tick(now, 0)
	}
	assert.Equal(t, Run, l.State())
	assert.True(t, tc.startCalled)
}

func TestNoInitRetriesOnIOErrorThenSucceeds(t *testing.T) {
	attempt := 0
	l, _, _, _, _, _ := buildLogger(t, func(f *future.Future[struct{}]) errs.Code {
		f.Start()
		attempt++
		if attempt == 1 {
			f.Finish(errs.IOError, struct{}{})
		} else {
			f.Finish(errs.NoError, struct{}{})
		}
		return errs.NoError
	})

	now := time.Now()
	l.Tick(now, 0) // Begin -> WaitRead (1st read, fails)
	l.Tick(now, 0) // WaitRead observes IOError -> Retry
	assert.Equal(t, NoInit, l.State())

	// Retry deadline hasn't passed yet.
	l.Tick(now.Add(time.Millisecond), 0)
	assert.Equal(t, NoInit, l.State())

	// Past the 1s backoff: Retry -> Begin, then Begin runs again (read
	// succeeds this time) -> WaitRead -> Start -> Done -> Run: five ticks.
	later := now.Add(2 * time.Second)
	for i := 0; i < 5; i++ {
		l.Tick(later, 0)
	}
	assert.Equal(t, Run, l.State())
	assert.Equal(t, 2, attempt)
}

func TestNoInitGoesToErrorOnNonIOFailure(t *testing.T) {
	l, _, _, _, _, _ := buildLogger(t, func(f *future.Future[struct{}]) errs.Code {
		f.Start()
		f.Finish(errs.InvalidValue, struct{}{})
		return errs.NoError
	})

	now := time.Now()
	l.Tick(now, 0)
	l.Tick(now, 0)
	assert.Equal(t, Error, l.State())
}

func TestTriggerActivationMovesRunToEventAndBackAfterWrite(t *testing.T) {
	l, eo, _, _, _, _ := buildLogger(t, func(f *future.Future[struct{}]) errs.Code {
		f.Start()
		f.Finish(errs.NoError, struct{}{})
		return errs.NoError
	})

	now := time.Now()
	for i := 0; i < 4; i++ {
		l.Tick(now, 0)
	}
	require.Equal(t, Run, l.State())

	ch := trig.NewDigitalChannel(trig.ChannelConfig{
		Type: trig.OVF, Time: 0, Ref: 0, Enabled: true, Name: "trig0",
	}, &fakeDigitalSrc{state: true})
	l.trig = trig.New([]*trig.Channel{ch})
	l.trig.SetEnabled(true)

	l.Tick(now, 0)
	assert.Equal(t, Event, l.State())
	assert.Equal(t, 0, l.triggeringIndex)

	eo.paused = true
	// eventBegin already ran in the activating tick; eventWaitOsc ->
	// eventBeginWrite -> eventWaitWrite -> eventDone (Resume + back to Run)
	// take four more ticks, and the fifth runs in Run.
	for i := 0; i < 5; i++ {
		l.Tick(now, 0)
	}
	assert.Equal(t, Run, l.State())
	assert.True(t, eo.resumed)
}

func TestHaltForcedTransitionSyncsTrendsThenRests(t *testing.T) {
	l, _, tc, dbn, _, _ := buildLogger(t, func(f *future.Future[struct{}]) errs.Code {
		f.Start()
		f.Finish(errs.NoError, struct{}{})
		return errs.NoError
	})

	now := time.Now()
	for i := 0; i < 4; i++ {
		l.Tick(now, 0)
	}
	require.Equal(t, Run, l.State())

	src := hal.NewSimulatedDigitalSource(2)
	dbn2 := din.NewDebouncer(dbn.Channels, src)
	l.din = dbn2
	src.Set(1, true) // HALT-typed channel index 1

	// First tick moves Steady -> Transitioning; with DebounceTime 0 the
	// second tick's dwell already satisfies the threshold and commits,
	// asserting Changed() for exactly the one tick that follows.
	dbn2.Process(0)
	dbn2.Process(0)
	l.Tick(now, 0) // forced transition consumes the Changed pulse this tick
	assert.Equal(t, Halt, l.State())
	assert.Equal(t, haltBegin, l.halt)

	// A further debounce tick (no new transition) clears Changed so
	// checkForcedTransitions stops re-firing and the Halt sub-states can run.
	dbn2.Process(0)

	l.Tick(now, 0) // haltBegin: stop + sync trends
	assert.True(t, tc.syncCalled)
	assert.Equal(t, haltSync, l.halt)

	l.Tick(now, 0) // haltSync observes the fake sync future already done
	assert.Equal(t, haltDone, l.halt)
	assert.Equal(t, Halt, l.State())
}

func TestResetForcedTransitionReturnsToNoInit(t *testing.T) {
	l, _, _, dbn, _, _ := buildLogger(t, func(f *future.Future[struct{}]) errs.Code {
		f.Start()
		f.Finish(errs.NoError, struct{}{})
		return errs.NoError
	})

	now := time.Now()
	for i := 0; i < 4; i++ {
		l.Tick(now, 0)
	}
	require.Equal(t, Run, l.State())

	src := hal.NewSimulatedDigitalSource(2)
	dbn2 := din.NewDebouncer(dbn.Channels, src)
	l.din = dbn2
	src.Set(0, true) // RESET-typed channel index 0
	dbn2.Process(0)
	dbn2.Process(0)

	l.Tick(now, 0)
	assert.Equal(t, NoInit, l.State())
}

func TestOutputMappingReflectsState(t *testing.T) {
	l, _, _, _, _, sink := buildLogger(t, func(f *future.Future[struct{}]) errs.Code {
		f.Start()
		f.Finish(errs.NoError, struct{}{})
		return errs.NoError
	})

	now := time.Now()
	l.Tick(now, 0) // still NoInit this tick: RUN output should reflect NoInit state, i.e. off
	assert.False(t, sink.Get(0))

	for i := 0; i < 3; i++ {
		l.Tick(now, 0)
	}
	require.Equal(t, Run, l.State())
	assert.True(t, sink.Get(0))  // RUN
	assert.False(t, sink.Get(1)) // ERROR
	assert.False(t, sink.Get(2)) // EVENT
}
