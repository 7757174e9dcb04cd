// Package logger implements the top-level state machine (C5): NoInit,
// Run, Event, Error and Halt, driven by a ~1ms tick. Grounded on
// original_source/logger.c and logger.h. The Halt sub-state machine and
// the RESET/HALT digital-input-forced transitions are not present in that
// revision (logger_process_state has no LOGGER_STATE_HALT case, and
// logger_state_run/logger_state_error are both empty); they are authored
// here directly from the recorder's behavioral contract for those states.
package logger

import (
	"sync"
	"time"

	"github.com/catompiler/pqrecorder/internal/ain"
	"github.com/catompiler/pqrecorder/internal/din"
	"github.com/catompiler/pqrecorder/internal/dout"
	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/future"
	"github.com/catompiler/pqrecorder/internal/osc"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/catompiler/pqrecorder/internal/storage"
	"github.com/catompiler/pqrecorder/internal/trig"
	"github.com/charmbracelet/log"
)

// State is one of the five top-level logger states.
type State int

const (
	NoInit State = iota
	Run
	Event
	Error
	Halt
)

func (s State) String() string {
	switch s {
	case NoInit:
		return "no_init"
	case Run:
		return "run"
	case Event:
		return "event"
	case Error:
		return "error"
	case Halt:
		return "halt"
	default:
		return "unknown"
	}
}

// noInitSub is NoInit's nested sub-state, per §4.5.
type noInitSub int

const (
	noInitBegin noInitSub = iota
	noInitWaitRead
	noInitStart
	noInitDone
	noInitRetry
)

// eventSub is Event's nested sub-state, per §4.5.
type eventSub int

const (
	eventBegin eventSub = iota
	eventWaitOsc
	eventBeginWrite
	eventWaitWrite
	eventDone
	eventRetry
)

// haltSub is Halt's nested sub-state — authored for the recorder, with no
// literal counterpart in logger.c.
type haltSub int

const (
	haltBegin haltSub = iota
	haltSync
	haltDone
)

// configDelay/eventDelay are the IO-error retry cadences, per logger.c's
// LOGGER_CONFIG_DELAY/LOGGER_EVENT_DELAY (1000ms).
const (
	configDelay = time.Second
	eventDelay  = time.Second
)

// EventOscillogram is the capability the Event state needs from the event
// (pre-trigger ring) oscillogram: pause-on-trigger and drain/resume once
// storage has persisted the paused buffer.
type EventOscillogram interface {
	SetEnabled(v bool)
	BufferPaused(idx int) bool
	WriteBufferIndex() int
	Resume()
}

// TrendController is the capability the NoInit/Halt states need to drive
// trend writing start/stop/sync through the storage worker.
type TrendController interface {
	TrendStart(f *future.Future[struct{}]) errs.Code
	TrendStop(f *future.Future[struct{}]) errs.Code
	TrendSync(f *future.Future[struct{}], src storage.TrendSource) errs.Code
}

// EventBuilder constructs a storage.EventSource snapshot of the event
// oscillogram's currently-paused buffer once it has filled, and a
// storage.TrendSource snapshot of the trend oscillogram's paused buffer on
// each sync tick. Both live in cmd/pqrecorder, alongside the *osc.Oscillogram
// instances they adapt, to avoid internal/storage importing internal/osc.
type EventBuilder interface {
	BuildEvent(triggeringIndex int) storage.EventSource
	BuildTrend() storage.TrendSource
}

// Logger owns the top-level state machine. Its tick-to-tick state is
// touched only from the goroutine that calls Tick; State is exposed under
// a mutex for diagnostics.
type Logger struct {
	mu sync.RWMutex

	state     State
	noInit    noInitSub
	event     eventSub
	halt      haltSub
	deadline  time.Time // retry-after time for the current IO-error backoff

	ain      *ain.Frontend
	trig     *trig.Engine
	eventOsc EventOscillogram
	trends   *osc.Oscillogram
	din      *din.Debouncer
	dout     *dout.Controller
	storage  TrendController
	builder  EventBuilder

	readConf   func(*future.Future[struct{}]) errs.Code
	writeEvent func(f *future.Future[struct{}], e storage.Event, src storage.EventSource) errs.Code

	confFuture  *future.Future[struct{}]
	eventFuture *future.Future[struct{}]
	trendFuture *future.Future[struct{}]

	triggeringIndex int

	log *log.Logger
}

// Deps bundles the collaborators a Logger is wired against. ReadConf issues
// storage.Worker.ReadConf; WriteEvent issues storage.Worker.WriteEvent —
// passed as closures so this package need not name *storage.Worker
// directly (keeps the dependency direction the same one internal/storage
// already declares: storage knows nothing of logger).
type Deps struct {
	AIN      *ain.Frontend
	Trig     *trig.Engine
	EventOsc EventOscillogram
	Trends   *osc.Oscillogram
	Din      *din.Debouncer
	Dout     *dout.Controller
	Trend    TrendController
	ReadConf func(*future.Future[struct{}]) errs.Code
	WriteEvent func(f *future.Future[struct{}], e storage.Event, src storage.EventSource) errs.Code
	Builder  EventBuilder
}

// New builds a Logger in the NoInit/Begin state.
func New(d Deps, logger *log.Logger) *Logger {
	if logger == nil {
		logger = log.Default()
	}
	return &Logger{
		state:       NoInit,
		noInit:      noInitBegin,
		ain:         d.AIN,
		trig:        d.Trig,
		eventOsc:    d.EventOsc,
		trends:      d.Trends,
		din:         d.Din,
		dout:        d.Dout,
		storage:     d.Trend,
		builder:     d.Builder,
		readConf:    d.ReadConf,
		writeEvent:  d.WriteEvent,
		confFuture:  future.New[struct{}](),
		eventFuture: future.New[struct{}](),
		trendFuture: future.New[struct{}](),
		log:         logger.With("component", "logger"),
	}
}

// State reports the current top-level state.
func (l *Logger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Logger) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != s {
		l.log.Info("state transition", "from", l.state, "to", s)
	}
	l.state = s
}

// Tick runs one ~1ms iteration of the logger task, per logger_task_proc's
// loop body: snapshot RESET/HALT inputs, poll triggers, run the current
// state handler, update outputs.
func (l *Logger) Tick(now time.Time, dt q15.Q15) {
	if l.checkForcedTransitions() {
		return
	}

	if l.State() == Run {
		l.checkTrigs(dt)
	}

	switch l.State() {
	case NoInit:
		l.tickNoInit(now)
	case Run:
		// logger_state_run is empty in the source: nothing to do besides
		// the trigger check already run above and the output mapping below.
	case Event:
		l.tickEvent(now)
	case Error:
		// logger_state_error is empty in the source.
	case Halt:
		l.tickHalt(now)
	}

	l.updateOutputs()
}

// checkForcedTransitions implements §4.5's digital-input-driven forced
// transitions: a rising edge on a RESET-typed input forces NoInit, a
// rising edge on a HALT-typed input forces Halt. Returns true if a forced
// transition was taken this tick (the rest of Tick is skipped, mirroring
// an ISR-style override rather than blending with the state's own logic).
func (l *Logger) checkForcedTransitions() bool {
	if l.din == nil {
		return false
	}
	if changed, state, ok := l.din.ChangedState(din.Reset); ok && changed && state {
		l.log.Info("forced transition", "cause", "reset_input")
		l.enterNoInit()
		return true
	}
	if changed, state, ok := l.din.ChangedState(din.Halt); ok && changed && state {
		l.log.Info("forced transition", "cause", "halt_input")
		l.enterHalt()
		return true
	}
	return false
}

func (l *Logger) enterNoInit() {
	l.setState(NoInit)
	l.noInit = noInitBegin
}

func (l *Logger) enterHalt() {
	l.setState(Halt)
	l.halt = haltBegin
}

// checkTrigs runs the trigger engine and, on activation, captures the
// LAST-activated channel's index (trig.Engine.Check already resolves the
// tie-break) and transitions RUN -> EVENT, per logger_check_trigs. Trigger
// checking never runs outside Run, per the source.
func (l *Logger) checkTrigs(dt q15.Q15) {
	if l.trig == nil {
		return
	}
	activated, idx := l.trig.Check(dt)
	if !activated {
		return
	}
	l.triggeringIndex = idx
	l.setState(Event)
	l.event = eventBegin
}

func (l *Logger) tickNoInit(now time.Time) {
	switch l.noInit {
	case noInitBegin:
		if l.storage != nil {
			l.storage.TrendStop(future.New[struct{}]())
		}
		if l.ain != nil {
			l.ain.SetEnabled(false)
			l.ain.Reset()
		}
		if l.trig != nil {
			l.trig.SetEnabled(false)
			l.trig.Reset()
		}
		if l.trends != nil {
			l.trends.SetEnabled(false)
			l.trends.Reset()
		}
		l.confFuture = future.New[struct{}]()
		if l.readConf != nil {
			l.readConf(l.confFuture)
		} else {
			l.confFuture.Finish(errs.NoError, struct{}{})
		}
		l.noInit = noInitWaitRead

	case noInitWaitRead:
		if !l.confFuture.Done() {
			return
		}
		switch l.confFuture.Code() {
		case errs.NoError:
			l.noInit = noInitStart
		case errs.IOError:
			l.deadline = now.Add(configDelay)
			l.noInit = noInitRetry
		default:
			l.setState(Error)
		}

	case noInitStart:
		if l.ain != nil {
			l.ain.SetEnabled(true)
		}
		if l.trig != nil {
			l.trig.SetEnabled(true)
		}
		if l.eventOsc != nil {
			l.eventOsc.SetEnabled(true)
		}
		if l.trends != nil {
			l.trends.SetEnabled(true)
		}
		if l.storage != nil {
			l.storage.TrendStart(future.New[struct{}]())
		}
		l.noInit = noInitDone

	case noInitDone:
		l.setState(Run)

	case noInitRetry:
		if !now.Before(l.deadline) {
			l.noInit = noInitBegin
		}
	}
}

func (l *Logger) tickEvent(now time.Time) {
	switch l.event {
	case eventBegin:
		if l.eventOsc != nil {
			// Pause is not issued here: cmd/pqrecorder's tick loop calls it
			// right after the tick that enters Event, and the oscillogram
			// engine's commitSampleLocked-driven post-trigger countdown then
			// freezes the buffer; eventWaitOsc waits for that.
		}
		l.event = eventWaitOsc

	case eventWaitOsc:
		if l.eventOsc == nil {
			l.event = eventBeginWrite
			return
		}
		idx := l.eventOsc.WriteBufferIndex()
		if l.eventOsc.BufferPaused(idx) {
			l.event = eventBeginWrite
		}

	case eventBeginWrite:
		l.eventFuture = future.New[struct{}]()
		if l.writeEvent != nil && l.builder != nil {
			src := l.builder.BuildEvent(l.triggeringIndex)
			l.writeEvent(l.eventFuture, storage.Event{Time: now, TriggeringIndex: l.triggeringIndex}, src)
		} else {
			l.eventFuture.Finish(errs.NoError, struct{}{})
		}
		l.event = eventWaitWrite

	case eventWaitWrite:
		if !l.eventFuture.Done() {
			return
		}
		switch l.eventFuture.Code() {
		case errs.NoError:
			l.event = eventDone
		case errs.IOError:
			l.deadline = now.Add(eventDelay)
			l.event = eventRetry
		default:
			l.setState(Error)
		}

	case eventDone:
		if l.eventOsc != nil {
			l.eventOsc.Resume()
		}
		l.setState(Run)

	case eventRetry:
		if !now.Before(l.deadline) {
			l.event = eventBeginWrite
		}
	}
}

func (l *Logger) tickHalt(now time.Time) {
	switch l.halt {
	case haltBegin:
		if l.storage != nil {
			l.storage.TrendStop(future.New[struct{}]())
		}
		l.trendFuture = future.New[struct{}]()
		if l.storage != nil && l.builder != nil {
			l.storage.TrendSync(l.trendFuture, l.builder.BuildTrend())
		} else {
			l.trendFuture.Finish(errs.NoError, struct{}{})
		}
		l.halt = haltSync

	case haltSync:
		if !l.trendFuture.Done() {
			return
		}
		l.halt = haltDone

	case haltDone:
		// Rests here; only a RESET-typed forced transition leaves Halt.
	}
}

// updateOutputs drives the RUN/ERROR/EVENT digital outputs per §4.5:
// RUN = (state in {Run, Event} or Halt not yet Done); ERROR = (state ==
// Error); EVENT = (state == Event).
func (l *Logger) updateOutputs() {
	if l.dout == nil {
		return
	}
	st := l.State()
	haltNotDone := st == Halt && l.halt != haltDone
	l.dout.SetTypeState(dout.Run, st == Run || st == Event || haltNotDone)
	l.dout.SetTypeState(dout.Error, st == Error)
	l.dout.SetTypeState(dout.Event, st == Event)
	l.dout.Process()
}
