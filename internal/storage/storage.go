// Package storage implements the storage writer (C6): a single goroutine
// owning the only filesystem handle in the process, pulling commands from a
// bounded channel and resolving each caller's future. Grounded on
// original_source/storage.c/storage.h (command queue + future pattern) and
// trends.c (rollover, per-sync CFG rewrite, retention).
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/catompiler/pqrecorder/internal/comtrade"
	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/future"
	"github.com/catompiler/pqrecorder/internal/hal"
	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// WriteRetries bounds the per-file-operation retry loop, per storage.c's
// write-then-retry pattern and trends.c's TRENDS_WRITE_RETRIES.
const WriteRetries = 3

// Event is the immutable value handed from the logger to the storage
// worker, per event.h's event_t.
type Event struct {
	Time            time.Time
	TriggeringIndex int
}

// ConfReader is the collaborator that supplies a freshly (re)loaded
// configuration, satisfied by internal/config.
type ConfReader interface {
	ReadConf() error
}

// EventSource adapts one paused event oscillogram buffer into both
// comtrade.Source and comtrade.CSVSource, so the storage worker need not
// import internal/osc. Implementations live alongside the logger wiring in
// cmd/pqrecorder.
type EventSource interface {
	comtrade.Source
	comtrade.CSVSource
}

// TrendSource adapts the trend oscillogram's currently-paused buffer,
// mirroring trends.c's trends_osc_data_t indirection. The running state for
// rollover/append (already-written sample count, file base name) is kept by
// the Worker, not by the source.
type TrendSource interface {
	comtrade.Source
	// BufferSamples is the number of committed samples in the buffer this
	// sync is draining.
	BufferSamples() int
}

type cmdKind int

const (
	cmdReadConf cmdKind = iota
	cmdWriteEvent
	cmdTrendStart
	cmdTrendStop
	cmdTrendSync
)

type command struct {
	kind   cmdKind
	event  Event
	source EventSource
	trend  TrendSource
	future *future.Future[struct{}]
}

// Worker is the storage goroutine's handle: a bounded command channel plus
// the filesystem it exclusively owns.
type Worker struct {
	fs   hal.FileSystem
	conf ConfReader
	cmds chan command
	log  *log.Logger

	trendState trendState
}

// New builds a storage worker over the given filesystem and config reader.
// Queue depth matches storage.c's STORAGE_QUEUE_SIZE (4 commands deep).
func New(fs hal.FileSystem, conf ConfReader, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		fs:   fs,
		conf: conf,
		cmds: make(chan command, 4),
		log:  logger.With("component", "storage"),
	}
}

// Run processes commands until ctx is cancelled. It is the storage
// goroutine's only blocking point besides individual filesystem calls,
// per §5's task model.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.cmds:
			w.process(cmd)
		}
	}
}

func (w *Worker) process(cmd command) {
	var code errs.Code
	switch cmd.kind {
	case cmdReadConf:
		code = w.handleReadConf()
	case cmdWriteEvent:
		code = w.handleWriteEvent(cmd.event, cmd.source)
	case cmdTrendStart:
		code = w.handleTrendStart()
	case cmdTrendStop:
		code = w.handleTrendStop()
	case cmdTrendSync:
		code = w.handleTrendSync(cmd.trend)
	}
	if cmd.future != nil {
		cmd.future.Finish(code, struct{}{})
	}
}

// enqueue submits a command, starting its future first per the spec's
// "future started before send" contract (storage_read_conf/storage_write_event
// call future_start before queueing) — if the channel is full, the future is
// finished immediately with OutOfMemory, matching the synchronous fallback
// in storage.c.
func (w *Worker) enqueue(cmd command) errs.Code {
	cmd.future.Start()
	select {
	case w.cmds <- cmd:
		return errs.NoError
	default:
		cmd.future.Finish(errs.OutOfMemory, struct{}{})
		return errs.OutOfMemory
	}
}

// ReadConf asks the worker to reload configuration, resolving f.
func (w *Worker) ReadConf(f *future.Future[struct{}]) errs.Code {
	return w.enqueue(command{kind: cmdReadConf, future: f})
}

// WriteEvent asks the worker to serialize one event capture, resolving f.
func (w *Worker) WriteEvent(f *future.Future[struct{}], e Event, src EventSource) errs.Code {
	return w.enqueue(command{kind: cmdWriteEvent, future: f, event: e, source: src})
}

// TrendStart asks the worker to begin a fresh trend file, resolving f.
func (w *Worker) TrendStart(f *future.Future[struct{}]) errs.Code {
	return w.enqueue(command{kind: cmdTrendStart, future: f})
}

// TrendStop asks the worker to stop trend writing, resolving f.
func (w *Worker) TrendStop(f *future.Future[struct{}]) errs.Code {
	return w.enqueue(command{kind: cmdTrendStop, future: f})
}

// TrendSync asks the worker to drain the currently-paused trend buffer to
// disk, resolving f.
func (w *Worker) TrendSync(f *future.Future[struct{}], src TrendSource) errs.Code {
	return w.enqueue(command{kind: cmdTrendSync, future: f, trend: src})
}

func (w *Worker) handleReadConf() errs.Code {
	if w.conf == nil {
		return errs.NoError
	}
	if err := w.conf.ReadConf(); err != nil {
		w.log.Warn("read conf failed", "err", err)
		return errs.IOError
	}
	return errs.NoError
}

// eventFileNameFormat matches event.c's "event_DD.MM.YYYY_HH-MM-SS" scheme.
const eventFileNameFormat = "event_%d.%m.%Y_%H-%M-%S"

func (w *Worker) handleWriteEvent(e Event, src EventSource) errs.Code {
	base, err := strftime.Format(eventFileNameFormat, e.Time)
	if err != nil {
		w.log.Error("format event file name failed", "err", err)
		return errs.InvalidValue
	}

	// CSV first, then CFG, then DAT, per §4.6.
	if code := w.retryWrite(base+".csv", func(w2 io.Writer) error {
		return comtrade.WriteCSV(w2, src)
	}); code != errs.NoError {
		return code
	}
	if code := w.retryWrite(base+".cfg", func(w2 io.Writer) error {
		return comtrade.WriteCFG(w2, src)
	}); code != errs.NoError {
		return code
	}
	if code := w.retryWrite(base+".dat", func(w2 io.Writer) error {
		n := src.SamplesCount()
		for s := 0; s < n; s++ {
			if err := comtrade.AppendDAT(w2, src, s, uint32(s)); err != nil {
				return err
			}
		}
		return nil
	}); code != errs.NoError {
		return code
	}

	w.log.Info("event written", "base", base, "trigger", e.TriggeringIndex)
	return errs.NoError
}

func (w *Worker) retryWrite(name string, write func(io.Writer) error) errs.Code {
	var lastErr error
	for attempt := 0; attempt < WriteRetries; attempt++ {
		f, err := w.fs.Create(name)
		if err != nil {
			lastErr = err
			continue
		}
		err = write(f)
		closeErr := f.Close()
		if err == nil && closeErr == nil {
			return errs.NoError
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = closeErr
		}
	}
	w.log.Warn("write failed after retries", "file", name, "err", lastErr)
	return errs.IOError
}

// trendState tracks the per-running-file state the trend sub-worker needs,
// mirroring trends.c's file_base_name/samples/timestamp fields.
type trendState struct {
	running      bool
	fileBaseName string
	samples      int
	timestamp    uint32
	limitSamples int // 0 == unlimited, per TRENDS_LIMIT_SAMPLES_UNLIMIT
}

// TrendLimitSamplesMin is the floor trends.c enforces on a non-zero
// per-file sample limit (TRENDS_LIMIT_SAMPLES_MIN).
const TrendLimitSamplesMin = 10

// TrendLimitFromSeconds converts a configured per-file duration into a
// sample-count limit, per trends_set_limit. 0 means unlimited.
func TrendLimitFromSeconds(freqHz int, seconds int) int {
	if seconds <= 0 {
		return 0
	}
	n := freqHz * seconds
	if n < TrendLimitSamplesMin {
		n = TrendLimitSamplesMin
	}
	return n
}

// SetTrendLimitSamples configures the rollover threshold (0 == unlimited).
func (w *Worker) SetTrendLimitSamples(n int) { w.trendState.limitSamples = n }

func (w *Worker) handleTrendStart() errs.Code {
	w.newTrendFile()
	w.trendState.running = true
	return errs.NoError
}

func (w *Worker) handleTrendStop() errs.Code {
	w.trendState.running = false
	return errs.NoError
}

func (w *Worker) newTrendFile() {
	w.trendState.samples = 0
	w.trendState.timestamp = 0
	w.trendState.fileBaseName = w.makeTrendFileBaseName()
}

// trendFileNameFormat matches trends.c's "trend_%02d.%02d.%04d_%02d-%02d-%02d".
const trendFileNameFormat = "trend_%d.%m.%Y_%H-%M-%S"

func (w *Worker) makeTrendFileBaseName() string {
	name, err := strftime.Format(trendFileNameFormat, time.Now())
	if err != nil {
		return fmt.Sprintf("trend_%d", time.Now().Unix())
	}
	return name
}

// handleTrendSync drains src's currently-paused buffer to the running trend
// file, splitting across a rollover boundary and opening a fresh file when
// the per-file limit is hit, per trends_task_write_osc_buf.
func (w *Worker) handleTrendSync(src TrendSource) errs.Code {
	if !w.trendState.running {
		return errs.NoError
	}
	if w.trendState.fileBaseName == "" {
		w.newTrendFile()
	}

	bufCount := src.BufferSamples()
	start := 0
	count := bufCount

	if w.trendState.limitSamples != 0 {
		if w.trendState.samples+bufCount >= w.trendState.limitSamples {
			if w.trendState.limitSamples >= w.trendState.samples {
				count = w.trendState.limitSamples - w.trendState.samples
				if code := w.writeTrendPart(src, start, count); code != errs.NoError {
					w.trendState.timestamp += uint32(bufCount)
					return code
				}
				w.trendState.timestamp += uint32(count)
				start = count
				count = bufCount - count
			}
			w.newTrendFile()
		}
	}

	code := w.writeTrendPart(src, start, count)
	w.trendState.timestamp += uint32(count)
	return code
}

// writeTrendPart writes [start, start+count) samples of src's buffer to the
// running trend file: CFG is rewritten wholesale on every sync (cheap,
// small file); DAT is appended record-by-record. Mirrors
// trends_task_write_osc_buf_part.
func (w *Worker) writeTrendPart(src TrendSource, start, count int) errs.Code {
	if count <= 0 {
		return errs.NoError
	}

	var cfgErr error
	for attempt := 0; attempt < WriteRetries; attempt++ {
		cfgErr = w.writeTrendCFG(src)
		if cfgErr == nil {
			break
		}
	}
	if cfgErr != nil {
		w.log.Warn("trend cfg write failed after retries", "err", cfgErr)
		return errs.IOError
	}

	var datErr error
	for attempt := 0; attempt < WriteRetries; attempt++ {
		datErr = w.appendTrendDAT(src, start, count)
		if datErr == nil {
			break
		}
	}
	if datErr != nil {
		w.log.Warn("trend dat write failed after retries", "err", datErr)
		return errs.IOError
	}

	w.trendState.samples += count
	return errs.NoError
}

func (w *Worker) writeTrendCFG(src TrendSource) error {
	f, err := w.fs.Create(w.trendState.fileBaseName + ".cfg")
	if err != nil {
		return err
	}
	defer f.Close()
	return comtrade.WriteCFG(f, src)
}

func (w *Worker) appendTrendDAT(src TrendSource, start, count int) error {
	f, err := w.fs.OpenAppend(w.trendState.fileBaseName + ".dat")
	if err != nil {
		return err
	}
	defer f.Close()
	for i := 0; i < count; i++ {
		sampleIdx := start + i
		nsample := w.trendState.samples + i
		timestamp := uint32(nsample) + w.trendState.timestamp
		if err := comtrade.AppendDAT(f, src, sampleIdx, timestamp); err != nil {
			return err
		}
	}
	return nil
}

// RemoveOutdated scans for trend_* files older than `outdate` seconds and
// unlinks them, per trends_remove_outdated. Called from the trend timer
// goroutine in cmd/pqrecorder once per outdate_interval.
func (w *Worker) RemoveOutdated(outdate time.Duration, now func() time.Time) errs.Code {
	names, err := w.fs.Glob("trend_*")
	if err != nil {
		w.log.Warn("trend retention glob failed", "err", err)
		return errs.IOError
	}
	for _, name := range names {
		mt, err := w.fs.ModTime(name)
		if err != nil {
			continue
		}
		if mt.Add(outdate).Before(now()) || mt.Add(outdate).Equal(now()) {
			if err := w.fs.Remove(name); err != nil {
				w.log.Warn("trend retention remove failed", "file", name, "err", err)
			}
		}
	}
	return errs.NoError
}
