// Command pqrecorder is the power-quality disturbance recorder process:
// it wires the analog frontend, digital inputs/outputs, trigger engine,
// event/trend oscillograms, storage worker, and the top-level logger state
// machine together and drives them from a ~1ms tick, per §5's task model.
// Grounded on jbrzusto-ogdar/ogdar.go's role as the process entry point,
// generalized from a one-shot FPGA register dump into a long-running
// service with signal-driven shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catompiler/pqrecorder/internal/ain"
	"github.com/catompiler/pqrecorder/internal/config"
	"github.com/catompiler/pqrecorder/internal/din"
	"github.com/catompiler/pqrecorder/internal/dout"
	"github.com/catompiler/pqrecorder/internal/dsp"
	"github.com/catompiler/pqrecorder/internal/hal"
	"github.com/catompiler/pqrecorder/internal/logger"
	"github.com/catompiler/pqrecorder/internal/osc"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/catompiler/pqrecorder/internal/storage"
	"github.com/catompiler/pqrecorder/internal/trig"
	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

// tickPeriod matches logger.go's documented ~1ms cadence.
const tickPeriod = time.Millisecond

// eventCaptureSeconds is the total duration (pre + post trigger) the event
// oscillogram is sized for; oscRatio splits it into pre/post shares.
const eventCaptureSeconds = 1.0

// trendBufferSeconds is the per-buffer duration the trend oscillogram's two
// ring buffers are sized for, independent of the on-disk rollover limit
// (trend.limit) which only bounds file size, not in-memory buffer size.
const trendBufferSeconds = 60.0

func main() {
	dataDir := pflag.StringP("data-dir", "d", ".", "directory event/trend/CFG files are written to")
	logLevel := pflag.StringP("log-level", "l", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	lvl, err := log.ParseLevel(*logLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	rootLog := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Level: lvl})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		rootLog.Info("signal received, shutting down")
		cancel()
	}()

	clock := &hal.SystemClock{}
	fs := &hal.OSFileSystem{Dir: *dataDir}

	cfgLoader := config.New(clock, rootLog)
	if err := cfgLoader.ReadConf(); err != nil {
		rootLog.Fatal("initial config load failed", "err", err)
	}
	cfg := cfgLoader.Config()

	ainChannels := make([]*ain.Channel, len(cfg.AIN))
	for i, c := range cfg.AIN {
		ainChannels[i] = ain.NewChannel(c)
	}
	frontend := ain.NewFrontend(ainChannels, rootLog)

	dinChannels := make([]*din.Channel, len(cfg.DIN))
	for i, c := range cfg.DIN {
		dinChannels[i] = din.NewChannel(c)
	}
	digitalSrc := hal.NewSimulatedDigitalSource(len(cfg.DIN))
	debouncer := din.NewDebouncer(dinChannels, digitalSrc)

	trigChannels := make([]*trig.Channel, 0, len(cfg.Trig))
	for _, c := range cfg.Trig {
		switch c.SrcType {
		case trig.AIN:
			trigChannels = append(trigChannels, trig.NewAnalogChannel(c, ainChannels[c.SrcIndex]))
		case trig.DIN:
			trigChannels = append(trigChannels, trig.NewDigitalChannel(c, dinChannels[c.SrcIndex]))
		}
	}
	trigEngine := trig.New(trigChannels)

	eventSampleFreq := ain.SampleFreq / safeRate(cfg.Osc.Rate)
	eventChannels, eventAnalogMeta, eventDigiMeta := buildOscChannels(cfg, ainChannels, dinChannels)
	eventOsc, err := osc.New(osc.Config{
		PoolSize:   uint32(eventSampleFreq*eventCaptureSeconds) * uint32(max1(len(cfg.OscChannels))),
		NumBuffers: 1,
		Mode:       osc.RingInBuffer,
		DecimRate:  safeRate(cfg.Osc.Rate),
		SampleFreq: eventSampleFreq,
		LineFreq:   int(q15.ToFloatIQ(cfg.Station.LineFreq)),
	}, eventChannels, rootLog)
	if err != nil {
		rootLog.Fatal("event oscillogram init failed", "err", err)
	}

	trendSampleFreq := ain.SampleFreq / safeRate(cfg.Trend.Rate)
	trendChannels, trendAnalogMeta, trendDigiMeta := buildOscChannels(cfg, ainChannels, dinChannels)
	trendOsc, err := osc.New(osc.Config{
		PoolSize:   uint32(trendSampleFreq*trendBufferSeconds) * 2 * uint32(max1(len(cfg.OscChannels))),
		NumBuffers: 2,
		Mode:       osc.BufferInRing,
		DecimRate:  safeRate(cfg.Trend.Rate),
		SampleFreq: trendSampleFreq,
		LineFreq:   int(q15.ToFloatIQ(cfg.Station.LineFreq)),
	}, trendChannels, rootLog)
	if err != nil {
		rootLog.Fatal("trend oscillogram init failed", "err", err)
	}

	doutChannels := make([]*dout.Channel, len(cfg.Dout))
	for i, c := range cfg.Dout {
		doutChannels[i] = dout.NewChannel(c)
	}
	digitalSink := hal.NewSimulatedDigitalSink(len(cfg.Dout))
	doutController := dout.NewController(doutChannels, digitalSink)

	storageWorker := storage.New(fs, cfgLoader, rootLog)
	storageWorker.SetTrendLimitSamples(storage.TrendLimitFromSeconds(trendSampleFreq, cfg.Trend.Limit))
	go storageWorker.Run(ctx)

	builder := &eventBuilder{
		eventOsc:        eventOsc,
		trendOsc:        trendOsc,
		trig:            trigEngine,
		station:         cfg.Station,
		oscRatio:        cfg.Log.OscRatio,
		eventAnalogMeta: eventAnalogMeta,
		eventDigiMeta:   eventDigiMeta,
		trendAnalogMeta: trendAnalogMeta,
		trendDigiMeta:   trendDigiMeta,
	}

	lg := logger.New(logger.Deps{
		AIN:        frontend,
		Trig:       trigEngine,
		EventOsc:   eventOsc,
		Trends:     trendOsc,
		Din:        debouncer,
		Dout:       doutController,
		Trend:      storageWorker,
		ReadConf:   storageWorker.ReadConf,
		WriteEvent: storageWorker.WriteEvent,
		Builder:    builder,
	}, rootLog)

	adcFrames := make(chan hal.ADCFrame, 8)
	adcSource := &hal.SimulatedADC{Period: time.Second / ain.OversampleFreq, Channels: len(cfg.AIN)}
	go adcSource.Run(ctx, adcFrames, func() { rootLog.Warn("adc frame dropped") })
	go frontend.Run(ctx, adcFrames, func() {
		eventOsc.Append()
		trendOsc.Append()
	})

	if cfg.Trend.OutdateInterval > 0 {
		go runRetentionSweep(ctx, storageWorker, cfg, clock)
	}

	runTickLoop(ctx, lg, debouncer, eventOsc, cfg)
}

// buildOscChannels constructs a fresh set of oscillogram channels (with
// their own reducer state) over the shared analog/digital channel sources,
// per cfg.OscChannels — called once each for the event and trend
// oscillograms, since the two must not share reducer state.
func buildOscChannels(cfg config.Config, ainChannels []*ain.Channel, dinChannels []*din.Channel) ([]*osc.Channel, []channelMeta, []string) {
	var channels []*osc.Channel
	var analogMeta []channelMeta
	var digiMeta []string
	for _, occ := range cfg.OscChannels {
		switch occ.SrcType {
		case osc.AIN:
			if occ.SrcIndex < 0 || occ.SrcIndex >= len(ainChannels) {
				continue
			}
			src := ainChannels[occ.SrcIndex]
			channels = append(channels, osc.NewAnalogChannel(occ, src, dsp.NewAverageReducer()))
			analogMeta = append(analogMeta, channelMeta{name: occ.Name, unit: src.Unit(), realK: src.RealK()})
		case osc.DIN:
			if occ.SrcIndex < 0 || occ.SrcIndex >= len(dinChannels) {
				continue
			}
			src := dinChannels[occ.SrcIndex]
			channels = append(channels, osc.NewDigitalChannel(occ, src, dsp.NewMajorityReducer()))
			digiMeta = append(digiMeta, occ.Name)
		}
	}
	return channels, analogMeta, digiMeta
}

// runTickLoop drives the ~1ms digital-input debounce / logger state machine
// cadence, and pauses the event oscillogram the instant the logger leaves
// Run for Event — the "cmd/pqrecorder wires Pause on activation" contract
// documented in internal/logger's tickEvent.
func runTickLoop(ctx context.Context, lg *logger.Logger, debouncer *din.Debouncer, eventOsc *osc.Oscillogram, cfg config.Config) {
	dt := q15.FromFloat(tickPeriod.Seconds())
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	postTrigger := eventCaptureSeconds * q15.ToFloatIQ(cfg.Log.OscRatio)
	prevState := lg.State()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			debouncer.Process(dt)
			lg.Tick(now, dt)
			cur := lg.State()
			if cur == logger.Event && prevState != logger.Event {
				eventOsc.Pause(postTrigger)
			}
			prevState = cur
		}
	}
}

// runRetentionSweep periodically unlinks trend files older than
// cfg.Trend.Outdate, per trends_remove_outdated's own timer.
func runRetentionSweep(ctx context.Context, w *storage.Worker, cfg config.Config, clock hal.Clock) {
	interval := time.Duration(cfg.Trend.OutdateInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	outdate := time.Duration(cfg.Trend.Outdate) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cfg.Trend.Outdate > 0 {
				w.RemoveOutdated(outdate, clock.Now)
			}
		}
	}
}

func safeRate(r int) int {
	if r <= 0 {
		return 1
	}
	return r
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
