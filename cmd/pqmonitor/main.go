// Command pqmonitor is a diagnostic poll-and-print tool: it wires up the
// same analog/digital frontend pqrecorder does, over a simulated ADC, and
// prints every channel's live instantaneous/effective values at a fixed
// interval. Grounded on jbrzusto-ogdar/cmd/showreg/showreg.go's "read N
// registers every M milliseconds" loop, generalized from named FPGA
// registers to configured analog/digital channels.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catompiler/pqrecorder/internal/ain"
	"github.com/catompiler/pqrecorder/internal/config"
	"github.com/catompiler/pqrecorder/internal/din"
	"github.com/catompiler/pqrecorder/internal/hal"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

func main() {
	intervalMs := pflag.IntP("interval", "n", 1000, "milliseconds between polls")
	pflag.Parse()

	rootLog := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Level: log.WarnLevel})

	clock := &hal.SystemClock{}
	cfgLoader := config.New(clock, rootLog)
	if err := cfgLoader.ReadConf(); err != nil {
		rootLog.Fatal("config load failed", "err", err)
	}
	cfg := cfgLoader.Config()

	ainChannels := make([]*ain.Channel, len(cfg.AIN))
	for i, c := range cfg.AIN {
		ainChannels[i] = ain.NewChannel(c)
	}
	frontend := ain.NewFrontend(ainChannels, rootLog)
	frontend.SetEnabled(true)

	dinChannels := make([]*din.Channel, len(cfg.DIN))
	for i, c := range cfg.DIN {
		dinChannels[i] = din.NewChannel(c)
	}
	digitalSrc := hal.NewSimulatedDigitalSource(len(cfg.DIN))
	debouncer := din.NewDebouncer(dinChannels, digitalSrc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	adcFrames := make(chan hal.ADCFrame, 8)
	adcSource := &hal.SimulatedADC{Period: time.Second / ain.OversampleFreq, Channels: len(cfg.AIN)}
	go adcSource.Run(ctx, adcFrames, nil)
	go frontend.Run(ctx, adcFrames, nil)

	fmt.Printf("polling %d analog, %d digital channels every %dms (ctrl-C to stop)\n",
		len(cfg.AIN), len(cfg.DIN), *intervalMs)

	ticker := time.NewTicker(time.Duration(*intervalMs) * time.Millisecond)
	defer ticker.Stop()
	dt := q15.FromFloat(float64(*intervalMs) / 1000.0)

	for {
		select {
		case <-sigCh:
			cancel()
			return
		case <-ticker.C:
			debouncer.Process(dt)
			printSample(ainChannels, dinChannels)
		}
	}
}

func printSample(ainChannels []*ain.Channel, dinChannels []*din.Channel) {
	for _, c := range ainChannels {
		inst := q15.ToReal(c.ValueInst(), c.RealK())
		eff := q15.ToReal(c.ValueEff(), c.RealK())
		fmt.Printf("%-12s inst=%8.3f eff=%8.3f %s\n", c.Name(), q15.ToFloatIQ(inst), q15.ToFloatIQ(eff), c.Unit())
	}
	for _, c := range dinChannels {
		fmt.Printf("%-12s state=%v changed=%v\n", c.Name(), c.State(), c.Changed())
	}
}
