// Package comtrade serializes event and trend captures to the COMTRADE
// (1999) CFG/DAT pair plus a CSV companion. Grounded line-by-line on
// original_source/comtrade.c and comtrade.h.
package comtrade

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/lestrrat-go/strftime"
)

// StandardYear is the COMTRADE revision year this package emits.
const StandardYear = 1999

// DatFileType is the only file type this package writes.
const DatFileType = "BINARY"

// PS identifiers for the channel "scaling applies to" field.
const (
	PSPrimary   = 'p'
	PSSecondary = 's'
)

// AnalogChannel describes one analog channel's CFG line, per
// comtrade_analog_channel_t.
type AnalogChannel struct {
	ChID      string
	Phase     string
	CCBM      string
	Unit      string
	A         q15.IQ15 // scale factor
	B         q15.IQ15 // offset
	Skew      uint32   // microseconds
	Min       int16
	Max       int16
	Primary   q15.IQ15
	Secondary q15.IQ15
	PS        byte
}

// DigitalChannel describes one digital channel's CFG line, per
// comtrade_digital_channel_t.
type DigitalChannel struct {
	ChID  string
	Phase string
	CCBM  string
	Y     bool // normal (quiescent) state
}

// SampleRate describes one entry of the CFG sample-rate table.
type SampleRate struct {
	Samp    q15.IQ15 // Hz
	EndSamp uint32   // last sample number at this rate
}

// Source supplies everything the writer needs to serialize one capture —
// the Go analogue of comtrade_t's callback table, satisfied by the
// oscillogram adapter (oscSource) in cmd/pqrecorder.
type Source interface {
	StationName() string
	RecDevID() string
	AnalogChannels() int
	AnalogChannel(i int) AnalogChannel
	DigitalChannels() int
	DigitalChannel(i int) DigitalChannel
	LineFreq() q15.IQ15
	SampleRates() []SampleRate
	DataTime() time.Time
	TriggerTime() time.Time
	TimeMult() uint32 // microseconds per sample
	AnalogValue(ch int, sample int) int16
	DigitalValue(ch int, sample int) bool
}

// WriteCFG writes the ASCII CFG file, per comtrade_write_cfg.
func WriteCFG(w io.Writer, src Source) error {
	bw := bufio.NewWriter(w)

	if err := writeStationLine(bw, src); err != nil {
		return err
	}
	if err := writeChannelsNumLine(bw, src); err != nil {
		return err
	}
	if err := writeChannelLines(bw, src); err != nil {
		return err
	}
	if err := writeLineFreqLine(bw, src); err != nil {
		return err
	}
	if err := writeRateLines(bw, src); err != nil {
		return err
	}
	if err := writeDatetimes(bw, src); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "%s\r\n", DatFileType); err != nil {
		return errs.New(errs.IOError, "comtrade: write dat file type: %v", err)
	}
	if _, err := fmt.Fprintf(bw, "%d\r\n", src.TimeMult()); err != nil {
		return errs.New(errs.IOError, "comtrade: write timemult: %v", err)
	}

	if err := bw.Flush(); err != nil {
		return errs.New(errs.IOError, "comtrade: flush cfg: %v", err)
	}
	return nil
}

func writeStationLine(w io.Writer, src Source) error {
	_, err := fmt.Fprintf(w, "%s,%s,%d\r\n", src.StationName(), src.RecDevID(), StandardYear)
	if err != nil {
		return errs.New(errs.IOError, "comtrade: write station line: %v", err)
	}
	return nil
}

func writeChannelsNumLine(w io.Writer, src Source) error {
	na, nd := src.AnalogChannels(), src.DigitalChannels()
	_, err := fmt.Fprintf(w, "%d,%dA,%dD\r\n", na+nd, na, nd)
	if err != nil {
		return errs.New(errs.IOError, "comtrade: write channel count line: %v", err)
	}
	return nil
}

func writeChannelLines(w io.Writer, src Source) error {
	for i := 0; i < src.AnalogChannels(); i++ {
		ch := src.AnalogChannel(i)
		_, err := fmt.Fprintf(w, "%d,%s,%s,%s,%s,%s,%s,%d,%d,%d,%s,%s,%c\r\n",
			i+1, ch.ChID, ch.Phase, ch.CCBM, ch.Unit,
			formatIQ15(ch.A), formatIQ15(ch.B),
			ch.Skew, ch.Min, ch.Max,
			formatIQ15(ch.Primary), formatIQ15(ch.Secondary), ch.PS)
		if err != nil {
			return errs.New(errs.IOError, "comtrade: write analog channel %d: %v", i, err)
		}
	}
	for i := 0; i < src.DigitalChannels(); i++ {
		ch := src.DigitalChannel(i)
		y := 0
		if ch.Y {
			y = 1
		}
		_, err := fmt.Fprintf(w, "%d,%s,%s,%s,%d\r\n", i+1, ch.ChID, ch.Phase, ch.CCBM, y)
		if err != nil {
			return errs.New(errs.IOError, "comtrade: write digital channel %d: %v", i, err)
		}
	}
	return nil
}

func writeLineFreqLine(w io.Writer, src Source) error {
	_, err := fmt.Fprintf(w, "%s\r\n", formatIQ15(src.LineFreq()))
	if err != nil {
		return errs.New(errs.IOError, "comtrade: write line frequency: %v", err)
	}
	return nil
}

func writeRateLines(w io.Writer, src Source) error {
	rates := src.SampleRates()
	if _, err := fmt.Fprintf(w, "%d\r\n", len(rates)); err != nil {
		return errs.New(errs.IOError, "comtrade: write rate count: %v", err)
	}
	if len(rates) == 0 {
		if _, err := fmt.Fprint(w, "0,9999999999\r\n"); err != nil {
			return errs.New(errs.IOError, "comtrade: write default rate line: %v", err)
		}
		return nil
	}
	for _, r := range rates {
		if _, err := fmt.Fprintf(w, "%s,%d\r\n", formatIQ15(r.Samp), r.EndSamp); err != nil {
			return errs.New(errs.IOError, "comtrade: write rate line: %v", err)
		}
	}
	return nil
}

// datetimeFormat matches original_source/comtrade.c's
// "%02u/%02u/%04u,%02u:%02u:%02u.%06u" layout (day/month/year), built on
// strftime then suffixed with the microsecond field, which the strftime
// package does not provide a verb for.
const datetimeFormat = "%d/%m/%Y,%H:%M:%S"

func writeDatetimes(w io.Writer, src Source) error {
	if err := writeDatetime(w, src.DataTime()); err != nil {
		return err
	}
	return writeDatetime(w, src.TriggerTime())
}

func writeDatetime(w io.Writer, t time.Time) error {
	s, err := strftime.Format(datetimeFormat, t)
	if err != nil {
		return errs.New(errs.InvalidValue, "comtrade: format datetime: %v", err)
	}
	usec := t.Nanosecond() / 1000
	if usec > 999999 {
		usec = 999999
	}
	if _, err := fmt.Fprintf(w, "%s.%06d\r\n", s, usec); err != nil {
		return errs.New(errs.IOError, "comtrade: write datetime: %v", err)
	}
	return nil
}

// formatIQ15 renders an IQ15 fixed-point value as a decimal string,
// matching iq15_tostr's fractional-point output.
func formatIQ15(v q15.IQ15) string {
	f := q15.ToFloatIQ(v)
	return fmt.Sprintf("%g", f)
}

// RecordSize returns the fixed per-sample DAT record size: two uint32
// header words plus one int16 per analog channel plus one packed int16
// per 16 digital channels, per comtrade_dat_record_size.
func RecordSize(src Source) int {
	digitalWords := (src.DigitalChannels() + 15) / 16
	return 4 + 4 + 2*src.AnalogChannels() + 2*digitalWords
}

// AppendDAT writes one binary DAT record for sampleIndex, per
// comtrade_append_dat.
func AppendDAT(w io.Writer, src Source, sampleIndex int, timestamp uint32) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(sampleIndex+1))
	binary.LittleEndian.PutUint32(hdr[4:8], timestamp)
	if _, err := w.Write(hdr[:]); err != nil {
		return errs.New(errs.IOError, "comtrade: write dat header: %v", err)
	}

	for i := 0; i < src.AnalogChannels(); i++ {
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(src.AnalogValue(i, sampleIndex)))
		if _, err := w.Write(buf[:]); err != nil {
			return errs.New(errs.IOError, "comtrade: write analog value ch %d: %v", i, err)
		}
	}

	var word uint16
	var bit uint
	for i := 0; i < src.DigitalChannels(); i++ {
		if src.DigitalValue(i, sampleIndex) {
			word |= 1 << bit
		}
		bit++
		if bit == 16 {
			var buf [2]byte
			binary.LittleEndian.PutUint16(buf[:], word)
			if _, err := w.Write(buf[:]); err != nil {
				return errs.New(errs.IOError, "comtrade: write digital word: %v", err)
			}
			bit, word = 0, 0
		}
	}
	if bit != 0 {
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], word)
		if _, err := w.Write(buf[:]); err != nil {
			return errs.New(errs.IOError, "comtrade: write final digital word: %v", err)
		}
	}

	return nil
}
