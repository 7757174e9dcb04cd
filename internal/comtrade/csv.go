package comtrade

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/lestrrat-go/strftime"
)

// CSVChannelKind distinguishes an analog (VAL) from a digital (BIT) row in
// the CSV companion, per §4.6's "Channels: N" section.
type CSVChannelKind int

const (
	CSVAnalog CSVChannelKind = iota
	CSVDigital
)

// csvDelim matches csv_evdelim in original_source/event.c.
const csvDelim = ";"

// CSVSource supplies everything the human-readable companion needs,
// grounded on original_source/event.c's event_csv_write_file and its
// helpers.
type CSVSource interface {
	EventTime() time.Time
	TriggerIndex() int
	TriggerName() string
	SampleFreq() int
	Rate() int
	Skew() int
	SamplesCount() int
	StartTime() time.Time
	SamplePeriod() time.Duration
	ChannelCount() int
	ChannelName(i int) string
	ChannelUnit(i int) string
	ChannelKind(i int) CSVChannelKind
	// ChannelScale is the analog channel's real_k reciprocal (Q15_BASE/scale
	// in the C source), unused for digital channels.
	ChannelScale(i int) q15.IQ15
	// ChannelValue returns the already-real-unit-scaled analog value, or
	// 0/1 for a digital channel, at the given chronological sample index.
	ChannelValue(i int, sample int) q15.IQ15
}

const csvDateFormat = "%d.%m.%Y"
const csvTimeFormat = "%H:%M:%S"

// WriteCSV writes the event_<date>_<time>.csv companion file, per
// event_csv_write_file / event_csv_write_oscs.
func WriteCSV(w io.Writer, src CSVSource) error {
	bw := bufio.NewWriter(w)

	t := src.EventTime()
	dateStr, err := strftime.Format(csvDateFormat, t)
	if err != nil {
		return errs.New(errs.InvalidValue, "comtrade: format csv date: %v", err)
	}
	timeStr, err := strftime.Format(csvTimeFormat, t)
	if err != nil {
		return errs.New(errs.InvalidValue, "comtrade: format csv time: %v", err)
	}
	usec := clampUsec(t.Nanosecond() / 1000)

	if _, err := fmt.Fprintf(bw, "Date%s%s\n", csvDelim, dateStr); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv date: %v", err)
	}
	if _, err := fmt.Fprintf(bw, "Time%s%s.%06d\n", csvDelim, timeStr, usec); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv time: %v", err)
	}
	if _, err := fmt.Fprintf(bw, "Trigger%s%d%s%s\n", csvDelim, src.TriggerIndex(), csvDelim, src.TriggerName()); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv trigger: %v", err)
	}
	if _, err := fmt.Fprintf(bw, "Freq%s%d\n", csvDelim, src.SampleFreq()); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv freq: %v", err)
	}
	if _, err := fmt.Fprintf(bw, "Rate%s%d\n", csvDelim, src.Rate()); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv rate: %v", err)
	}
	if _, err := fmt.Fprintf(bw, "Skew%s%d\n", csvDelim, src.Skew()); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv skew: %v", err)
	}
	if _, err := fmt.Fprintf(bw, "Samples%s%d\n", csvDelim, src.SamplesCount()); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv samples: %v", err)
	}

	if err := writeCSVChannels(bw, src); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return errs.New(errs.IOError, "comtrade: flush csv: %v", err)
	}
	return nil
}

func writeCSVChannels(w io.Writer, src CSVSource) error {
	n := src.ChannelCount()
	if _, err := fmt.Fprintf(w, "Channels: %d\n", n); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv channel count: %v", err)
	}

	if _, err := io.WriteString(w, "Name"); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv names: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := fmt.Fprintf(w, "%s%s", csvDelim, src.ChannelName(i)); err != nil {
			return errs.New(errs.IOError, "comtrade: write csv name %d: %v", i, err)
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv names newline: %v", err)
	}

	if _, err := io.WriteString(w, "Unit"); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv units: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := fmt.Fprintf(w, "%s%s", csvDelim, src.ChannelUnit(i)); err != nil {
			return errs.New(errs.IOError, "comtrade: write csv unit %d: %v", i, err)
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv units newline: %v", err)
	}

	// Scale is unconditionally written per §9's restored event.c behavior:
	// always present for analog channels, omitted (blank) for digital.
	if _, err := io.WriteString(w, "Scale"); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv scale: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := io.WriteString(w, csvDelim); err != nil {
			return errs.New(errs.IOError, "comtrade: write csv scale delim: %v", err)
		}
		if src.ChannelKind(i) == CSVAnalog {
			if _, err := io.WriteString(w, formatIQ15(src.ChannelScale(i))); err != nil {
				return errs.New(errs.IOError, "comtrade: write csv scale %d: %v", i, err)
			}
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return errs.New(errs.IOError, "comtrade: write csv scale newline: %v", err)
	}

	return writeCSVData(w, src)
}

func writeCSVData(w io.Writer, src CSVSource) error {
	n := src.ChannelCount()
	samples := src.SamplesCount()
	ts := src.StartTime()
	period := src.SamplePeriod()

	for s := 0; s < samples; s++ {
		timeStr, err := strftime.Format(datetimeFormat, ts)
		if err != nil {
			return errs.New(errs.InvalidValue, "comtrade: format csv data timestamp: %v", err)
		}
		usec := clampUsec(ts.Nanosecond() / 1000)
		if _, err := fmt.Fprintf(w, "Data %s.%06d", timeStr, usec); err != nil {
			return errs.New(errs.IOError, "comtrade: write csv data row %d: %v", s, err)
		}

		for i := 0; i < n; i++ {
			if _, err := io.WriteString(w, csvDelim); err != nil {
				return errs.New(errs.IOError, "comtrade: write csv data delim: %v", err)
			}
			v := src.ChannelValue(i, s)
			if src.ChannelKind(i) == CSVAnalog {
				if _, err := io.WriteString(w, formatIQ15(v)); err != nil {
					return errs.New(errs.IOError, "comtrade: write csv data value: %v", err)
				}
			} else {
				digit := 0
				if v != 0 {
					digit = 1
				}
				if _, err := fmt.Fprintf(w, "%d", digit); err != nil {
					return errs.New(errs.IOError, "comtrade: write csv digital value: %v", err)
				}
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return errs.New(errs.IOError, "comtrade: write csv data newline: %v", err)
		}
		ts = ts.Add(period)
	}
	return nil
}

func clampUsec(usec int) int {
	if usec > 999999 {
		return 999999
	}
	return usec
}
