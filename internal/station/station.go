// Package station holds the recording station's identity metadata,
// threaded into every COMTRADE CFG header. Grounded on
// jbrzusto-ogdar/radar.go's struct shape, repurposed from radar metadata
// to recorder metadata (supplemented from original_source/conf.c, which
// reads an equivalent identity section the distilled spec dropped).
package station

import "github.com/catompiler/pqrecorder/internal/q15"

// Station describes the recording installation.
type Station struct {
	Name     string   // station_name, used as comtrade.Source.StationName
	DevID    string   // rec_dev_id, used as comtrade.Source.RecDevID
	LineFreq q15.IQ15 // nominal power-line frequency, used as comtrade.Source.LineFreq
}
