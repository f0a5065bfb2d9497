package measure

import (
	"math"
	"strconv"
)

// SampleRecord is one reading.  Elapsed is seconds since the sampling loop
// started, currents are in amps, CurrentDensity in mA/cm² and
// PowerDensity in mW/cm².
type SampleRecord struct {
	Elapsed        float64 `json:"t"`
	Voltage        float64 `json:"v"`
	Current        float64 `json:"i"`
	Reference      float64 `json:"ref,omitempty"`
	HasReference   bool    `json:"hasRef,omitempty"`
	CurrentDensity float64 `json:"j"`
	PowerDensity   float64 `json:"p"`

	// Correction is the light level correction the densities were divided by
	Correction float64 `json:"corr"`
}

// Power returns the power delivered by the cell in watts, positive in the fourth quadrant
func (s SampleRecord) Power() float64 {
	return -s.Voltage * s.Current
}

// densities fills the derived quantities of s for a cell of area cm², with
// the current divided by the light level correction
func (s *SampleRecord) densities(area, correction float64) {
	if correction == 0 || math.IsNaN(correction) {
		correction = 1
	}
	s.Correction = correction
	s.CurrentDensity = 1000 * s.Current / area / correction
	s.PowerDensity = -s.Voltage * s.CurrentDensity
}

// ApplyCorrection recomputes the densities of samples with one correction
// factor.  Runs stream samples corrected by the average light level up to
// each sample; the outcome's samples are recomputed with the whole-run
// average.
func ApplyCorrection(samples []SampleRecord, area, correction float64) {
	for i := range samples {
		samples[i].densities(area, correction)
	}
}

// ResultsSink receives samples in order.  In parallel reference mode a
// streamed sample is corrected by the average light level up to that sample,
// and carries the factor it used; RunOutcome.Samples are recomputed with the
// whole-run average, so under drift the two densities differ.
type ResultsSink interface {
	Append(SampleRecord)
}

// StatusSink receives human readable progress
type StatusSink interface {
	Status(string)
}

// ResultsFunc adapts a function to ResultsSink
type ResultsFunc func(SampleRecord)

// Append calls f
func (f ResultsFunc) Append(s SampleRecord) { f(s) }

// StatusFunc adapts a function to StatusSink
type StatusFunc func(string)

// Status calls f
func (f StatusFunc) Status(s string) { f(s) }

type discard struct{}

func (discard) Append(SampleRecord) {}
func (discard) Status(string)       {}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
