package measure

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/mpp"
	"github.com/pvlab/ivbench/smu"
)

// Endpoint is a sweep endpoint, either a literal voltage or the open
// circuit voltage measured at the start of the run.  In JSON it is a
// number or the string "Voc".
type Endpoint struct {
	Voc   bool
	Value float64
}

// Volts returns a literal endpoint
func Volts(v float64) Endpoint {
	return Endpoint{Value: v}
}

// Voc is the open circuit endpoint
var Voc = Endpoint{Voc: true}

func (e Endpoint) String() string {
	if e.Voc {
		return "Voc"
	}
	return fmtFloat(e.Value)
}

// MarshalJSON implements json.Marshaler
func (e Endpoint) MarshalJSON() ([]byte, error) {
	if e.Voc {
		return []byte(`"Voc"`), nil
	}
	return json.Marshal(e.Value)
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Endpoint) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return e.UnmarshalText([]byte(s))
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return errors.Errorf("endpoint must be a number or \"Voc\", got %s", b)
	}
	*e = Volts(f)
	return nil
}

// UnmarshalText parses "Voc" or a number
func (e *Endpoint) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.EqualFold(s, "voc") {
		*e = Voc
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Errorf("endpoint must be a number or \"Voc\", got %q", s)
	}
	*e = Volts(f)
	return nil
}

// Params are the parameters of one protocol
type Params interface {
	Protocol() Protocol

	// Validate checks the parameters without touching hardware
	Validate() error

	common() Common
}

// Common holds the parameters shared by every protocol
type Common struct {
	// Intensity is the requested illumination in percent of one sun.  Zero
	// is a dark measurement and leaves the lamp off.
	Intensity float64 `json:"intensity"`

	// ActiveArea of the cell in cm²
	ActiveArea float64 `json:"activeArea"`

	CellName string `json:"cellName,omitempty"`

	VoltageCompliance float64 `json:"voltageCompliance"`
	CurrentCompliance float64 `json:"currentCompliance"`

	// UseReference reads the reference diode during the run, if the bench has one
	UseReference bool `json:"useReference"`
}

func (c Common) common() Common { return c }

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidParameters, format, args...)
}

func (c Common) validate() error {
	switch {
	case c.Intensity < 0 || math.IsNaN(c.Intensity):
		return invalid("intensity %g%% is negative", c.Intensity)
	case math.IsInf(c.Intensity, 0):
		return invalid("intensity %g%% is not finite", c.Intensity)
	case !(c.ActiveArea > 0):
		return invalid("active area %g cm² must be positive", c.ActiveArea)
	case !(c.VoltageCompliance > 0) || !(c.CurrentCompliance > 0):
		return invalid("compliance %gV %gA must be positive", c.VoltageCompliance, c.CurrentCompliance)
	}
	return nil
}

func positive(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return invalid("%s %g must be positive", name, v)
	}
	return nil
}

func nonNegative(name string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid("%s %g must not be negative", name, v)
	}
	return nil
}

// SweepParams are the parameters of a J-V sweep.  Times are in seconds.
type SweepParams struct {
	Common

	Start Endpoint `json:"start"`
	Stop  Endpoint `json:"stop"`

	// Step is the voltage spacing; its sign is taken from Start and Stop
	Step float64 `json:"step"`

	// Rate is the sweep rate in V/s
	Rate float64 `json:"rate"`

	// Settling is the open circuit hold used to measure Voc
	Settling float64 `json:"settling"`

	// ForwardCurrentLimit ends a sweep to Voc once the current exceeds it
	ForwardCurrentLimit float64 `json:"forwardCurrentLimit"`

	// Interval is the sample tick.  Zero samples once per point.
	Interval float64 `json:"interval,omitempty"`
}

// Protocol implements Params
func (p *SweepParams) Protocol() Protocol { return ProtocolSweep }

// Validate implements Params
func (p *SweepParams) Validate() error {
	if err := p.Common.validate(); err != nil {
		return err
	}
	if p.Start.Voc && p.Stop.Voc {
		return invalid("sweep cannot both start and stop at Voc")
	}
	if err := positive("voltage step", math.Abs(p.Step)); err != nil {
		return err
	}
	if err := positive("sweep rate", p.Rate); err != nil {
		return err
	}
	if err := nonNegative("settling time", p.Settling); err != nil {
		return err
	}
	if err := nonNegative("interval", p.Interval); err != nil {
		return err
	}
	if p.Stop.Voc {
		if err := positive("forward current limit", p.ForwardCurrentLimit); err != nil {
			return err
		}
	}
	for _, e := range []Endpoint{p.Start, p.Stop} {
		if e.Voc {
			continue
		}
		if err := smu.CheckCompliance(smu.ChannelA, "voltage", e.Value, p.VoltageCompliance); err != nil {
			return err
		}
	}
	return nil
}

// TimeSeries are the parameters shared by the protocols that hold an
// operating point and sample it over time.  Times are in seconds.
type TimeSeries struct {
	Common

	// SetPoint is in volts or amps depending on the protocol
	SetPoint float64 `json:"setPoint"`

	// Dwell is waited after the set point is applied, before the first sample
	Dwell float64 `json:"dwell"`

	Interval float64 `json:"interval"`
	Duration float64 `json:"duration"`
}

func (t TimeSeries) validate() error {
	if err := t.Common.validate(); err != nil {
		return err
	}
	if err := nonNegative("dwell", t.Dwell); err != nil {
		return err
	}
	if err := positive("interval", t.Interval); err != nil {
		return err
	}
	return positive("duration", t.Duration)
}

// ConstantVoltageParams holds a voltage
type ConstantVoltageParams struct {
	TimeSeries
}

// Protocol implements Params
func (p *ConstantVoltageParams) Protocol() Protocol { return ProtocolConstantVoltage }

// Validate implements Params
func (p *ConstantVoltageParams) Validate() error {
	if err := p.TimeSeries.validate(); err != nil {
		return err
	}
	return smu.CheckCompliance(smu.ChannelA, "voltage", p.SetPoint, p.VoltageCompliance)
}

// ConstantCurrentParams holds a current
type ConstantCurrentParams struct {
	TimeSeries
}

// Protocol implements Params
func (p *ConstantCurrentParams) Protocol() Protocol { return ProtocolConstantCurrent }

// Validate implements Params
func (p *ConstantCurrentParams) Validate() error {
	if err := p.TimeSeries.validate(); err != nil {
		return err
	}
	return smu.CheckCompliance(smu.ChannelA, "current", p.SetPoint, p.CurrentCompliance)
}

// MPPParams are the parameters of maximum power point tracking.  SetPoint
// is the starting voltage unless Auto is set, in which case a short reverse
// sweep from Voc picks it.
type MPPParams struct {
	TimeSeries

	Auto bool `json:"auto"`

	// Settling is the open circuit hold used to measure Voc
	Settling float64 `json:"settling"`

	// Tracker tunes the step controller; its Compliance is taken from VoltageCompliance
	Tracker mpp.Config `json:"tracker"`
}

// Protocol implements Params
func (p *MPPParams) Protocol() Protocol { return ProtocolMPP }

func (p *MPPParams) trackerConfig() mpp.Config {
	cfg := p.Tracker
	cfg.Compliance = p.VoltageCompliance
	return cfg
}

// Validate implements Params
func (p *MPPParams) Validate() error {
	if err := p.TimeSeries.validate(); err != nil {
		return err
	}
	if err := nonNegative("settling time", p.Settling); err != nil {
		return err
	}
	if err := p.trackerConfig().Validate(); err != nil {
		return errors.Wrap(ErrInvalidParameters, err.Error())
	}
	if p.Auto {
		return nil
	}
	return smu.CheckCompliance(smu.ChannelA, "voltage", p.SetPoint, p.VoltageCompliance)
}

// CalibrationParams are the parameters of a reference diode calibration.
// The test channel holds a calibrated cell at short circuit.
type CalibrationParams struct {
	TimeSeries

	// OperatorReference is the certified short circuit current of the calibrated cell at one sun, in amps
	OperatorReference float64 `json:"operatorReference"`
}

// Protocol implements Params
func (p *CalibrationParams) Protocol() Protocol { return ProtocolCalibration }

// Validate implements Params
func (p *CalibrationParams) Validate() error {
	if err := p.TimeSeries.validate(); err != nil {
		return err
	}
	if err := positive("intensity", p.Intensity); err != nil {
		return err
	}
	return positive("operator reference current", math.Abs(p.OperatorReference))
}
