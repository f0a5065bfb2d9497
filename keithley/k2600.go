package keithley

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/comm"
	"github.com/pvlab/ivbench/scpi"
	"github.com/pvlab/ivbench/smu"
)

var (
	// K2600VoltageRanges are the source and measure voltage ranges of a 2602
	K2600VoltageRanges = []float64{0.1, 1, 6, 40}

	// K2600CurrentRanges are the source and measure current ranges of a 2602
	K2600CurrentRanges = []float64{100e-9, 1e-6, 10e-6, 100e-6, 1e-3, 10e-3, 100e-3, 1, 3}
)

var displayFuncs = map[smu.DisplayMode]string{
	smu.DisplayCurrent:    "display.MEASURE_DCAMPS",
	smu.DisplayVoltage:    "display.MEASURE_DCVOLTS",
	smu.DisplayResistance: "display.MEASURE_OHMS",
	smu.DisplayPower:      "display.MEASURE_WATTS",
}

// K2600 is a two channel 2600 series SourceMeter, programmed with TSP.
// Channel A is smua and channel B is smub.
type K2600 struct {
	scpi.SCPI
}

// NewK2600 returns a K2600 talking over pool
func NewK2600(pool *comm.Pool) *K2600 {
	return &K2600{scpi.SCPI{Pool: pool, Term: '\n'}}
}

func smuName(ch smu.ChannelID) (string, error) {
	switch ch {
	case smu.ChannelA:
		return "smua", nil
	case smu.ChannelB:
		return "smub", nil
	default:
		return "", errors.Wrapf(ErrChannel, "channel %s", ch)
	}
}

// tsp formats a command for channel ch, substituting its name for every %[1]s
func (k *K2600) tsp(ch smu.ChannelID, format string, args ...interface{}) error {
	name, err := smuName(ch)
	if err != nil {
		return err
	}
	return k.Write(fmt.Sprintf(format, append([]interface{}{name}, args...)...))
}

// Reset restores instrument defaults and selects ASCII output
func (k *K2600) Reset() error {
	return k.Write("reset() errorqueue.clear() format.data = format.ASCII")
}

// Channels implements smu.Hardware
func (k *K2600) Channels() int { return 2 }

// SetSourceMode implements smu.Hardware
func (k *K2600) SetSourceMode(ch smu.ChannelID, m smu.SourceMode) error {
	if m == smu.SourceCurrent {
		return k.tsp(ch, "%[1]s.source.func = %[1]s.OUTPUT_DCAMPS")
	}
	return k.tsp(ch, "%[1]s.source.func = %[1]s.OUTPUT_DCVOLTS")
}

// SetLimits implements smu.Hardware
func (k *K2600) SetLimits(ch smu.ChannelID, voltage, current float64) error {
	return k.tsp(ch, "%[1]s.source.limitv = %[2]g %[1]s.source.limiti = %[3]g", voltage, current)
}

// SetRanges implements smu.Hardware
func (k *K2600) SetRanges(ch smu.ChannelID, voltage, current float64, autoV, autoI bool) error {
	var err error
	if autoV {
		err = k.tsp(ch, "%[1]s.source.autorangev = %[1]s.AUTORANGE_ON %[1]s.measure.autorangev = %[1]s.AUTORANGE_ON")
	} else {
		r := SuitableRange(K2600VoltageRanges, voltage)
		err = k.tsp(ch, "%[1]s.source.rangev = %[2]g %[1]s.measure.rangev = %[2]g", r)
	}
	if err != nil {
		return err
	}
	if autoI {
		return k.tsp(ch, "%[1]s.source.autorangei = %[1]s.AUTORANGE_ON %[1]s.measure.autorangei = %[1]s.AUTORANGE_ON")
	}
	r := SuitableRange(K2600CurrentRanges, current)
	return k.tsp(ch, "%[1]s.source.rangei = %[2]g %[1]s.measure.rangei = %[2]g", r)
}

// SetSenseMode implements smu.Hardware
func (k *K2600) SetSenseMode(ch smu.ChannelID, m smu.SenseMode) error {
	if m == smu.FourWire {
		return k.tsp(ch, "%[1]s.sense = %[1]s.SENSE_REMOTE")
	}
	return k.tsp(ch, "%[1]s.sense = %[1]s.SENSE_LOCAL")
}

// SetDisplayMode implements smu.Hardware
func (k *K2600) SetDisplayMode(ch smu.ChannelID, m smu.DisplayMode) error {
	f, ok := displayFuncs[m]
	if !ok {
		return errors.Errorf("unknown display mode %d", int(m))
	}
	return k.tsp(ch, "display.%[1]s.measure.func = %[2]s", f)
}

// SetNPLC implements smu.Hardware
func (k *K2600) SetNPLC(ch smu.ChannelID, nplc float64) error {
	return k.tsp(ch, "%[1]s.measure.nplc = %[2]g", nplc)
}

// SetVoltage implements smu.Hardware
func (k *K2600) SetVoltage(ch smu.ChannelID, v float64) error {
	return k.tsp(ch, "%[1]s.source.levelv = %[2]g", v)
}

// SetCurrent implements smu.Hardware
func (k *K2600) SetCurrent(ch smu.ChannelID, i float64) error {
	return k.tsp(ch, "%[1]s.source.leveli = %[2]g", i)
}

// SetOutput implements smu.Hardware
func (k *K2600) SetOutput(ch smu.ChannelID, on bool) error {
	if on {
		return k.tsp(ch, "%[1]s.source.output = %[1]s.OUTPUT_ON")
	}
	return k.tsp(ch, "%[1]s.source.output = %[1]s.OUTPUT_OFF")
}

func (k *K2600) query(ch smu.ChannelID, fn string) (float64, error) {
	name, err := smuName(ch)
	if err != nil {
		return 0, err
	}
	return k.ReadFloat(fmt.Sprintf("print(%s.measure.%s())", name, fn))
}

// MeasureVoltage implements smu.Hardware
func (k *K2600) MeasureVoltage(ch smu.ChannelID) (float64, error) {
	return k.query(ch, "v")
}

// MeasureCurrent implements smu.Hardware
func (k *K2600) MeasureCurrent(ch smu.ChannelID) (float64, error) {
	return k.query(ch, "i")
}

// MeasureBoth implements smu.Hardware
func (k *K2600) MeasureBoth() (a, b float64, err error) {
	f, err := k.ReadFloats("print(smua.measure.i(), smub.measure.i())")
	if err != nil {
		return 0, 0, err
	}
	if len(f) != 2 {
		return 0, 0, errors.Errorf("expected two currents, got %d values", len(f))
	}
	return f[0], f[1], nil
}
