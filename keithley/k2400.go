package keithley

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/comm"
	"github.com/pvlab/ivbench/scpi"
	"github.com/pvlab/ivbench/smu"
)

var (
	// K2400VoltageRanges are the source and measure voltage ranges of a 2400
	K2400VoltageRanges = []float64{0.2, 2, 20, 200}

	// K2400CurrentRanges are the source and measure current ranges of a 2400
	K2400CurrentRanges = []float64{1e-6, 10e-6, 100e-6, 1e-3, 10e-3, 100e-3, 1}
)

// K2400 is a single channel 2400 series SourceMeter
type K2400 struct {
	scpi.SCPI
}

// NewK2400 returns a K2400 talking over pool
func NewK2400(pool *comm.Pool) *K2400 {
	return &K2400{scpi.SCPI{Pool: pool, Term: '\n'}}
}

// Reset restores the instrument defaults and sets the reading format to voltage,current
func (k *K2400) Reset() error {
	return k.Write("*RST;:FORM:ELEM VOLT,CURR;:OUTP:SMOD ZERO;:SOUR:DEL:AUTO ON;:SYST:AZER:STAT ONCE")
}

// Channels implements smu.Hardware
func (k *K2400) Channels() int { return 1 }

// SelectTerminal implements smu.TerminalSwitcher
func (k *K2400) SelectTerminal(t smu.Terminal) error {
	if t == smu.Rear {
		return k.Write(":ROUT:TERM REAR")
	}
	return k.Write(":ROUT:TERM FRON")
}

// SetSourceMode implements smu.Hardware
func (k *K2400) SetSourceMode(ch smu.ChannelID, m smu.SourceMode) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	if m == smu.SourceCurrent {
		return k.Write(`:SOUR:FUNC CURR;:SENS:FUNC "VOLT:DC"`)
	}
	return k.Write(`:SOUR:FUNC VOLT;:SENS:FUNC "CURR:DC"`)
}

// SetLimits implements smu.Hardware
func (k *K2400) SetLimits(ch smu.ChannelID, voltage, current float64) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	return k.Write(fmt.Sprintf(":SENS:VOLT:PROT %g;:SENS:CURR:PROT %g", voltage, current))
}

// SetRanges implements smu.Hardware
func (k *K2400) SetRanges(ch smu.ChannelID, voltage, current float64, autoV, autoI bool) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	var cmd string
	if autoV {
		cmd = ":SOUR:VOLT:RANG:AUTO ON;:SENS:VOLT:RANG:AUTO ON"
	} else {
		r := SuitableRange(K2400VoltageRanges, voltage)
		cmd = fmt.Sprintf(":SOUR:VOLT:RANG %g;:SENS:VOLT:RANG %g", r, r)
	}
	if autoI {
		cmd += ";:SOUR:CURR:RANG:AUTO ON;:SENS:CURR:RANG:AUTO ON"
	} else {
		r := SuitableRange(K2400CurrentRanges, current)
		cmd += fmt.Sprintf(";:SOUR:CURR:RANG %g;:SENS:CURR:RANG %g", r, r)
	}
	return k.Write(cmd)
}

// SetSenseMode implements smu.Hardware
func (k *K2400) SetSenseMode(ch smu.ChannelID, m smu.SenseMode) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	return k.Write(":SYST:RSEN " + onOff(m == smu.FourWire))
}

// SetDisplayMode implements smu.Hardware.  The 2400 shows the concurrent
// sense functions, so this only changes which one is primary.
func (k *K2400) SetDisplayMode(ch smu.ChannelID, m smu.DisplayMode) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	switch m {
	case smu.DisplayVoltage:
		return k.Write(`:SENS:FUNC:ON "VOLT:DC"`)
	case smu.DisplayResistance:
		return k.Write(`:SENS:FUNC:ON "RES"`)
	case smu.DisplayPower:
		return errors.New("2400 cannot display power")
	default:
		return k.Write(`:SENS:FUNC:ON "CURR:DC"`)
	}
}

// SetNPLC implements smu.Hardware
func (k *K2400) SetNPLC(ch smu.ChannelID, nplc float64) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	return k.Write(fmt.Sprintf(":SENS:CURR:NPLC %g;:SENS:VOLT:NPLC %g", nplc, nplc))
}

// SetVoltage implements smu.Hardware
func (k *K2400) SetVoltage(ch smu.ChannelID, v float64) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	return k.Write(fmt.Sprintf(":SOUR:VOLT %g", v))
}

// SetCurrent implements smu.Hardware
func (k *K2400) SetCurrent(ch smu.ChannelID, i float64) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	return k.Write(fmt.Sprintf(":SOUR:CURR %g", i))
}

// SetOutput implements smu.Hardware
func (k *K2400) SetOutput(ch smu.ChannelID, on bool) error {
	if err := checkChannel(ch, 1); err != nil {
		return err
	}
	return k.Write(":OUTP " + onOff(on))
}

// read triggers one reading and returns voltage and current
func (k *K2400) read() (v, i float64, err error) {
	f, err := k.ReadFloats(":READ?")
	if err != nil {
		return 0, 0, errors.Wrap(err, "data read fail")
	}
	if len(f) < 2 {
		return 0, 0, errors.Errorf("expected voltage,current reading, got %d fields", len(f))
	}
	return f[0], f[1], nil
}

// MeasureVoltage implements smu.Hardware
func (k *K2400) MeasureVoltage(ch smu.ChannelID) (float64, error) {
	if err := checkChannel(ch, 1); err != nil {
		return 0, err
	}
	v, _, err := k.read()
	return v, err
}

// MeasureCurrent implements smu.Hardware
func (k *K2400) MeasureCurrent(ch smu.ChannelID) (float64, error) {
	if err := checkChannel(ch, 1); err != nil {
		return 0, err
	}
	_, i, err := k.read()
	return i, err
}

// MeasureBoth implements smu.Hardware.  A single channel instrument cannot.
func (k *K2400) MeasureBoth() (a, b float64, err error) {
	return 0, 0, errors.Wrap(ErrChannel, "2400 has one channel")
}
