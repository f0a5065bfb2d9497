// Package agilent provides an interface to agilent test and measurement equipment
package agilent

import (
	"strconv"
	"strings"

	"github.com/pvlab/ivbench/comm"
	"github.com/pvlab/ivbench/scpi"
)

// FunctionGenerator is an interface to hardware of the same name.
// On the bench its DC output programs the drive level of a lamp.
type FunctionGenerator struct {
	scpi.SCPI
}

// NewFunctionGenerator creates a new FunctionGenerator talking over pool
func NewFunctionGenerator(pool *comm.Pool) *FunctionGenerator {
	return &FunctionGenerator{scpi.SCPI{Pool: pool, Term: '\n'}}
}

// SetFunction configures the output function used by the generator
func (f *FunctionGenerator) SetFunction(fcn string) error {
	// FUNC:SHAP <fcn>
	return f.Write("FUNC:SHAP", fcn)
}

// GetFunction returns the current function type used by the generator
func (f *FunctionGenerator) GetFunction() (string, error) {
	resp, err := f.ReadString("FUNC:SHAP?")
	return strings.TrimSpace(resp), err
}

// SetFrequency configures the output frequency of the generator in Hz
func (f *FunctionGenerator) SetFrequency(hz float64) error {
	s := strconv.FormatFloat(hz, 'G', -1, 64)
	return f.Write("FREQ", s)
}

// GetFrequency returns the frequency of the generator in Hz
func (f *FunctionGenerator) GetFrequency() (float64, error) {
	return f.ReadFloat("FREQ?")
}

// SetVoltage configures the output voltage (Vpp) of the signal
func (f *FunctionGenerator) SetVoltage(volts float64) error {
	s := strconv.FormatFloat(volts, 'G', -1, 64)
	return f.Write("VOLT", s, "VPP")
}

// GetVoltage returns the current output voltage of the generator
func (f *FunctionGenerator) GetVoltage() (float64, error) {
	return f.ReadFloat("VOLT?")
}

// SetOffset configures the output voltage offset, which is the output level in DC mode
func (f *FunctionGenerator) SetOffset(volts float64) error {
	s := strconv.FormatFloat(volts, 'G', -1, 64)
	return f.Write("VOLT:OFFS", s)
}

// GetOffset gets the current voltage offset
func (f *FunctionGenerator) GetOffset() (float64, error) {
	return f.ReadFloat("VOLT:OFFS?")
}

// EnableOutput enables the output on the front connector of the function generator
func (f *FunctionGenerator) EnableOutput() error {
	return f.Write("OUTP ON")
}

// DisableOutput disables the output on the front connector of the function generator
func (f *FunctionGenerator) DisableOutput() error {
	return f.Write("OUTP OFF")
}

// GetOutput returns True if the generator is currently outputting a signal
func (f *FunctionGenerator) GetOutput() (bool, error) {
	return f.ReadBool("OUTP?")
}

// SetAmplitude puts the generator in DC mode at the given level
func (f *FunctionGenerator) SetAmplitude(volts float64) error {
	if err := f.SetFunction("DC"); err != nil {
		return err
	}
	return f.SetOffset(volts)
}

// Amplitude returns the DC level
func (f *FunctionGenerator) Amplitude() (float64, error) {
	return f.GetOffset()
}
