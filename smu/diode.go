package smu

import "math"

const (
	// ThermalVoltage is kT/q at 300 K
	ThermalVoltage = 0.025852

	// DefaultIdeality is the diode ideality factor of the emulated cell
	DefaultIdeality = 1.5
)

// Diode is a single diode solar cell model,
//
//	I(V) = Isc*G/100 + K*(exp(tau*V) - 1)
//
// with tau = 1/(n*Vt) and K chosen so that I(Voc) = 0 at G = 100.
// Isc is negative (generated current flows out of the cell), so power
// delivered by the cell, -V*I, is positive between 0 and Voc.
type Diode struct {
	Isc      float64 `json:"isc" yaml:"isc"`
	Voc      float64 `json:"voc" yaml:"voc"`
	Ideality float64 `json:"ideality" yaml:"ideality"`
}

func (d Diode) tau() float64 {
	n := d.Ideality
	if n <= 0 {
		n = DefaultIdeality
	}
	return 1 / (n * ThermalVoltage)
}

func (d Diode) k() float64 {
	return -d.Isc / (math.Exp(d.tau()*d.Voc) - 1)
}

// Current returns the cell current at voltage v under illumination g, in percent of one sun
func (d Diode) Current(v, g float64) float64 {
	return d.Isc*g/100 + d.k()*(math.Exp(d.tau()*v)-1)
}

// Voltage inverts Current.  When the requested current is beyond what the
// cell can deliver in reverse bias, ok is false and the returned voltage is
// -Inf; callers clamp to their voltage limit.
func (d Diode) Voltage(i, g float64) (v float64, ok bool) {
	arg := (i-d.Isc*g/100)/d.k() + 1
	if arg <= 0 {
		return math.Inf(-1), false
	}
	return math.Log(arg) / d.tau(), true
}

// OpenCircuitVoltage returns the voltage at zero current under illumination g
func (d Diode) OpenCircuitVoltage(g float64) float64 {
	v, ok := d.Voltage(0, g)
	if !ok {
		return 0
	}
	return v
}
