package smu

import (
	"strings"

	"github.com/pkg/errors"
)

// Speed is the integration speed of the instrument ADC
type Speed string

// Transport is the physical link to the instrument
type Transport string

const (
	// Fast integrates over 0.01 power line cycles
	Fast Speed = "fast"
	// Medium integrates over 0.1 power line cycles
	Medium Speed = "medium"
	// Normal integrates over one power line cycle
	Normal Speed = "normal"

	// Emulated is the in-process diode model
	Emulated Transport = "emulated"
	// USB is USB-TMC
	USB Transport = "usb"
	// LAN is a raw socket
	LAN Transport = "lan"
	// GPIB is an IEEE-488 bus, usually through a LAN or USB gateway
	GPIB Transport = "gpib"
	// Serial is RS-232
	Serial Transport = "serial"
)

var nplc = map[Speed]float64{
	Fast:   0.01,
	Medium: 0.1,
	Normal: 1,
}

// seconds per reading at each speed, per transport.
// Reading time is dominated by integration at normal speed and by the
// transport round trip at fast speed.
var minPeriod = map[Transport]map[Speed]float64{
	Emulated: {Fast: 0.001, Medium: 0.001, Normal: 0.001},
	USB:      {Fast: 0.02, Medium: 0.03, Normal: 0.06},
	LAN:      {Fast: 0.02, Medium: 0.03, Normal: 0.06},
	GPIB:     {Fast: 0.03, Medium: 0.04, Normal: 0.08},
	Serial:   {Fast: 0.06, Medium: 0.08, Normal: 0.12},
}

// ParseSpeed converts a string to a Speed
func ParseSpeed(s string) (Speed, error) {
	sp := Speed(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := nplc[sp]; !ok {
		return "", errors.Errorf("unknown integration speed %q, must be fast, medium, or normal", s)
	}
	return sp, nil
}

// ParseTransport converts a string to a Transport
func ParseTransport(s string) (Transport, error) {
	t := Transport(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := minPeriod[t]; !ok {
		return "", errors.Errorf("unknown transport %q", s)
	}
	return t, nil
}

// NPLC returns the number of power line cycles for speed s
func NPLC(s Speed) float64 {
	if v, ok := nplc[s]; ok {
		return v
	}
	return nplc[Normal]
}

// MinSamplePeriod returns the shortest achievable time between samples, in seconds
func MinSamplePeriod(t Transport, s Speed) float64 {
	tbl, ok := minPeriod[t]
	if !ok {
		tbl = minPeriod[Serial]
	}
	if v, ok := tbl[s]; ok {
		return v
	}
	return tbl[Normal]
}
