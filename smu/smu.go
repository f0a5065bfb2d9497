/*Package smu models a source-measure unit as one or two independently
configured channels.

A Unit sits between the measurement code and a vendor Hardware adapter.  It
keeps the authoritative state of each channel (source mode, limits, ranges,
setpoints, output enable), rejects setpoints outside the configured
compliance before the adapter is ever called, and hides whether the
instrument really has two channels or is a single channel instrument whose
front and rear terminals stand in for channels A and B.

The Emulator is a Hardware implementation backed by a deterministic diode
model, used when no instrument is attached.
*/
package smu

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfComplianceRange is returned when a setpoint exceeds the channel limit
	ErrOutOfComplianceRange = errors.New("setpoint outside channel compliance range")

	// ErrHardwareCommunication is matched by every adapter failure surfaced by a Unit
	ErrHardwareCommunication = errors.New("hardware communication failure")

	// ErrNoSuchChannel is returned when a channel is not present on the instrument
	ErrNoSuchChannel = errors.New("no such channel")
)

// ChannelID identifies a channel of the unit
type ChannelID int

const (
	// ChannelA is the first channel, conventionally the device under test
	ChannelA ChannelID = iota
	// ChannelB is the second channel, conventionally the reference diode
	ChannelB
	// Both addresses channels A and B together
	Both
)

var channelNames = map[ChannelID]string{ChannelA: "A", ChannelB: "B", Both: "Both"}

func (c ChannelID) String() string {
	if s, ok := channelNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ChannelID(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler
func (c ChannelID) MarshalText() ([]byte, error) {
	if _, ok := channelNames[c]; !ok {
		return nil, errors.Errorf("invalid channel %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *ChannelID) UnmarshalText(b []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(b)))
	switch s {
	case "A":
		*c = ChannelA
	case "B":
		*c = ChannelB
	case "BOTH":
		*c = Both
	default:
		return errors.Errorf("invalid channel %q, must be A, B or Both", string(b))
	}
	return nil
}

// members expands Both into A and B
func (c ChannelID) members() []ChannelID {
	if c == Both {
		return []ChannelID{ChannelA, ChannelB}
	}
	return []ChannelID{c}
}

// SourceMode is the quantity a channel sources
type SourceMode int

const (
	// SourceVoltage sources voltage and measures current
	SourceVoltage SourceMode = iota
	// SourceCurrent sources current and measures voltage
	SourceCurrent
)

func (m SourceMode) String() string {
	if m == SourceCurrent {
		return "current"
	}
	return "voltage"
}

// SenseMode selects local or remote sense
type SenseMode int

const (
	// TwoWire is local sense
	TwoWire SenseMode = iota
	// FourWire is remote (Kelvin) sense
	FourWire
)

func (m SenseMode) String() string {
	if m == FourWire {
		return "4-wire"
	}
	return "2-wire"
}

// DisplayMode is the quantity shown on the instrument front panel
type DisplayMode int

const (
	// DisplayCurrent shows measured current
	DisplayCurrent DisplayMode = iota
	// DisplayVoltage shows measured voltage
	DisplayVoltage
	// DisplayResistance shows V/I
	DisplayResistance
	// DisplayPower shows V*I
	DisplayPower
)

// Terminal is a physical output terminal on a single channel instrument
type Terminal int

const (
	// Front terminals, used for channel A
	Front Terminal = iota
	// Rear terminals, used for channel B
	Rear
)

func (t Terminal) String() string {
	if t == Rear {
		return "rear"
	}
	return "front"
}

// TerminalFor returns the terminal that emulates channel ch
func TerminalFor(ch ChannelID) Terminal {
	if ch == ChannelB {
		return Rear
	}
	return Front
}

// Channel is the complete state of one channel
type Channel struct {
	ID            ChannelID   `json:"id"`
	SourceMode    SourceMode  `json:"sourceMode"`
	DisplayMode   DisplayMode `json:"displayMode"`
	SenseMode     SenseMode   `json:"senseMode"`
	VoltageLimit  float64     `json:"voltageLimit"`
	CurrentLimit  float64     `json:"currentLimit"`
	VoltageRange  float64     `json:"voltageRange"`
	CurrentRange  float64     `json:"currentRange"`
	AutoRangeV    bool        `json:"autoRangeV"`
	AutoRangeI    bool        `json:"autoRangeI"`
	Voltage       float64     `json:"voltage"`
	Current       float64     `json:"current"`
	OutputEnabled bool        `json:"outputEnabled"`
}

// ComplianceError is returned when a setpoint magnitude exceeds the limit of a channel.
// It matches ErrOutOfComplianceRange with errors.Is.
type ComplianceError struct {
	Channel  ChannelID
	Quantity string
	Value    float64
	Limit    float64
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("channel %s: %s %g exceeds compliance limit %g", e.Channel, e.Quantity, e.Value, e.Limit)
}

// Is allows errors.Is(err, ErrOutOfComplianceRange)
func (e *ComplianceError) Is(target error) bool {
	return target == ErrOutOfComplianceRange
}

// HardwareError wraps a failure from the Hardware adapter.
// It matches ErrHardwareCommunication with errors.Is.
type HardwareError struct {
	Op      string
	Channel ChannelID
	Err     error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("smu %s on channel %s: %v", e.Op, e.Channel, e.Err)
}

// Unwrap returns the adapter error
func (e *HardwareError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrHardwareCommunication)
func (e *HardwareError) Is(target error) bool {
	return target == ErrHardwareCommunication
}

// CheckCompliance returns a *ComplianceError if |value| > limit
func CheckCompliance(ch ChannelID, quantity string, value, limit float64) error {
	if value > limit || value < -limit {
		return &ComplianceError{Channel: ch, Quantity: quantity, Value: value, Limit: limit}
	}
	return nil
}
