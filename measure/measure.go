/*Package measure runs the measurement protocols of the J-V bench.

A Runner owns the source-measure unit, the lamp and optionally a reference
diode monitor, and executes one protocol at a time:

	Sweep            voltage ramp, optionally from or to open circuit
	ConstantVoltage  fixed voltage, current recorded over time
	ConstantCurrent  fixed current, voltage recorded over time
	MPP              maximum power point tracking
	Calibration      reference diode calibration against a known cell

Every run walks the same states,

	Idle -> LampOn -> [LightCheck] -> [PolarityCheck] -> Sampling -> LampOff -> Idle

and ends Completed, Aborted or Errored.  Whatever the ending, the lamp is
switched off and the SMU outputs disabled before Run returns.

Samples are streamed to a ResultsSink as they are taken and status lines to a
StatusSink.  Abort is cooperative: RequestAbort sets a flag that every wait
and every sampling iteration checks.
*/
package measure

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrLightLevelMismatch is returned when the reference diode disagrees with the requested intensity
	ErrLightLevelMismatch = errors.New("measured light level differs from requested intensity")

	// ErrWrongVocPolarity is returned when the open circuit voltage is negative, usually reversed leads
	ErrWrongVocPolarity = errors.New("open circuit voltage has the wrong polarity")

	// ErrRunInProgress is returned by Run when another run holds the runner
	ErrRunInProgress = errors.New("a measurement is already running")

	// ErrInvalidParameters is returned when run parameters are inconsistent
	ErrInvalidParameters = errors.New("invalid measurement parameters")

	// errAborted unwinds a run after RequestAbort; it never reaches the caller
	errAborted = errors.New("aborted")
)

// Protocol names a measurement protocol
type Protocol string

const (
	// ProtocolSweep is a J-V sweep
	ProtocolSweep Protocol = "sweep"
	// ProtocolConstantVoltage holds a voltage and records current
	ProtocolConstantVoltage Protocol = "cv"
	// ProtocolConstantCurrent holds a current and records voltage
	ProtocolConstantCurrent Protocol = "cc"
	// ProtocolMPP tracks the maximum power point
	ProtocolMPP Protocol = "mpp"
	// ProtocolCalibration calibrates the reference diode
	ProtocolCalibration Protocol = "calibration"
)

// ParseProtocol converts a string to a Protocol
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProtocolSweep, ProtocolConstantVoltage, ProtocolConstantCurrent, ProtocolMPP, ProtocolCalibration:
		return p, nil
	}
	return "", errors.Errorf("unknown protocol %q", s)
}

// NewParams returns zero parameters for protocol p, for decoding into
func NewParams(p Protocol) (Params, error) {
	switch p {
	case ProtocolSweep:
		return &SweepParams{}, nil
	case ProtocolConstantVoltage:
		return &ConstantVoltageParams{}, nil
	case ProtocolConstantCurrent:
		return &ConstantCurrentParams{}, nil
	case ProtocolMPP:
		return &MPPParams{}, nil
	case ProtocolCalibration:
		return &CalibrationParams{}, nil
	}
	return nil, errors.Errorf("unknown protocol %q", p)
}

// State is a state of the runner
type State string

const (
	StateIdle          State = "idle"
	StateLampOn        State = "lamp on"
	StateLightCheck    State = "light check"
	StatePolarityCheck State = "polarity check"
	StateSampling      State = "sampling"
	StateLampOff       State = "lamp off"
	StateCompleted     State = "completed"
	StateAborted       State = "aborted"
	StateErrored       State = "errored"
)

// WarningCode classifies a Warning
type WarningCode string

// SampleIntervalTooFast is reported when a requested interval is raised to the instrument minimum
const SampleIntervalTooFast WarningCode = "SampleIntervalTooFast"

// Warning is a problem that was corrected without stopping the run
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return string(w.Code) + ": " + w.Message
}

// PowerPoint is an operating point of the cell
type PowerPoint struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	Power   float64 `json:"power"`
}

// RunOutcome is the result of one run
type RunOutcome struct {
	ID       string   `json:"id"`
	Protocol Protocol `json:"protocol"`
	CellName string   `json:"cellName,omitempty"`
	Final    State    `json:"final"`

	// Error is the text of the error that ended the run, if any
	Error string `json:"error,omitempty"`

	// Interval is the sample interval actually used, in seconds
	Interval float64 `json:"interval,omitempty"`

	Warnings []Warning       `json:"warnings,omitempty"`
	Samples  []SampleRecord `json:"samples"`

	// Correction is the light level correction factor the samples were divided by
	Correction float64 `json:"correction"`

	// Voc is the open circuit voltage probed before sampling, if it was probed
	Voc *float64 `json:"voc,omitempty"`

	MaxPower *PowerPoint `json:"maxPower,omitempty"`

	Calibration *CalibrationOutcome `json:"calibration,omitempty"`
}
