package smu

// Hardware is implemented by vendor adapters.  Channel arguments are
// always ChannelA or ChannelB, never Both.  A single channel instrument
// reports Channels() == 1 and only ever sees ChannelA; it must also
// implement TerminalSwitcher so a Unit can emulate channel B.
type Hardware interface {
	Channels() int

	SetSourceMode(ch ChannelID, m SourceMode) error
	SetLimits(ch ChannelID, voltage, current float64) error
	SetRanges(ch ChannelID, voltage, current float64, autoV, autoI bool) error
	SetSenseMode(ch ChannelID, m SenseMode) error
	SetDisplayMode(ch ChannelID, m DisplayMode) error
	SetNPLC(ch ChannelID, nplc float64) error

	SetVoltage(ch ChannelID, v float64) error
	SetCurrent(ch ChannelID, i float64) error
	SetOutput(ch ChannelID, on bool) error

	MeasureVoltage(ch ChannelID) (float64, error)
	MeasureCurrent(ch ChannelID) (float64, error)

	// MeasureBoth reads the current of channels A and B in one
	// simultaneous acquisition.  Only called when Channels() == 2.
	MeasureBoth() (a, b float64, err error)
}

// TerminalSwitcher routes a single channel instrument to its front or rear terminals
type TerminalSwitcher interface {
	SelectTerminal(t Terminal) error
}

// SourceMeter is the channel level interface consumed by measurement code.
// Unit implements it.
type SourceMeter interface {
	Channel(ch ChannelID) (Channel, error)

	SetSourceMode(ch ChannelID, m SourceMode) error
	SetLimits(ch ChannelID, voltage, current float64) error

	SetVoltage(ch ChannelID, v float64) error
	SetCurrent(ch ChannelID, i float64) error
	EnableOutput(ch ChannelID) error
	DisableOutput(ch ChannelID) error

	MeasureVoltage(ch ChannelID) (float64, error)
	MeasureCurrent(ch ChannelID) (float64, error)
	MeasureBoth() (a, b float64, err error)

	// Simultaneous is true if MeasureBoth reads both channels at once
	Simultaneous() bool

	MinSamplePeriod() float64
}
