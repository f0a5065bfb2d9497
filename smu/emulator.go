package smu

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

type emuChannel struct {
	mode     SourceMode
	vlim     float64
	ilim     float64
	v        float64
	i        float64
	out      bool
	sense    SenseMode
	display  DisplayMode
	nplc     float64
	vrange   float64
	irange   float64
	autoV    bool
	autoI    bool
	switches int
}

// Emulator is a Hardware with a solar cell on channel A and a reference
// photodiode on channel B.  The illumination seen by both is set with
// SetIllumination, so a mock lamp can drive it.  Readings are exact and
// deterministic.
type Emulator struct {
	mu sync.Mutex

	cell       Diode
	refCurrent float64
	illum      float64
	single     bool
	terminal   Terminal
	ch         [2]emuChannel
}

// NewEmulator returns a two channel emulator.  refCurrent is the reference
// diode current at one sun.
func NewEmulator(cell Diode, refCurrent float64) *Emulator {
	e := &Emulator{cell: cell, refCurrent: refCurrent, illum: 100}
	for i := range e.ch {
		e.ch[i] = emuChannel{vlim: 2, ilim: 0.1, autoV: true, autoI: true, nplc: 1}
	}
	return e
}

// NewSingleChannelEmulator returns an emulator with one channel whose front
// terminals are wired to the cell and rear terminals to the reference diode
func NewSingleChannelEmulator(cell Diode, refCurrent float64) *Emulator {
	e := NewEmulator(cell, refCurrent)
	e.single = true
	return e
}

// SetIllumination sets the emulated light level in percent of one sun
func (e *Emulator) SetIllumination(pct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.illum = pct
}

// Illumination returns the emulated light level in percent of one sun
func (e *Emulator) Illumination() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.illum
}

// Cell returns the diode model of the device under test
func (e *Emulator) Cell() Diode {
	return e.cell
}

// Terminal returns the routed terminal of a single channel emulator
func (e *Emulator) Terminal() Terminal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

// OutputEnabled reports whether physical channel ch is on
func (e *Emulator) OutputEnabled(ch ChannelID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(ch) >= e.Channels() || ch < 0 {
		return false
	}
	return e.ch[ch].out
}

// Channels implements Hardware
func (e *Emulator) Channels() int {
	if e.single {
		return 1
	}
	return 2
}

func (e *Emulator) get(ch ChannelID) (*emuChannel, error) {
	if ch < 0 || int(ch) >= e.Channels() {
		return nil, errors.Wrapf(ErrNoSuchChannel, "emulator channel %s", ch)
	}
	return &e.ch[ch], nil
}

// isCell is true if physical channel ch is connected to the cell
func (e *Emulator) isCell(ch ChannelID) bool {
	if e.single {
		return e.terminal == Front
	}
	return ch == ChannelA
}

// SelectTerminal implements TerminalSwitcher
func (e *Emulator) SelectTerminal(t Terminal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.single {
		return errors.New("two channel emulator has no terminal switch")
	}
	if e.ch[ChannelA].out {
		return errors.New("refusing to switch terminals with output enabled")
	}
	e.terminal = t
	e.ch[ChannelA].switches++
	return nil
}

func (e *Emulator) with(ch ChannelID, f func(c *emuChannel)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.get(ch)
	if err != nil {
		return err
	}
	f(c)
	return nil
}

// SetSourceMode implements Hardware
func (e *Emulator) SetSourceMode(ch ChannelID, m SourceMode) error {
	return e.with(ch, func(c *emuChannel) { c.mode = m })
}

// SetLimits implements Hardware
func (e *Emulator) SetLimits(ch ChannelID, voltage, current float64) error {
	return e.with(ch, func(c *emuChannel) { c.vlim, c.ilim = voltage, current })
}

// SetRanges implements Hardware
func (e *Emulator) SetRanges(ch ChannelID, voltage, current float64, autoV, autoI bool) error {
	return e.with(ch, func(c *emuChannel) { c.vrange, c.irange, c.autoV, c.autoI = voltage, current, autoV, autoI })
}

// SetSenseMode implements Hardware
func (e *Emulator) SetSenseMode(ch ChannelID, m SenseMode) error {
	return e.with(ch, func(c *emuChannel) { c.sense = m })
}

// SetDisplayMode implements Hardware
func (e *Emulator) SetDisplayMode(ch ChannelID, m DisplayMode) error {
	return e.with(ch, func(c *emuChannel) { c.display = m })
}

// SetNPLC implements Hardware
func (e *Emulator) SetNPLC(ch ChannelID, nplc float64) error {
	return e.with(ch, func(c *emuChannel) { c.nplc = nplc })
}

// SetVoltage implements Hardware
func (e *Emulator) SetVoltage(ch ChannelID, v float64) error {
	return e.with(ch, func(c *emuChannel) { c.v = v })
}

// SetCurrent implements Hardware
func (e *Emulator) SetCurrent(ch ChannelID, i float64) error {
	return e.with(ch, func(c *emuChannel) { c.i = i })
}

// SetOutput implements Hardware
func (e *Emulator) SetOutput(ch ChannelID, on bool) error {
	return e.with(ch, func(c *emuChannel) { c.out = on })
}

func clampAbs(x, lim float64) float64 {
	return math.Max(-lim, math.Min(lim, x))
}

// operating returns the voltage and current at the terminals of physical channel ch.
// e.mu must be held.
func (e *Emulator) operating(ch ChannelID) (v, i float64, err error) {
	c, err := e.get(ch)
	if err != nil {
		return 0, 0, err
	}
	if !c.out {
		return 0, 0, nil
	}
	if !e.isCell(ch) {
		// photodiode held near short circuit; its current does not depend on bias
		if c.mode == SourceCurrent {
			return 0, c.i, nil
		}
		return c.v, clampAbs(e.refCurrent*e.illum/100, c.ilim), nil
	}
	if c.mode == SourceVoltage {
		return c.v, clampAbs(e.cell.Current(c.v, e.illum), c.ilim), nil
	}
	v, ok := e.cell.Voltage(c.i, e.illum)
	if !ok || math.Abs(v) > c.vlim {
		if !ok {
			v = -c.vlim
		}
		v = clampAbs(v, c.vlim)
		return v, clampAbs(e.cell.Current(v, e.illum), c.ilim), nil
	}
	return v, c.i, nil
}

// MeasureVoltage implements Hardware
func (e *Emulator) MeasureVoltage(ch ChannelID) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, _, err := e.operating(ch)
	return v, err
}

// MeasureCurrent implements Hardware
func (e *Emulator) MeasureCurrent(ch ChannelID) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, i, err := e.operating(ch)
	return i, err
}

// MeasureBoth implements Hardware
func (e *Emulator) MeasureBoth() (a, b float64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.single {
		return 0, 0, errors.New("single channel emulator cannot measure both channels at once")
	}
	if _, a, err = e.operating(ChannelA); err != nil {
		return 0, 0, err
	}
	if _, b, err = e.operating(ChannelB); err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// TerminalSwitches returns how many times the terminals have been switched
func (e *Emulator) TerminalSwitches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch[ChannelA].switches
}
