package smu

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// noChannel marks the physical terminal routing as unknown after a failed toggle
const noChannel ChannelID = -1

// Config holds the settings a Unit applies to the instrument on Init
type Config struct {
	Speed     Speed
	Transport Transport

	// VoltageLimit and CurrentLimit are the initial compliance of both channels
	VoltageLimit float64
	CurrentLimit float64

	SenseMode SenseMode
}

// DefaultConfig is a conservative configuration for a small cell
func DefaultConfig() Config {
	return Config{
		Speed:        Normal,
		Transport:    Emulated,
		VoltageLimit: 2,
		CurrentLimit: 0.1,
		SenseMode:    TwoWire,
	}
}

// Unit is a source-measure unit with channels A and B.  All methods are
// safe for concurrent use; each one holds the unit lock for its full
// duration, so no call observes a half finished terminal toggle.
type Unit struct {
	mu sync.Mutex

	hw     Hardware
	sw     TerminalSwitcher
	ch     [2]Channel
	active ChannelID
	cfg    Config
	log    logrus.FieldLogger
}

// NewUnit wraps hw.  If hw has a single channel it must implement
// TerminalSwitcher.  No I/O is performed until Init.
func NewUnit(hw Hardware, cfg Config, log logrus.FieldLogger) (*Unit, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	u := &Unit{hw: hw, cfg: cfg, active: ChannelA, log: log.WithField("component", "smu")}
	switch hw.Channels() {
	case 2:
	case 1:
		sw, ok := hw.(TerminalSwitcher)
		if !ok {
			return nil, errors.New("single channel hardware must implement TerminalSwitcher to emulate two channels")
		}
		u.sw = sw
	default:
		return nil, errors.Errorf("unsupported channel count %d", hw.Channels())
	}
	if cfg.VoltageLimit <= 0 || cfg.CurrentLimit <= 0 {
		return nil, errors.Errorf("compliance limits must be positive, got %gV %gA", cfg.VoltageLimit, cfg.CurrentLimit)
	}
	for i := range u.ch {
		u.ch[i] = Channel{
			ID:           ChannelID(i),
			SourceMode:   SourceVoltage,
			DisplayMode:  DisplayCurrent,
			SenseMode:    cfg.SenseMode,
			VoltageLimit: cfg.VoltageLimit,
			CurrentLimit: cfg.CurrentLimit,
			AutoRangeV:   true,
			AutoRangeI:   true,
		}
	}
	return u, nil
}

// Init disables all outputs and pushes the stored channel state to the instrument
func (u *Unit) Init() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sw == nil {
		for _, c := range Both.members() {
			if err := u.hwErr("init", c, u.hw.SetOutput(c, false)); err != nil {
				return err
			}
			if err := u.hwErr("init", c, u.hw.SetNPLC(c, NPLC(u.cfg.Speed))); err != nil {
				return err
			}
			if err := u.hw.SetSenseMode(c, u.ch[c].SenseMode); err != nil {
				return u.hwErr("init", c, err)
			}
			if err := u.restore(c, c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := u.hwErr("init", ChannelA, u.hw.SetOutput(ChannelA, false)); err != nil {
		return err
	}
	if err := u.hwErr("init", ChannelA, u.hw.SetNPLC(ChannelA, NPLC(u.cfg.Speed))); err != nil {
		return err
	}
	u.active = noChannel
	return u.ensureActive(ChannelA)
}

// MinSamplePeriod is the shortest achievable sample interval, in seconds,
// for the configured transport and integration speed
func (u *Unit) MinSamplePeriod() float64 {
	return MinSamplePeriod(u.cfg.Transport, u.cfg.Speed)
}

// Simultaneous is true when both channels can be read in one acquisition
func (u *Unit) Simultaneous() bool {
	return u.sw == nil
}

// Channel returns a copy of the state of channel ch
func (u *Unit) Channel(ch ChannelID) (Channel, error) {
	if ch != ChannelA && ch != ChannelB {
		return Channel{}, errors.Wrapf(ErrNoSuchChannel, "channel %s", ch)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ch[ch], nil
}

// ActiveTerminal returns the terminal currently routed on a single channel
// instrument.  It is always Front on a two channel instrument.
func (u *Unit) ActiveTerminal() Terminal {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sw == nil {
		return Front
	}
	return TerminalFor(u.active)
}

func validate(ch ChannelID) error {
	if ch != ChannelA && ch != ChannelB && ch != Both {
		return errors.Wrapf(ErrNoSuchChannel, "channel %d", int(ch))
	}
	return nil
}

// live is true if commands for c reach the hardware right now
func (u *Unit) live(c ChannelID) bool {
	return u.sw == nil || u.active == c
}

// phys maps a logical channel to the channel seen by the adapter
func (u *Unit) phys(c ChannelID) ChannelID {
	if u.sw != nil {
		return ChannelA
	}
	return c
}

func (u *Unit) hwErr(op string, c ChannelID, err error) error {
	if err == nil {
		return nil
	}
	return &HardwareError{Op: op, Channel: c, Err: err}
}

// restore pushes the stored state of logical channel c to physical channel p,
// except sense mode and output enable
func (u *Unit) restore(c, p ChannelID) error {
	st := u.ch[c]
	if err := u.hw.SetLimits(p, st.VoltageLimit, st.CurrentLimit); err != nil {
		return u.hwErr("restore limits", c, err)
	}
	if err := u.hw.SetRanges(p, st.VoltageRange, st.CurrentRange, st.AutoRangeV, st.AutoRangeI); err != nil {
		return u.hwErr("restore ranges", c, err)
	}
	if err := u.hw.SetSourceMode(p, st.SourceMode); err != nil {
		return u.hwErr("restore source mode", c, err)
	}
	var err error
	if st.SourceMode == SourceVoltage {
		err = u.hw.SetVoltage(p, st.Voltage)
	} else {
		err = u.hw.SetCurrent(p, st.Current)
	}
	if err != nil {
		return u.hwErr("restore setpoint", c, err)
	}
	if err := u.hw.SetDisplayMode(p, st.DisplayMode); err != nil {
		return u.hwErr("restore display", c, err)
	}
	return nil
}

// ensureActive routes the terminals of a single channel instrument to c.
// The output is disabled first and only re-enabled after the full state of
// c has been restored, and only if c had its output enabled.
// u.mu must be held.
func (u *Unit) ensureActive(c ChannelID) error {
	if u.sw == nil || u.active == c {
		return nil
	}
	log := u.log.WithFields(logrus.Fields{"from": u.active, "to": c})
	log.Debug("toggling terminals")
	u.active = noChannel
	if err := u.hw.SetOutput(ChannelA, false); err != nil {
		return u.hwErr("toggle output off", c, err)
	}
	if err := u.sw.SelectTerminal(TerminalFor(c)); err != nil {
		return u.hwErr("select terminal", c, err)
	}
	if err := u.hw.SetSenseMode(ChannelA, u.ch[c].SenseMode); err != nil {
		return u.hwErr("restore sense mode", c, err)
	}
	if err := u.restore(c, ChannelA); err != nil {
		return err
	}
	if u.ch[c].OutputEnabled {
		if err := u.hw.SetOutput(ChannelA, true); err != nil {
			return u.hwErr("toggle output on", c, err)
		}
	}
	u.active = c
	return nil
}

// SetSourceMode changes the sourced quantity of ch.  On a single channel
// instrument the inactive channel only records the change; it is applied
// when the terminals are next routed to it.
func (u *Unit) SetSourceMode(ch ChannelID, m SourceMode) error {
	if err := validate(ch); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range ch.members() {
		u.ch[c].SourceMode = m
		if u.live(c) {
			if err := u.hw.SetSourceMode(u.phys(c), m); err != nil {
				return u.hwErr("set source mode", c, err)
			}
		}
	}
	return nil
}

// SetLimits sets the voltage and current compliance of ch
func (u *Unit) SetLimits(ch ChannelID, voltage, current float64) error {
	if err := validate(ch); err != nil {
		return err
	}
	if voltage <= 0 || current <= 0 {
		return errors.Errorf("compliance limits must be positive, got %gV %gA", voltage, current)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range ch.members() {
		u.ch[c].VoltageLimit = voltage
		u.ch[c].CurrentLimit = current
		if u.live(c) {
			if err := u.hw.SetLimits(u.phys(c), voltage, current); err != nil {
				return u.hwErr("set limits", c, err)
			}
		}
	}
	return nil
}

// SetRanges sets the measurement ranges of ch.  A zero range with auto
// set leaves range selection to the instrument.
func (u *Unit) SetRanges(ch ChannelID, voltage, current float64, autoV, autoI bool) error {
	if err := validate(ch); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range ch.members() {
		st := &u.ch[c]
		st.VoltageRange, st.CurrentRange, st.AutoRangeV, st.AutoRangeI = voltage, current, autoV, autoI
		if u.live(c) {
			if err := u.hw.SetRanges(u.phys(c), voltage, current, autoV, autoI); err != nil {
				return u.hwErr("set ranges", c, err)
			}
		}
	}
	return nil
}

// SetSenseMode selects two or four wire sensing on ch
func (u *Unit) SetSenseMode(ch ChannelID, m SenseMode) error {
	if err := validate(ch); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range ch.members() {
		u.ch[c].SenseMode = m
		if u.live(c) {
			if err := u.hw.SetSenseMode(u.phys(c), m); err != nil {
				return u.hwErr("set sense mode", c, err)
			}
		}
	}
	return nil
}

// SetDisplayMode selects what the front panel shows for ch
func (u *Unit) SetDisplayMode(ch ChannelID, m DisplayMode) error {
	if err := validate(ch); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range ch.members() {
		u.ch[c].DisplayMode = m
		if u.live(c) {
			if err := u.hw.SetDisplayMode(u.phys(c), m); err != nil {
				return u.hwErr("set display mode", c, err)
			}
		}
	}
	return nil
}

// SetVoltage sets the voltage setpoint of ch.  If |v| exceeds the voltage
// limit of any addressed channel a *ComplianceError is returned and no
// state or hardware is touched.
func (u *Unit) SetVoltage(ch ChannelID, v float64) error {
	return u.setLevel(ch, v, true)
}

// SetCurrent sets the current setpoint of ch, see SetVoltage
func (u *Unit) SetCurrent(ch ChannelID, i float64) error {
	return u.setLevel(ch, i, false)
}

func (u *Unit) setLevel(ch ChannelID, value float64, voltage bool) error {
	if err := validate(ch); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range ch.members() {
		var err error
		if voltage {
			err = CheckCompliance(c, "voltage", value, u.ch[c].VoltageLimit)
		} else {
			err = CheckCompliance(c, "current", value, u.ch[c].CurrentLimit)
		}
		if err != nil {
			return err
		}
	}
	for _, c := range ch.members() {
		if err := u.ensureActive(c); err != nil {
			return err
		}
		if voltage {
			if err := u.hw.SetVoltage(u.phys(c), value); err != nil {
				return u.hwErr("set voltage", c, err)
			}
			u.ch[c].Voltage = value
		} else {
			if err := u.hw.SetCurrent(u.phys(c), value); err != nil {
				return u.hwErr("set current", c, err)
			}
			u.ch[c].Current = value
		}
	}
	return nil
}

// EnableOutput turns on the output of ch
func (u *Unit) EnableOutput(ch ChannelID) error {
	if err := validate(ch); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range ch.members() {
		if err := u.ensureActive(c); err != nil {
			return err
		}
		if err := u.hw.SetOutput(u.phys(c), true); err != nil {
			return u.hwErr("enable output", c, err)
		}
		u.ch[c].OutputEnabled = true
	}
	return nil
}

// DisableOutput turns off the output of ch.  It is always safe to call and
// attempts every addressed channel even if one fails; the first error is
// returned.  On a single channel instrument an inactive channel is already
// physically off, so only its state is updated.
func (u *Unit) DisableOutput(ch ChannelID) error {
	if err := validate(ch); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	var first error
	for _, c := range ch.members() {
		u.ch[c].OutputEnabled = false
		if u.sw != nil && u.active != c && u.active != noChannel {
			continue
		}
		if err := u.hw.SetOutput(u.phys(c), false); err != nil && first == nil {
			first = u.hwErr("disable output", c, err)
		}
	}
	return first
}

// MeasureVoltage reads the voltage of ch
func (u *Unit) MeasureVoltage(ch ChannelID) (float64, error) {
	return u.measure(ch, "measure voltage", u.hw.MeasureVoltage)
}

// MeasureCurrent reads the current of ch
func (u *Unit) MeasureCurrent(ch ChannelID) (float64, error) {
	return u.measure(ch, "measure current", u.hw.MeasureCurrent)
}

func (u *Unit) measure(ch ChannelID, op string, f func(ChannelID) (float64, error)) (float64, error) {
	if ch != ChannelA && ch != ChannelB {
		return 0, errors.Wrapf(ErrNoSuchChannel, "%s on channel %s", op, ch)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.ensureActive(ch); err != nil {
		return 0, err
	}
	v, err := f(u.phys(ch))
	if err != nil {
		return 0, u.hwErr(op, ch, err)
	}
	return v, nil
}

// MeasureBoth reads the current of channels A and B.  A two channel
// instrument reads them simultaneously; a single channel instrument reads
// them one after the other, toggling terminals in between.
func (u *Unit) MeasureBoth() (a, b float64, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sw == nil {
		a, b, err = u.hw.MeasureBoth()
		if err != nil {
			return 0, 0, u.hwErr("measure both", Both, err)
		}
		return a, b, nil
	}
	// read whichever is routed first to save a toggle
	order := []ChannelID{ChannelA, ChannelB}
	if u.active == ChannelB {
		order = []ChannelID{ChannelB, ChannelA}
	}
	var out [2]float64
	for _, c := range order {
		if err = u.ensureActive(c); err != nil {
			return 0, 0, err
		}
		out[c], err = u.hw.MeasureCurrent(ChannelA)
		if err != nil {
			return 0, 0, u.hwErr("measure current", c, err)
		}
	}
	return out[ChannelA], out[ChannelB], nil
}
