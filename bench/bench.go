/*Package bench assembles a measurement bench from configuration.

Build turns a Config into connected instruments and a measure.Runner.  With
Mock set, the SMU is the diode-model emulator, the lamp is a mock whose
intensity drives the emulated photocurrent, and the stage is a mock, so the
whole system can run without hardware.
*/
package bench

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/agilent"
	"github.com/pvlab/ivbench/comm"
	"github.com/pvlab/ivbench/illumination"
	"github.com/pvlab/ivbench/keithley"
	"github.com/pvlab/ivbench/lightlevel"
	"github.com/pvlab/ivbench/measure"
	"github.com/pvlab/ivbench/motion"
	"github.com/pvlab/ivbench/newport"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/stage"
	"github.com/pvlab/ivbench/usbtmc"
	"github.com/pvlab/ivbench/util"
	"github.com/sirupsen/logrus"
)

// idle connections to instruments are closed after this long
const poolIdle = 30 * time.Second

// Bench is an assembled bench
type Bench struct {
	Config Config

	Unit *smu.Unit

	// Emulator is the emulated SMU in mock mode, nil otherwise
	Emulator *smu.Emulator

	Lamp    illumination.Controller
	Monitor *lightlevel.Monitor
	Stage   stage.Positioner
	Runner  *measure.Runner

	Test, Reference smu.ChannelID

	closers []io.Closer
}

// Close releases every connection held by the bench
func (b *Bench) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// Build connects to the instruments described by cfg and initializes the SMU
func Build(cfg Config, log logrus.FieldLogger) (*Bench, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &Bench{Config: cfg}
	var err error
	if err = b.channels(); err != nil {
		return nil, err
	}
	if err = b.buildSMU(log); err != nil {
		b.Close()
		return nil, err
	}
	motors := map[string]*newport.ESP301{}
	if b.Lamp, err = b.buildLamp(motors, log); err != nil {
		b.Close()
		return nil, err
	}
	if b.Stage, err = b.buildStage(motors, log); err != nil {
		b.Close()
		return nil, err
	}
	if cfg.Reference.Enabled {
		mode, err := lightlevel.ParseMode(cfg.Reference.Mode)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Monitor = &lightlevel.Monitor{
			SMU:       b.Unit,
			Test:      b.Test,
			Reference: b.Reference,
			OneSun:    cfg.Reference.OneSun,
			Mode:      mode,
			Stage:     b.Stage,
			Clock:     util.SystemClock{},
		}
	}
	b.Runner = measure.NewRunner(b.Unit, b.Lamp, b.Monitor, cfg.Runner, log)
	b.Runner.Test = b.Test
	if err := b.Unit.Init(); err != nil {
		b.Close()
		return nil, errors.Wrap(err, "initializing SMU")
	}
	return b, nil
}

func (b *Bench) channels() error {
	if err := b.Test.UnmarshalText([]byte(b.Config.SMU.Test)); err != nil {
		return errors.Wrap(err, "smu.test")
	}
	if err := b.Reference.UnmarshalText([]byte(b.Config.SMU.Reference)); err != nil {
		return errors.Wrap(err, "smu.reference")
	}
	if b.Test == smu.Both || b.Reference == smu.Both || b.Test == b.Reference {
		return errors.New("smu.test and smu.reference must be distinct channels A and B")
	}
	return nil
}

func (b *Bench) smuConfig() (smu.Config, error) {
	c := b.Config.SMU
	speed, err := smu.ParseSpeed(c.Speed)
	if err != nil {
		return smu.Config{}, err
	}
	transport := smu.Emulated
	if !b.Config.Mock {
		if transport, err = smu.ParseTransport(c.Transport); err != nil {
			return smu.Config{}, err
		}
	}
	sense := smu.TwoWire
	if c.FourWire {
		sense = smu.FourWire
	}
	return smu.Config{
		Speed:        speed,
		Transport:    transport,
		VoltageLimit: c.VoltageLimit,
		CurrentLimit: c.CurrentLimit,
		SenseMode:    sense,
	}, nil
}

// ParseUSBAddr parses "vid:pid" in hexadecimal, with or without 0x
func ParseUSBAddr(addr string) (vid, pid uint16, err error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("usb address %q must be vid:pid", addr)
	}
	var ids [2]uint16
	for i, p := range parts {
		p = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p)), "0x")
		v, err := strconv.ParseUint(p, 16, 16)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "usb address %q", addr)
		}
		ids[i] = uint16(v)
	}
	return ids[0], ids[1], nil
}

// pool returns a connection pool for an SMU or SCPI instrument
func (b *Bench) pool(transport smu.Transport, addr string, baud int, timeout time.Duration) (*comm.Pool, error) {
	var maker comm.CreationFunc
	switch transport {
	case smu.USB:
		vid, pid, err := ParseUSBAddr(addr)
		if err != nil {
			return nil, err
		}
		maker = func() (io.ReadWriteCloser, error) { return usbtmc.Open(vid, pid) }
	case smu.Serial:
		rd := comm.NewRemoteDevice(addr, true, nil, comm.SerialConf(addr, baud, timeout))
		maker = rd.Maker()
	default:
		rd := comm.NewRemoteDevice(addr, false, nil, nil)
		rd.Timeout = timeout
		maker = rd.Maker()
	}
	p := comm.NewPool(1, poolIdle, maker)
	b.closers = append(b.closers, p)
	return p, nil
}

func (b *Bench) buildSMU(log logrus.FieldLogger) error {
	c := b.Config.SMU
	scfg, err := b.smuConfig()
	if err != nil {
		return err
	}
	var hw smu.Hardware
	driver := strings.ToLower(c.Driver)
	if b.Config.Mock {
		driver = "emulated"
	}
	timeout := util.SecsToDuration(c.Timeout)
	switch driver {
	case "emulated", "emulator", "mock":
		e := b.Config.Emulator
		if e.SingleChannel {
			b.Emulator = smu.NewSingleChannelEmulator(e.Cell, e.RefCurrent)
		} else {
			b.Emulator = smu.NewEmulator(e.Cell, e.RefCurrent)
		}
		// dark until the lamp says otherwise
		b.Emulator.SetIllumination(0)
		hw = b.Emulator
	case "k2400", "2400", "keithley2400":
		p, err := b.pool(scfg.Transport, c.Addr, c.Baud, timeout)
		if err != nil {
			return err
		}
		k := keithley.NewK2400(p)
		k.Timeout = timeout
		if err := k.Reset(); err != nil {
			return errors.Wrap(err, "resetting 2400")
		}
		hw = k
	case "k2600", "2600", "keithley2600":
		p, err := b.pool(scfg.Transport, c.Addr, c.Baud, timeout)
		if err != nil {
			return err
		}
		k := keithley.NewK2600(p)
		k.Timeout = timeout
		if err := k.Reset(); err != nil {
			return errors.Wrap(err, "resetting 2600")
		}
		hw = k
	default:
		return errors.Errorf("unknown SMU driver %q", c.Driver)
	}
	b.Unit, err = smu.NewUnit(hw, scfg, log)
	return err
}

func (b *Bench) motor(motors map[string]*newport.ESP301, addr string, serial bool) *newport.ESP301 {
	if m, ok := motors[addr]; ok {
		return m
	}
	m := newport.NewESP301(addr, serial)
	motors[addr] = m
	b.closers = append(b.closers, m)
	return m
}

func (b *Bench) buildLamp(motors map[string]*newport.ESP301, log logrus.FieldLogger) (illumination.Controller, error) {
	c := b.Config.Lamp
	settle := util.SecsToDuration(c.Settle)
	driver := strings.ToLower(c.Driver)
	if b.Config.Mock {
		driver = "mock"
	}
	switch driver {
	case "mock":
		var couple func(float64)
		if b.Emulator != nil {
			couple = b.Emulator.SetIllumination
		}
		m := illumination.NewMock(couple)
		m.Settle = settle
		for _, ic := range c.Intensities {
			m.Intensities = append(m.Intensities, ic.Intensity)
		}
		return m, nil
	case "recipe", "wavelabs":
		recipes := map[float64]string{}
		for _, ic := range c.Intensities {
			recipes[ic.Intensity] = ic.Recipe
		}
		l := illumination.NewRecipeLamp(c.Addr, recipes, settle)
		l.Log = log.WithField("component", "lamp")
		return l, nil
	case "filterwheel", "filter":
		positions := map[float64]float64{}
		for _, ic := range c.Intensities {
			positions[ic.Intensity] = ic.Position
		}
		var ctl motion.Controller = b.motor(motors, c.Addr, c.Serial)
		return &illumination.FilterWheel{
			Ctl:       ctl,
			Axis:      c.Axis,
			Positions: positions,
			Dark:      c.Dark,
			Tolerance: c.Tolerance,
			Settle:    settle,
			Log:       log.WithField("component", "lamp"),
		}, nil
	case "amplitude", "scpi", "agilent":
		levels := map[float64]float64{}
		for _, ic := range c.Intensities {
			if ic.Amplitude != 0 {
				levels[ic.Intensity] = ic.Amplitude
			}
		}
		transport := smu.LAN
		if c.Serial {
			transport = smu.Serial
		}
		p, err := b.pool(transport, c.Addr, 9600, 3*time.Second)
		if err != nil {
			return nil, err
		}
		return &illumination.AmplitudeLamp{
			Src:             agilent.NewFunctionGenerator(p),
			Levels:          levels,
			VoltsPerPercent: c.VoltsPerPercent,
			Settle:          settle,
		}, nil
	}
	return nil, errors.Errorf("unknown lamp driver %q", c.Driver)
}

func (b *Bench) buildStage(motors map[string]*newport.ESP301, log logrus.FieldLogger) (stage.Positioner, error) {
	c := b.Config.Stage
	driver := strings.ToLower(c.Driver)
	if b.Config.Mock {
		driver = "mock"
	}
	switch driver {
	case "", "fixed", "none":
		return stage.Fixed{}, nil
	case "mock":
		return &stage.Mock{}, nil
	case "esp301", "esp", "newport":
		return &stage.Motorized{
			Ctl:          b.motor(motors, c.Addr, c.Serial),
			Axis:         c.Axis,
			CellPos:      c.CellPos,
			ReferencePos: c.ReferencePos,
			Tolerance:    c.Tolerance,
			Settle:       util.SecsToDuration(c.Settle),
			Log:          log.WithField("component", "stage"),
		}, nil
	}
	return nil, errors.Errorf("unknown stage driver %q", c.Driver)
}
