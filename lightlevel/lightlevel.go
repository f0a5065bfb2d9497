/*Package lightlevel measures illumination with a reference photodiode.

The diode is held at short circuit (0 V) on its own SMU channel and its
photocurrent is compared to the current it gives at one sun.  In Parallel
mode the diode sits beside the cell and is read together with it.  In Serial
mode the diode and the cell share a stage, and the diode is moved into the
beam for the reading and the cell moved back afterwards.
*/
package lightlevel

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/stage"
	"github.com/pvlab/ivbench/util"
)

// Mode is how the reference diode is placed relative to the cell
type Mode string

const (
	// Parallel mounts the diode beside the cell
	Parallel Mode = "parallel"
	// Serial mounts the diode and cell on a stage, read one after the other
	Serial Mode = "serial"
)

// ParseMode converts a string to a Mode
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m != Parallel && m != Serial {
		return "", errors.Errorf("unknown reference diode mode %q, must be parallel or serial", s)
	}
	return m, nil
}

// ErrNoReference is returned when the one sun reference current is zero
var ErrNoReference = errors.New("one sun reference current is not set")

// Monitor reads the reference diode
type Monitor struct {
	SMU smu.SourceMeter

	// Test is the channel of the cell, Reference the channel of the diode
	Test, Reference smu.ChannelID

	// OneSun is the diode current at 100% illumination, in amps
	OneSun float64

	Mode  Mode
	Stage stage.Positioner

	Clock util.Clock
}

func (m *Monitor) clock() util.Clock {
	if m.Clock == nil {
		return util.SystemClock{}
	}
	return m.Clock
}

// Percent converts a diode current to percent of one sun
func (m *Monitor) Percent(current float64) (float64, error) {
	if m.OneSun == 0 {
		return 0, ErrNoReference
	}
	return math.Abs(100 * current / m.OneSun), nil
}

// Prepare puts the reference channel in voltage source mode at 0 V with its output on
func (m *Monitor) Prepare() error {
	if err := m.SMU.SetSourceMode(m.Reference, smu.SourceVoltage); err != nil {
		return err
	}
	if err := m.SMU.SetVoltage(m.Reference, 0); err != nil {
		return err
	}
	return m.SMU.EnableOutput(m.Reference)
}

// ReadReference returns one reference diode current reading.  In parallel
// mode on an instrument that reads both channels at once, the test channel
// reading taken alongside it is returned as well and ok is true.
func (m *Monitor) ReadReference() (ref, test float64, ok bool, err error) {
	if m.Mode != Serial && m.SMU.Simultaneous() && m.Test != m.Reference {
		a, b, err := m.SMU.MeasureBoth()
		if err != nil {
			return 0, 0, false, err
		}
		if m.Test == smu.ChannelA {
			return b, a, true, nil
		}
		return a, b, true, nil
	}
	ref, err = m.SMU.MeasureCurrent(m.Reference)
	return ref, 0, false, err
}

// MeasureIntensity returns the illumination in percent of one sun, averaged
// over dwell.  The diode is read as fast as the instrument allows for the
// whole dwell.  ctx is checked between readings.
func (m *Monitor) MeasureIntensity(ctx context.Context, dwell time.Duration) (pct float64, err error) {
	if m.OneSun == 0 {
		return 0, ErrNoReference
	}
	if m.Mode == Serial && m.Stage != nil {
		if err := m.Stage.EnterMeasurementPosition(ctx, stage.ReferenceDiode); err != nil {
			return 0, err
		}
		// the cell goes back in the beam even when ctx is already done
		defer func() {
			if err2 := m.Stage.EnterMeasurementPosition(context.Background(), stage.TestCell); err2 != nil && err == nil {
				pct, err = 0, err2
			}
		}()
	}
	avg, err := m.average(ctx, dwell)
	if err != nil {
		return 0, err
	}
	return m.Percent(avg)
}

func (m *Monitor) average(ctx context.Context, dwell time.Duration) (float64, error) {
	if err := m.Prepare(); err != nil {
		return 0, err
	}
	clk := m.clock()
	period := util.SecsToDuration(m.SMU.MinSamplePeriod())
	start := clk.Now()
	var sum float64
	var n int
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		i, _, _, err := m.ReadReference()
		if err != nil {
			return 0, err
		}
		sum += i
		n++
		if clk.Now().Sub(start) >= dwell {
			break
		}
		clk.Sleep(period)
	}
	return sum / float64(n), nil
}
