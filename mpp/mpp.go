/*Package mpp tracks the maximum power point of a cell by perturb and observe.

Each tick the operating voltage moves one step in the current direction.
If the power fell, the direction reverses.  The step grows while the
recent directions agree, that is while the tracker is climbing toward the
peak, and shrinks while they cancel, that is while it dithers around the
peak.  The direction history is cleared whenever the step changes so one
rescale cannot immediately trigger another.
*/
package mpp

import (
	"math"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/util"
)

// DefaultHistory is the length of the direction history
const DefaultHistory = 6

// Config holds the tuning of a Tracker
type Config struct {
	// Step is the initial step in volts
	Step float64 `json:"step" yaml:"step"`

	StepMin float64 `json:"stepMin" yaml:"stepMin"`
	StepMax float64 `json:"stepMax" yaml:"stepMax"`

	// History is the number of directions considered, 6 to 8 works well
	History int `json:"history" yaml:"history"`

	// Compliance bounds the voltage to ±Compliance
	Compliance float64 `json:"compliance" yaml:"compliance"`
}

// Validate checks that c describes a usable tracker
func (c Config) Validate() error {
	switch {
	case c.StepMin <= 0:
		return errors.New("mpp: minimum step must be positive")
	case c.StepMax < c.StepMin:
		return errors.New("mpp: maximum step is smaller than minimum step")
	case c.Compliance <= 0:
		return errors.New("mpp: voltage compliance must be positive")
	case c.History < 0 || c.History == 1:
		return errors.New("mpp: history must be at least 2")
	}
	return nil
}

// Tracker is the state of an MPP search
type Tracker struct {
	cfg Config

	voltage   float64
	step      float64
	direction int
	lastPower float64
	hist      *ring
}

// New returns a Tracker starting at v0 and moving toward positive voltage
func New(cfg Config, v0 float64) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.History == 0 {
		cfg.History = DefaultHistory
	}
	step := cfg.Step
	if step == 0 {
		step = cfg.StepMin
	}
	return &Tracker{
		cfg:       cfg,
		voltage:   util.Clamp(v0, -cfg.Compliance, cfg.Compliance),
		step:      util.Clamp(math.Abs(step), cfg.StepMin, cfg.StepMax),
		direction: 1,
		lastPower: math.Inf(-1),
		hist:      newRing(cfg.History),
	}, nil
}

// Voltage is the present operating voltage
func (t *Tracker) Voltage() float64 { return t.voltage }

// Step is the present step size
func (t *Tracker) Step() float64 { return t.step }

// Direction is +1 or -1
func (t *Tracker) Direction() int { return t.direction }

// LastPower is the power given to the previous call to Next
func (t *Tracker) LastPower() float64 { return t.lastPower }

// History returns the recorded directions, oldest first
func (t *Tracker) History() []int { return t.hist.values() }

// Next takes the power measured at Voltage and returns the voltage to apply next
func (t *Tracker) Next(power float64) float64 {
	if power < t.lastPower {
		t.direction = -t.direction
	}
	t.hist.push(t.direction)
	if t.hist.full() {
		trend := t.hist.sum()
		half := len(t.hist.buf) / 2
		if abs(trend) >= half {
			t.step = math.Min(2*t.step, t.cfg.StepMax)
			t.hist.reset()
		} else if trend == 0 && t.step > t.cfg.StepMin {
			t.step = math.Max(t.step/2, t.cfg.StepMin)
			t.hist.reset()
		}
	}
	t.voltage = util.Clamp(t.voltage+t.step*float64(t.direction), -t.cfg.Compliance, t.cfg.Compliance)
	t.lastPower = power
	return t.voltage
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
