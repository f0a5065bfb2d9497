package illumination

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/motion"
	"github.com/sirupsen/logrus"
)

// FilterWheel is a broadband lamp which stays lit, with the intensity at the
// sample set by a neutral density filter wheel on a motion axis.  One
// position of the wheel is opaque and is used for LightOff.
type FilterWheel struct {
	mu  sync.Mutex
	on  bool
	cur float64

	Ctl  motion.Controller
	Axis string

	// Positions maps intensity in percent to wheel position
	Positions map[float64]float64

	// Dark is the position of the opaque filter
	Dark float64

	// Tolerance is the largest acceptable difference between commanded and read back position
	Tolerance float64

	// MoveTimeout bounds how long a move may take
	MoveTimeout time.Duration

	Settle time.Duration

	Log logrus.FieldLogger
}

func (f *FilterWheel) moveTo(ctx context.Context, pos float64) error {
	tol := f.Tolerance
	if tol <= 0 {
		tol = 1e-3
	}
	timeout := f.MoveTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	err := motion.MoveAndWait(ctx, f.Ctl, f.Axis, pos, tol, 20*time.Millisecond, timeout)
	if errors.Is(err, motion.ErrNotInPosition) {
		got, _ := f.Ctl.GetPos(f.Axis)
		return errors.Wrapf(ErrConfirmationMismatch, "filter wheel at %g, commanded %g", got, pos)
	}
	if err != nil {
		return err
	}
	got, err := f.Ctl.GetPos(f.Axis)
	if err != nil {
		return err
	}
	if math.Abs(got-pos) > tol {
		return errors.Wrapf(ErrConfirmationMismatch, "filter wheel at %g, commanded %g", got, pos)
	}
	if f.Log != nil {
		f.Log.WithField("pos", pos).Debug("filter wheel moved")
	}
	return sleep(ctx, f.Settle)
}

// LightOn moves the filter for intensity into the beam
func (f *FilterWheel) LightOn(ctx context.Context, intensity float64) error {
	pos, ok := lookupFloat(f.Positions, intensity)
	if !ok {
		return undefined(intensity)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// assume lit as soon as the wheel starts moving
	f.on = true
	f.cur = intensity
	return f.moveTo(ctx, pos)
}

// LightOff moves the opaque filter into the beam
func (f *FilterWheel) LightOff(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.on {
		return nil
	}
	if err := f.moveTo(ctx, f.Dark); err != nil {
		return err
	}
	f.on = false
	f.cur = 0
	return nil
}

// On implements State
func (f *FilterWheel) On() (bool, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on, f.cur
}
