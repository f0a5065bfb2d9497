package illumination

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// AmplitudeTolerance is the relative difference allowed between the
// commanded and read back drive amplitude
const AmplitudeTolerance = 0.005

// AmplitudeSource is an instrument with an analog output, such as a
// function generator programmed for DC
type AmplitudeSource interface {
	SetAmplitude(float64) error
	Amplitude() (float64, error)
	EnableOutput() error
	DisableOutput() error
}

// AmplitudeLamp is a lamp whose intensity follows an analog drive level
type AmplitudeLamp struct {
	mu  sync.Mutex
	on  bool
	cur float64

	Src AmplitudeSource

	// Levels maps intensity in percent to drive amplitude.  If an intensity
	// is not present and VoltsPerPercent is nonzero, the drive is linear.
	Levels map[float64]float64

	VoltsPerPercent float64

	Settle time.Duration
}

func (a *AmplitudeLamp) level(intensity float64) (float64, bool) {
	if v, ok := lookupFloat(a.Levels, intensity); ok {
		return v, true
	}
	if a.VoltsPerPercent != 0 {
		return intensity * a.VoltsPerPercent, true
	}
	return 0, false
}

// LightOn programs the drive for intensity, confirms it, then enables the output
func (a *AmplitudeLamp) LightOn(ctx context.Context, intensity float64) error {
	amp, ok := a.level(intensity)
	if !ok {
		return undefined(intensity)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.Src.SetAmplitude(amp); err != nil {
		return errors.Wrap(ErrDeviceRejected, err.Error())
	}
	got, err := a.Src.Amplitude()
	if err != nil {
		return err
	}
	if math.Abs(got-amp) > AmplitudeTolerance*math.Abs(amp) {
		return errors.Wrapf(ErrConfirmationMismatch, "drive reads %g, commanded %g", got, amp)
	}
	a.on = true
	a.cur = intensity
	if err := a.Src.EnableOutput(); err != nil {
		return errors.Wrap(ErrDeviceRejected, err.Error())
	}
	return sleep(ctx, a.Settle)
}

// LightOff disables the drive output
func (a *AmplitudeLamp) LightOff(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.on {
		return nil
	}
	if err := a.Src.DisableOutput(); err != nil {
		return errors.Wrap(ErrDeviceRejected, err.Error())
	}
	a.on = false
	a.cur = 0
	return sleep(ctx, a.Settle)
}

// On implements State
func (a *AmplitudeLamp) On() (bool, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on, a.cur
}
