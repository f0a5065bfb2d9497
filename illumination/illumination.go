/*Package illumination turns the solar simulator on and off.

Every lamp implements Controller.  LightOn blocks until the lamp confirms the
requested state, where its protocol allows it, and a configured settle time
has passed.  LightOff is always safe to call, including when the lamp is
already off.

Three activation schemes are provided: a recipe lamp driven by XML messages
over a socket (RecipeLamp), a broadband lamp attenuated by a motorized filter
wheel (FilterWheel), and a lamp whose drive level is an analog amplitude from
a SCPI instrument (AmplitudeLamp).  Mock stands in for all of them.
*/
package illumination

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUndefinedIntensity is returned when an intensity has no configured activation
	ErrUndefinedIntensity = errors.New("no activation configured for requested intensity")

	// ErrDeviceRejected is returned when the lamp reports an error for a command
	ErrDeviceRejected = errors.New("lamp rejected command")

	// ErrConfirmationMismatch is returned when the read back state differs from the requested state
	ErrConfirmationMismatch = errors.New("lamp state read back does not match request")
)

// Controller is a lamp
type Controller interface {
	// LightOn illuminates at intensity, in percent of one sun
	LightOn(ctx context.Context, intensity float64) error

	// LightOff extinguishes the lamp.  It is a no-op if the lamp is off.
	LightOff(ctx context.Context) error
}

// State is implemented by lamps that can report what they were last asked to do
type State interface {
	// On returns whether the lamp is on and at what intensity
	On() (bool, float64)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// intensityTolerance is how close a requested intensity must be to a table key
const intensityTolerance = 1e-6

// lookup finds the entry of table whose key matches intensity
func lookup(table map[float64]string, intensity float64) (string, bool) {
	for k, v := range table {
		if k-intensity < intensityTolerance && intensity-k < intensityTolerance {
			return v, true
		}
	}
	return "", false
}

func lookupFloat(table map[float64]float64, intensity float64) (float64, bool) {
	for k, v := range table {
		if k-intensity < intensityTolerance && intensity-k < intensityTolerance {
			return v, true
		}
	}
	return 0, false
}

// Intensities returns the sorted keys of an intensity table
func Intensities(table map[float64]string) []float64 {
	out := make([]float64, 0, len(table))
	for k := range table {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

func undefined(intensity float64) error {
	return errors.Wrapf(ErrUndefinedIntensity, "%g%%", intensity)
}
