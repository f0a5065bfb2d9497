package illumination

import (
	"context"
	"sync"
	"time"
)

// Mock is a lamp that records what it is asked to do.  If Couple is set it
// is called with the intensity on every change, which is how the emulated
// SMU learns how much light it sees.
type Mock struct {
	mu  sync.Mutex
	on  bool
	cur float64

	// Intensities, if non-empty, restricts the accepted intensities
	Intensities []float64

	Couple func(pct float64)

	// FailOn and FailOff are returned by LightOn and LightOff when non-nil
	FailOn  error
	FailOff error

	Settle time.Duration

	OnCalls  int
	OffCalls int
}

// NewMock returns a mock lamp that drives couple
func NewMock(couple func(pct float64)) *Mock {
	return &Mock{Couple: couple}
}

// LightOn implements Controller
func (m *Mock) LightOn(ctx context.Context, intensity float64) error {
	m.mu.Lock()
	m.OnCalls++
	if len(m.Intensities) > 0 {
		found := false
		for _, v := range m.Intensities {
			if v-intensity < intensityTolerance && intensity-v < intensityTolerance {
				found = true
				break
			}
		}
		if !found {
			m.mu.Unlock()
			return undefined(intensity)
		}
	}
	if m.FailOn != nil {
		m.mu.Unlock()
		return m.FailOn
	}
	m.on = true
	m.cur = intensity
	if m.Couple != nil {
		m.Couple(intensity)
	}
	m.mu.Unlock()
	return sleep(ctx, m.Settle)
}

// LightOff implements Controller
func (m *Mock) LightOff(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OffCalls++
	if m.FailOff != nil {
		return m.FailOff
	}
	m.on = false
	m.cur = 0
	if m.Couple != nil {
		m.Couple(0)
	}
	return nil
}

// On implements State
func (m *Mock) On() (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on, m.cur
}

// Calls returns the number of LightOn and LightOff calls
func (m *Mock) Calls() (on, off int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OnCalls, m.OffCalls
}
