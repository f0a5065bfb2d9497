// Package motion contains an abstract interface for a motion controller
// and helpers to drive an axis to a position and wait for it to settle.
package motion

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrNotInPosition is returned when an axis does not reach its target in time
var ErrNotInPosition = errors.New("axis did not reach target position")

// Controller describes a set of methods on a rudimentary motion controller
type Controller interface {
	// Enable enables an axis
	Enable(string) error

	// Disable disables an axis
	Disable(string) error

	// GetEnabled gets if an axis is enabled
	GetEnabled(string) (bool, error)

	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(string, float64) error

	// MoveRel moves an axis a relative amount
	MoveRel(string, float64) error

	// Home homes an axis
	Home(string) error
}

// InPositionQueryer is a type which can query whether an axis is done moving
type InPositionQueryer interface {
	// GetInPosition returns True if the axis is in position
	GetInPosition(string) (bool, error)
}

// MoveAndWait moves axis to pos and polls until it is within tol of pos, or
// until timeout.  If c also implements InPositionQueryer its motion-done flag
// must be set as well.
func MoveAndWait(ctx context.Context, c Controller, axis string, pos, tol float64, poll, timeout time.Duration) error {
	if err := c.MoveAbs(axis, pos); err != nil {
		return errors.Wrapf(err, "moving axis %s to %g", axis, pos)
	}
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	var last float64
	for {
		got, err := c.GetPos(axis)
		if err != nil {
			return errors.Wrapf(err, "reading axis %s position", axis)
		}
		last = got
		done := math.Abs(got-pos) <= tol
		if done {
			if q, ok := c.(InPositionQueryer); ok {
				done, err = q.GetInPosition(axis)
				if err != nil {
					return err
				}
			}
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrNotInPosition, "axis %s at %g, wanted %g±%g", axis, last, pos, tol)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Mock is a Controller whose axes move instantly
type Mock struct {
	mu      sync.Mutex
	pos     map[string]float64
	enabled map[string]bool

	// Moves counts absolute and relative moves per axis
	Moves map[string]int
}

// NewMock returns a Mock with no axes moved
func NewMock() *Mock {
	return &Mock{pos: map[string]float64{}, enabled: map[string]bool{}, Moves: map[string]int{}}
}

// Enable enables an axis
func (m *Mock) Enable(axis string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[axis] = true
	return nil
}

// Disable disables an axis
func (m *Mock) Disable(axis string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[axis] = false
	return nil
}

// GetEnabled returns if an axis is enabled
func (m *Mock) GetEnabled(axis string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[axis], nil
}

// GetPos returns the position of an axis
func (m *Mock) GetPos(axis string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos[axis], nil
}

// MoveAbs moves an axis to pos
func (m *Mock) MoveAbs(axis string, pos float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos[axis] = pos
	m.Moves[axis]++
	return nil
}

// MoveRel moves an axis by delta
func (m *Mock) MoveRel(axis string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos[axis] += delta
	m.Moves[axis]++
	return nil
}

// Home moves an axis to zero
func (m *Mock) Home(axis string) error {
	return m.MoveAbs(axis, 0)
}

// MoveCount returns the number of moves made by axis
func (m *Mock) MoveCount(axis string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Moves[axis]
}
