// Package stage positions the test cell and the reference diode in the light path.
//
// Benches that measure the reference diode in series with the cell mount
// both on a moving stage.  Benches that measure in parallel have a Fixed
// stage, for which every position request is a no-op.
package stage

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/motion"
	"github.com/sirupsen/logrus"
)

// Position is a place the stage can put in the beam
type Position int

const (
	// TestCell puts the device under test in the beam
	TestCell Position = iota
	// ReferenceDiode puts the reference photodiode in the beam
	ReferenceDiode
)

func (p Position) String() string {
	switch p {
	case TestCell:
		return "test cell"
	case ReferenceDiode:
		return "reference diode"
	default:
		return "unknown position"
	}
}

// ParsePosition converts "cell" or "reference" to a Position
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cell", "test", "testcell":
		return TestCell, nil
	case "reference", "ref", "diode":
		return ReferenceDiode, nil
	}
	return 0, errors.Errorf("unknown stage position %q", s)
}

// ErrPosition is returned when the stage does not reach a position
var ErrPosition = errors.New("stage did not reach position")

// Positioner moves the stage
type Positioner interface {
	// EnterMeasurementPosition blocks until p is in the beam and settled
	EnterMeasurementPosition(ctx context.Context, p Position) error
}

// Fixed is a Positioner for benches without a stage
type Fixed struct{}

// EnterMeasurementPosition does nothing
func (Fixed) EnterMeasurementPosition(context.Context, Position) error { return nil }

// Motorized is a stage on one motion axis
type Motorized struct {
	mu      sync.Mutex
	current Position
	known   bool

	Ctl  motion.Controller
	Axis string

	// CellPos and ReferencePos are the axis positions for each Position
	CellPos, ReferencePos float64

	Tolerance   float64
	MoveTimeout time.Duration

	// Settle is waited after every move for vibration to die down
	Settle time.Duration

	Log logrus.FieldLogger
}

// EnterMeasurementPosition moves the axis to p.  Repeated requests for the
// position the stage is already in do not move it.
func (m *Motorized) EnterMeasurementPosition(ctx context.Context, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.known && m.current == p {
		return nil
	}
	var target float64
	switch p {
	case TestCell:
		target = m.CellPos
	case ReferenceDiode:
		target = m.ReferencePos
	default:
		return errors.Errorf("unknown stage position %d", p)
	}
	tol := m.Tolerance
	if tol <= 0 {
		tol = 0.01
	}
	timeout := m.MoveTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	m.known = false
	err := motion.MoveAndWait(ctx, m.Ctl, m.Axis, target, tol, 25*time.Millisecond, timeout)
	if errors.Is(err, motion.ErrNotInPosition) {
		return errors.Wrap(ErrPosition, err.Error())
	}
	if err != nil {
		return err
	}
	if got, err := m.Ctl.GetPos(m.Axis); err != nil {
		return err
	} else if math.Abs(got-target) > tol {
		return errors.Wrapf(ErrPosition, "%s at %g, wanted %g", p, got, target)
	}
	if m.Log != nil {
		m.Log.WithField("position", p.String()).Debug("stage moved")
	}
	if m.Settle > 0 {
		t := time.NewTimer(m.Settle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	m.current = p
	m.known = true
	return nil
}

// Mock is a Positioner that records the positions requested of it
type Mock struct {
	mu      sync.Mutex
	current Position
	history []Position
}

// EnterMeasurementPosition records p
func (m *Mock) EnterMeasurementPosition(ctx context.Context, p Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = p
	m.history = append(m.history, p)
	return nil
}

// Current returns the last requested position
func (m *Mock) Current() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns every requested position, in order
func (m *Mock) History() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Position(nil), m.history...)
}
