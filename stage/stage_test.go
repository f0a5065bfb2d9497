package stage_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/motion"
	"github.com/pvlab/ivbench/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMotorizedMovesOnce(t *testing.T) {
	ctl := motion.NewMock()
	s := &stage.Motorized{Ctl: ctl, Axis: "2", CellPos: 0, ReferencePos: 25}
	ctx := context.Background()

	require.NoError(t, s.EnterMeasurementPosition(ctx, stage.ReferenceDiode))
	pos, _ := ctl.GetPos("2")
	assert.Equal(t, 25., pos)
	require.NoError(t, s.EnterMeasurementPosition(ctx, stage.ReferenceDiode))
	assert.Equal(t, 1, ctl.MoveCount("2"))

	require.NoError(t, s.EnterMeasurementPosition(ctx, stage.TestCell))
	pos, _ = ctl.GetPos("2")
	assert.Equal(t, 0., pos)
	assert.Equal(t, 2, ctl.MoveCount("2"))
}

type stuck struct{ *motion.Mock }

func (stuck) MoveAbs(string, float64) error { return nil }

func TestMotorizedNotInPosition(t *testing.T) {
	s := &stage.Motorized{Ctl: stuck{motion.NewMock()}, Axis: "2", ReferencePos: 25, MoveTimeout: 1}
	err := s.EnterMeasurementPosition(context.Background(), stage.ReferenceDiode)
	assert.True(t, errors.Is(err, stage.ErrPosition))
}

func TestMockRecords(t *testing.T) {
	m := &stage.Mock{}
	ctx := context.Background()
	require.NoError(t, m.EnterMeasurementPosition(ctx, stage.ReferenceDiode))
	require.NoError(t, m.EnterMeasurementPosition(ctx, stage.TestCell))
	assert.Equal(t, []stage.Position{stage.ReferenceDiode, stage.TestCell}, m.History())
	assert.Equal(t, stage.TestCell, m.Current())
	assert.NoError(t, stage.Fixed{}.EnterMeasurementPosition(ctx, stage.ReferenceDiode))
}

func TestParsePosition(t *testing.T) {
	p, err := stage.ParsePosition(" Reference ")
	require.NoError(t, err)
	assert.Equal(t, stage.ReferenceDiode, p)
	p, err = stage.ParsePosition("cell")
	require.NoError(t, err)
	assert.Equal(t, stage.TestCell, p)
	_, err = stage.ParsePosition("beam")
	assert.Error(t, err)
}
