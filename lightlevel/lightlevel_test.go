package lightlevel_test

import (
	"context"
	"testing"
	"time"

	"github.com/pvlab/ivbench/lightlevel"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/stage"
	"github.com/pvlab/ivbench/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cell = smu.Diode{Isc: -0.0016, Voc: 0.55}

func unit(t *testing.T, emu *smu.Emulator) *smu.Unit {
	t.Helper()
	u, err := smu.NewUnit(emu, smu.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, u.Init())
	return u
}

func TestMeasureIntensityParallel(t *testing.T) {
	emu := smu.NewEmulator(cell, -0.0011)
	emu.SetIllumination(80)
	m := &lightlevel.Monitor{
		SMU:       unit(t, emu),
		Test:      smu.ChannelA,
		Reference: smu.ChannelB,
		OneSun:    -0.0011,
		Mode:      lightlevel.Parallel,
		Clock:     util.NewFakeClock(time.Millisecond),
	}
	pct, err := m.MeasureIntensity(context.Background(), time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 80, pct, 1e-9)
}

func TestMeasureIntensitySerialMovesStage(t *testing.T) {
	emu := smu.NewSingleChannelEmulator(cell, -0.0011)
	st := &stage.Mock{}
	m := &lightlevel.Monitor{
		SMU:       unit(t, emu),
		Test:      smu.ChannelA,
		Reference: smu.ChannelB,
		OneSun:    -0.0011,
		Mode:      lightlevel.Serial,
		Stage:     st,
		Clock:     util.NewFakeClock(time.Millisecond),
	}
	pct, err := m.MeasureIntensity(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.InDelta(t, 100, pct, 1e-9)
	assert.Equal(t, []stage.Position{stage.ReferenceDiode, stage.TestCell}, st.History())
}

func TestMeasureIntensityCancelled(t *testing.T) {
	emu := smu.NewEmulator(cell, -0.0011)
	m := &lightlevel.Monitor{SMU: unit(t, emu), Reference: smu.ChannelB, OneSun: -0.0011, Clock: util.NewFakeClock(0)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.MeasureIntensity(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMeasureIntensitySerialCancelledRestoresCell(t *testing.T) {
	emu := smu.NewSingleChannelEmulator(cell, -0.0011)
	st := &stage.Mock{}
	clk := util.NewFakeClock(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk.OnNow = func(time.Time) {
		if st.Current() == stage.ReferenceDiode {
			cancel()
		}
	}
	m := &lightlevel.Monitor{
		SMU:       unit(t, emu),
		Test:      smu.ChannelA,
		Reference: smu.ChannelB,
		OneSun:    -0.0011,
		Mode:      lightlevel.Serial,
		Stage:     st,
		Clock:     clk,
	}
	_, err := m.MeasureIntensity(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, stage.TestCell, st.Current())
	assert.Equal(t, []stage.Position{stage.ReferenceDiode, stage.TestCell}, st.History())
}

func TestPercentNeedsReference(t *testing.T) {
	m := &lightlevel.Monitor{}
	_, err := m.Percent(0.001)
	assert.ErrorIs(t, err, lightlevel.ErrNoReference)

	m.OneSun = 0.002
	pct, err := m.Percent(-0.001)
	require.NoError(t, err)
	assert.Equal(t, 50., pct)
}

func TestParseMode(t *testing.T) {
	m, err := lightlevel.ParseMode("Serial")
	require.NoError(t, err)
	assert.Equal(t, lightlevel.Serial, m)
	_, err = lightlevel.ParseMode("diagonal")
	assert.Error(t, err)
}
