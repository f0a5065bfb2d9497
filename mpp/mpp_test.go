package mpp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pvlab/ivbench/smu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	r := newRing(3)
	r.push(1)
	r.push(-1)
	assert.False(t, r.full())
	r.push(1)
	r.push(1)
	assert.True(t, r.full())
	assert.Equal(t, []int{-1, 1, 1}, r.values())
	assert.Equal(t, 1, r.sum())
	r.reset()
	assert.Empty(t, r.values())
}

func TestConfigValidate(t *testing.T) {
	good := Config{StepMin: 0.001, StepMax: 0.05, Compliance: 1}
	assert.NoError(t, good.Validate())
	for _, c := range []Config{
		{StepMin: 0, StepMax: 0.05, Compliance: 1},
		{StepMin: 0.01, StepMax: 0.005, Compliance: 1},
		{StepMin: 0.001, StepMax: 0.05},
		{StepMin: 0.001, StepMax: 0.05, Compliance: 1, History: 1},
	} {
		assert.Error(t, c.Validate())
	}
}

func TestStepGrowsWhileClimbing(t *testing.T) {
	tr, err := New(Config{Step: 0.001, StepMin: 0.001, StepMax: 0.016, Compliance: 1}, 0)
	require.NoError(t, err)
	p := 0.
	for i := 0; i < 6; i++ {
		p++
		tr.Next(p)
	}
	assert.Equal(t, 0.002, tr.Step())
	assert.Empty(t, tr.History(), "rescale clears the history")
}

func TestStepShrinksWhileDithering(t *testing.T) {
	tr, err := New(Config{Step: 0.008, StepMin: 0.001, StepMax: 0.016, Compliance: 1}, 0.4)
	require.NoError(t, err)
	// falling power every tick flips direction every tick
	p := 10.
	for i := 0; i < 6; i++ {
		p--
		tr.Next(p)
	}
	assert.Equal(t, 0.004, tr.Step())
}

func TestConvergesOnEmulatedCell(t *testing.T) {
	cell := smu.Diode{Isc: -0.0016, Voc: 0.55}
	power := func(v float64) float64 { return -v * cell.Current(v, 100) }
	// brute force peak
	var vmp, pmax float64
	for v := 0.; v < 0.55; v += 1e-4 {
		if p := power(v); p > pmax {
			vmp, pmax = v, p
		}
	}
	tr, err := New(Config{Step: 0.005, StepMin: 0.001, StepMax: 0.04, Compliance: 1}, 0.1)
	require.NoError(t, err)
	v := tr.Voltage()
	for i := 0; i < 400; i++ {
		v = tr.Next(power(v))
	}
	assert.InDelta(t, vmp, v, 0.01)
	assert.Equal(t, 0.001, tr.Step())
}

func TestBoundsHoldForAnyPowerSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := Config{Step: 0.01, StepMin: 0.002, StepMax: 0.1, Compliance: 0.3, History: 8}
	for trial := 0; trial < 50; trial++ {
		tr, err := New(cfg, rng.Float64()*2-1)
		require.NoError(t, err)
		for i := 0; i < 500; i++ {
			var p float64
			switch rng.Intn(3) {
			case 0:
				p = rng.NormFloat64()
			case 1:
				p = float64(i)
			default:
				p = math.Inf(-1)
			}
			v := tr.Next(p)
			if v < -cfg.Compliance || v > cfg.Compliance {
				t.Fatalf("voltage %g outside ±%g", v, cfg.Compliance)
			}
			if tr.Step() < cfg.StepMin || tr.Step() > cfg.StepMax {
				t.Fatalf("step %g outside [%g, %g]", tr.Step(), cfg.StepMin, cfg.StepMax)
			}
		}
	}
}
