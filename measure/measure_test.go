package measure_test

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/illumination"
	"github.com/pvlab/ivbench/lightlevel"
	"github.com/pvlab/ivbench/measure"
	"github.com/pvlab/ivbench/mpp"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/stage"
	"github.com/pvlab/ivbench/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cell      = smu.Diode{Isc: -0.0016, Voc: 0.55}
	mppConfig = mpp.Config{Step: 0.005, StepMin: 0.001, StepMax: 0.04}
)

// recording counts DisableOutput calls on the wrapped meter.  With
// failAfter set, MeasureVoltage fails once it has been read that many times.
type recording struct {
	smu.SourceMeter

	mu        sync.Mutex
	disables  []smu.ChannelID
	failAfter int
	voltages  int
}

func (r *recording) MeasureVoltage(ch smu.ChannelID) (float64, error) {
	r.mu.Lock()
	r.voltages++
	fail := r.failAfter > 0 && r.voltages > r.failAfter
	r.mu.Unlock()
	if fail {
		return 0, &smu.HardwareError{Op: "measure voltage", Channel: ch, Err: errors.New("read timed out")}
	}
	return r.SourceMeter.MeasureVoltage(ch)
}

func (r *recording) DisableOutput(ch smu.ChannelID) error {
	r.mu.Lock()
	r.disables = append(r.disables, ch)
	r.mu.Unlock()
	return r.SourceMeter.DisableOutput(ch)
}

type testBench struct {
	emu    *smu.Emulator
	meter  *recording
	lamp   *illumination.Mock
	runner *measure.Runner
}

type benchOpt struct {
	cell   smu.Diode
	single bool
	ref    bool
	oneSun float64
	mode   lightlevel.Mode
}

func newBench(t *testing.T, o benchOpt) *testBench {
	t.Helper()
	if o.cell == (smu.Diode{}) {
		o.cell = cell
	}
	var emu *smu.Emulator
	if o.single {
		emu = smu.NewSingleChannelEmulator(o.cell, -0.0011)
	} else {
		emu = smu.NewEmulator(o.cell, -0.0011)
	}
	emu.SetIllumination(0)
	u, err := smu.NewUnit(emu, smu.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, u.Init())
	meter := &recording{SourceMeter: u}
	lamp := illumination.NewMock(emu.SetIllumination)
	clk := util.NewFakeClock(time.Millisecond)

	var mon *lightlevel.Monitor
	if o.ref {
		if o.oneSun == 0 {
			o.oneSun = -0.0011
		}
		if o.mode == "" {
			o.mode = lightlevel.Parallel
		}
		mon = &lightlevel.Monitor{
			SMU:       meter,
			Test:      smu.ChannelA,
			Reference: smu.ChannelB,
			OneSun:    o.oneSun,
			Mode:      o.mode,
			Stage:     &stage.Mock{},
			Clock:     clk,
		}
	}
	r := measure.NewRunner(meter, lamp, mon, measure.Options{}, nil)
	r.Clock = clk
	return &testBench{emu: emu, meter: meter, lamp: lamp, runner: r}
}

func (b *testBench) assertCleanedUp(t *testing.T) {
	t.Helper()
	on, off := b.lamp.Calls()
	assert.LessOrEqual(t, on, 1)
	assert.Equal(t, 1, off, "LightOff exactly once")
	lit, _ := b.lamp.On()
	assert.False(t, lit)
	b.meter.mu.Lock()
	assert.Len(t, b.meter.disables, 1, "DisableOutput exactly once")
	b.meter.mu.Unlock()
	assert.False(t, b.emu.OutputEnabled(smu.ChannelA))
	assert.False(t, b.emu.OutputEnabled(smu.ChannelB))
	state, _ := b.runner.State()
	assert.Equal(t, measure.StateIdle, state)
}

var common = measure.Common{
	Intensity:         100,
	ActiveArea:        0.1,
	VoltageCompliance: 2,
	CurrentCompliance: 0.1,
}

func TestSweepScenario(t *testing.T) {
	b := newBench(t, benchOpt{})
	p := &measure.SweepParams{
		Common:   common,
		Start:    measure.Volts(0),
		Stop:     measure.Volts(0.6),
		Step:     0.02,
		Rate:     0.05,
		Settling: 0.1,
	}
	var streamed []measure.SampleRecord
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{
		Results: measure.ResultsFunc(func(s measure.SampleRecord) { streamed = append(streamed, s) }),
	})
	require.NoError(t, err)
	assert.Equal(t, measure.StateCompleted, out.Final)
	require.Len(t, out.Samples, 31)
	assert.Len(t, streamed, 31)
	assert.InDelta(t, 0, out.Samples[0].Voltage, 1e-12)
	assert.InDelta(t, 0.6, out.Samples[30].Voltage, 1e-12)
	for i := 1; i < len(out.Samples); i++ {
		assert.Greater(t, out.Samples[i].Voltage, out.Samples[i-1].Voltage)
		assert.Greater(t, out.Samples[i].Elapsed, out.Samples[i-1].Elapsed)
	}
	// 0.54 V and 0.56 V bracket Voc
	assert.InDelta(t, 0.54, out.Samples[27].Voltage, 1e-9)
	assert.Less(t, out.Samples[27].Current, 0.)
	assert.Greater(t, out.Samples[28].Current, 0.)

	require.NotNil(t, out.Voc)
	assert.InDelta(t, 0.55, *out.Voc, 1e-9)
	require.NotNil(t, out.MaxPower)
	assert.Greater(t, out.MaxPower.Power, 0.)
	// 1.6 mA on 0.1 cm² is 16 mA/cm²
	assert.InDelta(t, -16, out.Samples[0].CurrentDensity, 1e-6)
	b.assertCleanedUp(t)
}

func TestSweepToVocStopsAtForwardCurrentLimit(t *testing.T) {
	b := newBench(t, benchOpt{})
	p := &measure.SweepParams{
		Common:              common,
		Start:               measure.Volts(0),
		Stop:                measure.Voc,
		Step:                0.02,
		Rate:                1,
		ForwardCurrentLimit: 0.01,
	}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	// the limit is crossed near 0.627 V, so 0 to 0.62 V is emitted
	require.Len(t, out.Samples, 32)
	last := out.Samples[len(out.Samples)-1]
	assert.InDelta(t, 0.62, last.Voltage, 1e-9)
	for _, s := range out.Samples {
		assert.LessOrEqual(t, s.Current, 0.01)
	}
	b.assertCleanedUp(t)
}

func TestSweepFromVoc(t *testing.T) {
	b := newBench(t, benchOpt{})
	p := &measure.SweepParams{
		Common: common,
		Start:  measure.Voc,
		Stop:   measure.Volts(0),
		Step:   0.05,
		Rate:   1,
	}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	require.Len(t, out.Samples, 12)
	assert.InDelta(t, 0.55, out.Samples[0].Voltage, 1e-9)
	assert.InDelta(t, 0, out.Samples[0].Current, 1e-9)
	assert.InDelta(t, 0, out.Samples[11].Voltage, 1e-9)
}

func TestAbortScenario(t *testing.T) {
	b := newBench(t, benchOpt{})
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
		Common:   common,
		SetPoint: 0.3,
		Interval: 0.5,
		Duration: 60,
	}}
	n := 0
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{
		Results: measure.ResultsFunc(func(measure.SampleRecord) {
			n++
			if n == 10 {
				b.runner.RequestAbort()
				b.runner.RequestAbort()
			}
		}),
	})
	require.NoError(t, err, "abort is not an error")
	assert.Equal(t, measure.StateAborted, out.Final)
	assert.Less(t, len(out.Samples), 120)
	assert.Len(t, out.Samples, 10)
	b.assertCleanedUp(t)
}

func TestConstantVoltageSamplesEveryInterval(t *testing.T) {
	b := newBench(t, benchOpt{})
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
		Common:   common,
		SetPoint: 0.3,
		Dwell:    1,
		Interval: 0.5,
		Duration: 5,
	}}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	require.Len(t, out.Samples, 10)
	for i, s := range out.Samples {
		// sampled at the tick, relative to loop start, never before it
		assert.GreaterOrEqual(t, s.Elapsed, 0.5*float64(i+1))
		assert.Less(t, s.Elapsed, 0.5*float64(i+1)+0.05)
		assert.Equal(t, 0.3, s.Voltage)
	}
}

func TestConstantCurrentAtOpenCircuit(t *testing.T) {
	b := newBench(t, benchOpt{})
	p := &measure.ConstantCurrentParams{TimeSeries: measure.TimeSeries{
		Common:   common,
		SetPoint: 0,
		Interval: 0.1,
		Duration: 1,
	}}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	require.Len(t, out.Samples, 10)
	assert.InDelta(t, 0.55, out.Samples[0].Voltage, 1e-9)
}

func TestIntervalClampDeterministic(t *testing.T) {
	a, wa := measure.ClampInterval(0.0005, 0.02)
	b, wb := measure.ClampInterval(0.0005, 0.02)
	assert.Equal(t, a, b)
	assert.Equal(t, 0.02, a)
	require.NotNil(t, wa)
	require.NotNil(t, wb)
	assert.Equal(t, *wa, *wb)
	assert.Equal(t, measure.SampleIntervalTooFast, wa.Code)

	iv, w := measure.ClampInterval(0.5, 0.02)
	assert.Equal(t, 0.5, iv)
	assert.Nil(t, w)

	for i := 0; i < 2; i++ {
		bn := newBench(t, benchOpt{})
		p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
			Common:   common,
			SetPoint: 0.1,
			Interval: 0.0001,
			Duration: 0.01,
		}}
		out, err := bn.runner.Run(context.Background(), p, measure.RunOptions{})
		require.NoError(t, err)
		require.Len(t, out.Warnings, 1)
		assert.Equal(t, measure.SampleIntervalTooFast, out.Warnings[0].Code)
		assert.Equal(t, 0.001, out.Interval)
		assert.Len(t, out.Samples, 10)
	}
}

func TestCalibrationScenario(t *testing.T) {
	test := make([]float64, 10)
	ref := make([]float64, 10)
	for i := range test {
		test[i] = 0.001
		ref[i] = 0.0011
	}
	out, err := measure.ComputeCalibration(test, ref, 100, 0.0016)
	require.NoError(t, err)
	assert.InDelta(t, 1.6, out.Factor, 1e-12)
	assert.InDelta(t, 0.00176, out.ReferenceCurrent, 1e-15)

	_, err = measure.ComputeCalibration(nil, ref, 100, 0.0016)
	assert.Error(t, err)
}

func TestCalibrationRunParallel(t *testing.T) {
	b := newBench(t, benchOpt{ref: true})
	p := &measure.CalibrationParams{
		TimeSeries:        measure.TimeSeries{Common: common, Interval: 0.1, Duration: 1},
		OperatorReference: 0.0016,
	}
	out, err := b.runner.Calibrate(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 1, out.Factor, 1e-9)
	assert.InDelta(t, -0.0016, out.MeasuredTest, 1e-12)
	assert.InDelta(t, -0.0011, out.ReferenceCurrent, 1e-12)
	b.assertCleanedUp(t)
}

func TestCalibrationRunSerial(t *testing.T) {
	b := newBench(t, benchOpt{ref: true, single: true, mode: lightlevel.Serial})
	p := &measure.CalibrationParams{
		TimeSeries:        measure.TimeSeries{Common: common, Interval: 0.1, Duration: 1},
		OperatorReference: 0.0032,
	}
	out, err := b.runner.Calibrate(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 2, out.Factor, 1e-9)
	assert.InDelta(t, -0.0022, out.ReferenceCurrent, 1e-12)
	st := b.runner.Monitor.Stage.(*stage.Mock)
	assert.Equal(t, []stage.Position{stage.TestCell, stage.ReferenceDiode, stage.TestCell}, st.History())
}

func TestCalibrationNeedsReference(t *testing.T) {
	b := newBench(t, benchOpt{})
	_, err := b.runner.Run(context.Background(), &measure.CalibrationParams{
		TimeSeries:        measure.TimeSeries{Common: common, Interval: 0.1, Duration: 1},
		OperatorReference: 0.0016,
	}, measure.RunOptions{})
	assert.True(t, errors.Is(err, measure.ErrInvalidParameters))
}

func TestCalibrationAbortRestoresCell(t *testing.T) {
	b := newBench(t, benchOpt{ref: true, single: true, mode: lightlevel.Serial})
	p := &measure.CalibrationParams{
		TimeSeries:        measure.TimeSeries{Common: common, Interval: 0.1, Duration: 1},
		OperatorReference: 0.0032,
	}
	n := 0
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{
		Results: measure.ResultsFunc(func(measure.SampleRecord) {
			// three readings into the reference diode pass
			n++
			if n == 13 {
				b.runner.RequestAbort()
			}
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, measure.StateAborted, out.Final)
	assert.Nil(t, out.Calibration)
	st := b.runner.Monitor.Stage.(*stage.Mock)
	assert.Equal(t, stage.TestCell, st.Current())
	assert.Equal(t, []stage.Position{stage.TestCell, stage.ReferenceDiode, stage.TestCell}, st.History())
	b.assertCleanedUp(t)
}

func TestAbortDuringSerialLightCheckRestoresCell(t *testing.T) {
	b := newBench(t, benchOpt{ref: true, single: true, mode: lightlevel.Serial})
	st := b.runner.Monitor.Stage.(*stage.Mock)
	b.runner.Clock.(*util.FakeClock).OnNow = func(time.Time) {
		if st.Current() == stage.ReferenceDiode {
			b.runner.RequestAbort()
		}
	}
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
		Common:   common,
		Interval: 0.1,
		Duration: 1,
	}}
	p.UseReference = true
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, measure.StateAborted, out.Final)
	assert.Empty(t, out.Samples)
	assert.Equal(t, stage.TestCell, st.Current())
	assert.Equal(t, []stage.Position{stage.ReferenceDiode, stage.TestCell}, st.History())
	b.assertCleanedUp(t)
}

func TestLightLevelMismatch(t *testing.T) {
	// the reference diode claims twice the one sun current it really gives
	b := newBench(t, benchOpt{ref: true, oneSun: -0.0022})
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
		Common:   common,
		Interval: 0.1,
		Duration: 1,
	}}
	p.UseReference = true
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	assert.True(t, errors.Is(err, measure.ErrLightLevelMismatch))
	assert.Equal(t, measure.StateErrored, out.Final)
	assert.Empty(t, out.Samples)
	b.assertCleanedUp(t)
}

func TestLightCorrectionFromReferenceAverage(t *testing.T) {
	b := newBench(t, benchOpt{ref: true, oneSun: -0.00105})
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
		Common:   common,
		Interval: 0.1,
		Duration: 1,
	}}
	p.UseReference = true
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	// diode reads 0.0011/0.00105 of one sun
	assert.InDelta(t, 0.0011/0.00105, out.Correction, 1e-9)
	for _, s := range out.Samples {
		assert.True(t, s.HasReference)
		assert.InDelta(t, -0.0011, s.Reference, 1e-12)
		assert.InDelta(t, -16/out.Correction, s.CurrentDensity, 1e-9)
	}
}

func TestStreamedSamplesCarryRunningCorrection(t *testing.T) {
	b := newBench(t, benchOpt{ref: true})
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
		Common:   common,
		Interval: 0.1,
		Duration: 1,
	}}
	p.UseReference = true
	var streamed []measure.SampleRecord
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{
		Results: measure.ResultsFunc(func(s measure.SampleRecord) {
			streamed = append(streamed, s)
			if len(streamed) == 5 {
				// the lamp drops to half for the rest of the run
				b.emu.SetIllumination(50)
			}
		}),
	})
	require.NoError(t, err)
	require.Len(t, streamed, 10)
	assert.InDelta(t, 0.75, out.Correction, 1e-9)
	assert.InDelta(t, 1, streamed[0].Correction, 1e-9)
	assert.InDelta(t, out.Correction, streamed[9].Correction, 1e-9)
	for i, s := range out.Samples {
		assert.Equal(t, out.Correction, s.Correction)
		assert.InDelta(t, streamed[i].CurrentDensity*streamed[i].Correction, s.CurrentDensity*s.Correction, 1e-9)
	}
	assert.NotEqual(t, streamed[0].CurrentDensity, out.Samples[0].CurrentDensity)
}

func TestWrongVocPolarity(t *testing.T) {
	b := newBench(t, benchOpt{cell: smu.Diode{Isc: 0.0016, Voc: -0.55}})
	p := &measure.SweepParams{Common: common, Start: measure.Volts(0), Stop: measure.Volts(0.5), Step: 0.1, Rate: 1}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	assert.True(t, errors.Is(err, measure.ErrWrongVocPolarity))
	assert.Equal(t, measure.StateErrored, out.Final)
	assert.Empty(t, out.Samples)
	b.assertCleanedUp(t)
}

func TestLampFailureStillCleansUp(t *testing.T) {
	b := newBench(t, benchOpt{})
	b.lamp.FailOn = errors.Wrap(illumination.ErrDeviceRejected, "bulb")
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{Common: common, Interval: 0.1, Duration: 1}}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	assert.True(t, errors.Is(err, illumination.ErrDeviceRejected))
	assert.Equal(t, measure.StateErrored, out.Final)
	b.assertCleanedUp(t)
}

func TestHardwareFailureWhileSamplingCleansUp(t *testing.T) {
	b := newBench(t, benchOpt{})
	b.meter.failAfter = 5
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
		Common:   common,
		SetPoint: 0.3,
		Interval: 0.1,
		Duration: 2,
	}}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	assert.True(t, errors.Is(err, smu.ErrHardwareCommunication))
	var hw *smu.HardwareError
	require.True(t, errors.As(err, &hw))
	assert.Equal(t, smu.ChannelA, hw.Channel)
	assert.Equal(t, measure.StateErrored, out.Final)
	assert.NotEmpty(t, out.Error)
	assert.Len(t, out.Samples, 5)
	b.assertCleanedUp(t)
}

func TestComplianceCheckedBeforeHardware(t *testing.T) {
	b := newBench(t, benchOpt{})
	p := &measure.SweepParams{Common: common, Start: measure.Volts(0), Stop: measure.Volts(2.5), Step: 0.1, Rate: 1}
	_, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	assert.True(t, errors.Is(err, smu.ErrOutOfComplianceRange))
	on, off := b.lamp.Calls()
	assert.Zero(t, on)
	assert.Zero(t, off)
	assert.Empty(t, b.meter.disables)
}

func TestMPPTracksPeak(t *testing.T) {
	b := newBench(t, benchOpt{})
	p := &measure.MPPParams{
		TimeSeries: measure.TimeSeries{Common: common, Interval: 0.1, Duration: 30},
		Auto:       true,
		Tracker:    mppConfig,
	}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	require.Len(t, out.Samples, 300)

	var vmp, pmax float64
	for v := 0.; v < 0.55; v += 1e-4 {
		if pw := -v * cell.Current(v, 100); pw > pmax {
			vmp, pmax = v, pw
		}
	}
	last := out.Samples[len(out.Samples)-1]
	assert.InDelta(t, vmp, last.Voltage, 0.01)
	assert.InDelta(t, pmax, out.MaxPower.Power, pmax*0.01)
	for _, s := range out.Samples {
		assert.LessOrEqual(t, s.Voltage, 2.)
		assert.GreaterOrEqual(t, s.Voltage, -2.)
	}
	b.assertCleanedUp(t)
}

// gate is a lamp that blocks in LightOn until released
type gate struct {
	*illumination.Mock
	entered chan struct{}
	release chan struct{}
}

func (g *gate) LightOn(ctx context.Context, pct float64) error {
	close(g.entered)
	<-g.release
	return g.Mock.LightOn(ctx, pct)
}

func TestRunLockAndAbortDuringLampOn(t *testing.T) {
	b := newBench(t, benchOpt{})
	g := &gate{Mock: b.lamp, entered: make(chan struct{}), release: make(chan struct{})}
	b.runner.Lamp = g
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{Common: common, Interval: 0.1, Duration: 1}}

	type result struct {
		out *measure.RunOutcome
		err error
	}
	done := make(chan result)
	go func() {
		out, err := b.runner.Run(context.Background(), p, measure.RunOptions{ID: "first"})
		done <- result{out, err}
	}()
	<-g.entered
	state, id := b.runner.State()
	assert.Equal(t, measure.StateLampOn, state)
	assert.Equal(t, "first", id)
	assert.True(t, b.runner.Busy())

	_, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	assert.True(t, errors.Is(err, measure.ErrRunInProgress))

	b.runner.RequestAbort()
	close(g.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, measure.StateAborted, res.out.Final)
	assert.Empty(t, res.out.Samples)
	b.assertCleanedUp(t)
}

func TestRequestAbortWhenIdle(t *testing.T) {
	b := newBench(t, benchOpt{})
	b.runner.RequestAbort()
	p := &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{Common: common, Interval: 0.1, Duration: 1}}
	out, err := b.runner.Run(context.Background(), p, measure.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, measure.StateCompleted, out.Final, "an abort before the run does not carry over")
}

func TestSweepPoints(t *testing.T) {
	pts := measure.SweepPoints(0, 0.6, -0.02)
	require.Len(t, pts, 31)
	assert.Equal(t, 0.6, pts[30])

	rev := measure.SweepPoints(0.5, 0, 0.1)
	require.Len(t, rev, 6)
	assert.InDelta(t, 0.4, rev[1], 1e-12)
	assert.Equal(t, 0., rev[5])

	short := measure.SweepPoints(0, 0.25, 0.1)
	assert.Len(t, short, 3)
}

func TestParamsJSON(t *testing.T) {
	var p measure.SweepParams
	require.NoError(t, json.Unmarshal([]byte(`{"start":"Voc","stop":-0.1,"step":0.01,"rate":0.1,
		"intensity":100,"activeArea":0.1,"voltageCompliance":1,"currentCompliance":0.01}`), &p))
	assert.True(t, p.Start.Voc)
	assert.Equal(t, -0.1, p.Stop.Value)
	require.NoError(t, p.Validate())

	b, err := json.Marshal(p.Start)
	require.NoError(t, err)
	assert.Equal(t, `"Voc"`, string(b))

	p.Stop = measure.Voc
	assert.True(t, errors.Is(p.Validate(), measure.ErrInvalidParameters))

	p.Stop = measure.Volts(-0.1)
	p.Intensity = math.Inf(1)
	assert.True(t, errors.Is(p.Validate(), measure.ErrInvalidParameters))

	var e measure.Endpoint
	assert.Error(t, json.Unmarshal([]byte(`"half"`), &e))

	pr, err := measure.ParseProtocol("MPP")
	require.NoError(t, err)
	params, err := measure.NewParams(pr)
	require.NoError(t, err)
	assert.Equal(t, measure.ProtocolMPP, params.Protocol())
}
