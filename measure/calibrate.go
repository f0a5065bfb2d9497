package measure

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/lightlevel"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/stage"
	"github.com/pvlab/ivbench/util"
)

// CalibrationOutcome is the result of a reference diode calibration.  It is
// not applied anywhere; the caller decides whether to keep ReferenceCurrent
// as the new one sun reference.
type CalibrationOutcome struct {
	Intensity float64 `json:"intensity"`

	// MeasuredTest and MeasuredReference are the average currents, in amps
	MeasuredTest      float64 `json:"measuredTest"`
	MeasuredReference float64 `json:"measuredReference"`

	// Factor is operator reference over measured test current, scaled to one sun
	Factor float64 `json:"factor"`

	// ReferenceCurrent is the measured reference current scaled by Factor
	ReferenceCurrent float64 `json:"referenceCurrent"`
}

// ComputeCalibration derives the calibration from the test and reference
// readings taken at intensity percent, for a calibrated cell whose one sun
// current is operatorRef
func ComputeCalibration(test, ref []float64, intensity, operatorRef float64) (CalibrationOutcome, error) {
	if len(test) == 0 || len(ref) == 0 {
		return CalibrationOutcome{}, errors.New("calibration needs at least one test and one reference reading")
	}
	if intensity <= 0 {
		return CalibrationOutcome{}, invalid("calibration intensity %g%% must be positive", intensity)
	}
	out := CalibrationOutcome{
		Intensity:         intensity,
		MeasuredTest:      util.Mean(test),
		MeasuredReference: util.Mean(ref),
	}
	if out.MeasuredTest == 0 {
		return out, errors.New("test cell current is zero, is the cell connected?")
	}
	out.Factor = math.Abs(operatorRef) / math.Abs(out.MeasuredTest) * 100 / intensity
	out.ReferenceCurrent = out.MeasuredReference * out.Factor
	return out, nil
}

func (r *Runner) calibrate(rc *runContext, p *CalibrationParams) (err error) {
	interval := r.clampInterval(rc, p.Interval)
	if err := r.SMU.SetSourceMode(r.Test, smu.SourceVoltage); err != nil {
		return err
	}
	if err := r.SMU.SetVoltage(r.Test, 0); err != nil {
		return err
	}
	if err := r.SMU.EnableOutput(r.Test); err != nil {
		return err
	}
	if err := r.Monitor.Prepare(); err != nil {
		return err
	}

	r.setState(rc, StateSampling)
	if err := r.wait(rc, p.Dwell); err != nil {
		return err
	}
	// readings are raw; the calibration is what corrects them
	rc.corr.monitor = nil
	var test, ref []float64
	if r.Monitor.Mode != lightlevel.Serial {
		rc.parallel = true
		err := r.series(rc, p.Duration, interval, nil)
		if err != nil {
			return err
		}
		for _, s := range rc.out.Samples {
			test = append(test, s.Current)
			ref = append(ref, s.Reference)
		}
	} else {
		// the cell ends up in the beam however the passes end
		defer func() {
			if perr := r.position(context.Background(), stage.TestCell); perr != nil && err == nil {
				err = perr
			}
		}()
		if test, err = r.calibrationPass(rc, stage.TestCell, p.Duration, interval); err != nil {
			return err
		}
		if ref, err = r.calibrationPass(rc, stage.ReferenceDiode, p.Duration, interval); err != nil {
			return err
		}
	}
	out, err := ComputeCalibration(test, ref, p.Intensity, p.OperatorReference)
	if err != nil {
		return err
	}
	rc.out.Calibration = &out
	rc.statusf("calibration factor %.4f, reference current %.6g A", out.Factor, out.ReferenceCurrent)
	return nil
}

func (r *Runner) position(ctx context.Context, pos stage.Position) error {
	if r.Monitor.Stage == nil {
		return nil
	}
	return r.Monitor.Stage.EnterMeasurementPosition(ctx, pos)
}

// calibrationPass puts pos in the beam and reads its channel over duration
func (r *Runner) calibrationPass(rc *runContext, pos stage.Position, duration, interval float64) ([]float64, error) {
	if err := r.position(rc.ctx, pos); err != nil {
		return nil, err
	}
	rc.statusf("measuring %s", pos)
	if pos == stage.ReferenceDiode {
		rc.live = r.Monitor.Reference
		defer func() { rc.live = r.Test }()
	}
	var readings []float64
	n := int(math.Floor(duration/interval + 1e-9))
	rc.startLoop()
	for j := 1; j <= n; j++ {
		if err := r.waitUntil(rc, rc.tick(j, interval)); err != nil {
			return nil, err
		}
		var (
			s   SampleRecord
			err error
		)
		if pos == stage.ReferenceDiode {
			s.Reference, err = r.SMU.MeasureCurrent(r.Monitor.Reference)
			s.HasReference = true
			readings = append(readings, s.Reference)
		} else {
			s.Current, err = r.SMU.MeasureCurrent(r.Test)
			readings = append(readings, s.Current)
		}
		if err != nil {
			return nil, err
		}
		s.Elapsed = rc.clock.Now().Sub(rc.loopStart).Seconds()
		rc.emit(s)
	}
	return readings, nil
}

// Calibrate runs a calibration and returns its outcome.  Nothing is stored.
func (r *Runner) Calibrate(ctx context.Context, p *CalibrationParams, opts RunOptions) (*CalibrationOutcome, error) {
	out, err := r.Run(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	if out.Final == StateAborted {
		return nil, errors.New("calibration aborted")
	}
	return out.Calibration, nil
}
