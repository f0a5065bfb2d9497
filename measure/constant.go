package measure

import (
	"math"

	"github.com/pvlab/ivbench/smu"
)

// constant holds ts.SetPoint in mode and samples every interval for the duration
func (r *Runner) constant(rc *runContext, ts TimeSeries, mode smu.SourceMode) error {
	interval := r.clampInterval(rc, ts.Interval)
	if err := r.SMU.SetSourceMode(r.Test, mode); err != nil {
		return err
	}
	var err error
	if mode == smu.SourceVoltage {
		err = r.SMU.SetVoltage(r.Test, ts.SetPoint)
	} else {
		err = r.SMU.SetCurrent(r.Test, ts.SetPoint)
	}
	if err != nil {
		return err
	}
	if err := r.SMU.EnableOutput(r.Test); err != nil {
		return err
	}

	r.setState(rc, StateSampling)
	if err := r.wait(rc, ts.Dwell); err != nil {
		return err
	}
	return r.series(rc, ts.Duration, interval, nil)
}

// series samples every interval until duration has elapsed.  after, if not
// nil, is called with each sample once it has been emitted.
func (r *Runner) series(rc *runContext, duration, interval float64, after func(SampleRecord) error) error {
	n := int(math.Floor(duration/interval + 1e-9))
	rc.startLoop()
	for j := 1; j <= n; j++ {
		if err := r.waitUntil(rc, rc.tick(j, interval)); err != nil {
			return err
		}
		s, err := r.sample(rc)
		if err != nil {
			return err
		}
		rc.emit(s)
		if after != nil {
			if err := after(s); err != nil {
				return err
			}
		}
	}
	return nil
}
