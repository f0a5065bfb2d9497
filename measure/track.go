package measure

import (
	"github.com/pvlab/ivbench/mpp"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/util"
)

// autoStart sweeps from voc to 0 V in a few coarse points and returns the
// voltage of highest power
func (r *Runner) autoStart(rc *runContext, voc, interval float64) (float64, error) {
	if err := r.SMU.SetSourceMode(r.Test, smu.SourceVoltage); err != nil {
		return 0, err
	}
	best, bestP := 0., 0.
	first := true
	for _, v := range util.Linspace(voc, 0, rc.opts.AutoSweepPoints) {
		if err := r.SMU.SetVoltage(r.Test, v); err != nil {
			return 0, err
		}
		if err := r.wait(rc, interval); err != nil {
			return 0, err
		}
		i, err := r.SMU.MeasureCurrent(r.Test)
		if err != nil {
			return 0, err
		}
		if p := -v * i; first || p > bestP {
			best, bestP, first = v, p, false
		}
	}
	rc.statusf("MPP search starts at %.4f V", best)
	return best, nil
}

func (r *Runner) track(rc *runContext, p *MPPParams) error {
	interval := r.clampInterval(rc, p.Interval)
	v0 := p.SetPoint
	if p.Intensity > 0 || p.Auto {
		voc, err := r.polarity(rc, p.Intensity, p.Settling)
		if err != nil {
			return err
		}
		if p.Auto {
			if err := smu.CheckCompliance(r.Test, "voltage", voc, p.VoltageCompliance); err != nil {
				return err
			}
			if v0, err = r.autoStart(rc, voc, interval); err != nil {
				return err
			}
		}
	}
	tr, err := mpp.New(p.trackerConfig(), v0)
	if err != nil {
		return err
	}
	if err := r.SMU.SetSourceMode(r.Test, smu.SourceVoltage); err != nil {
		return err
	}
	if err := r.SMU.SetVoltage(r.Test, tr.Voltage()); err != nil {
		return err
	}
	if err := r.SMU.EnableOutput(r.Test); err != nil {
		return err
	}

	r.setState(rc, StateSampling)
	if err := r.wait(rc, p.Dwell); err != nil {
		return err
	}
	return r.series(rc, p.Duration, interval, func(s SampleRecord) error {
		power := -s.Voltage * s.Current / rc.corr.factor()
		return r.SMU.SetVoltage(r.Test, tr.Next(power))
	})
}
