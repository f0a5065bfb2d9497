package measure

import (
	"math"

	"github.com/pvlab/ivbench/mathx"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/util"
)

// SweepPoints returns the voltages from start to stop inclusive, spaced by
// |step| in the direction of stop.  The count is ⌊|stop-start|/|step|⌋+1;
// when the span is not a whole number of steps the last point falls short
// of stop.
func SweepPoints(start, stop, step float64) []float64 {
	step = math.Abs(step)
	if step == 0 {
		return []float64{start}
	}
	n := int(math.Floor(math.Abs(stop-start)/step+1e-9)) + 1
	dir := mathx.Sign(stop - start)
	lo, hi := math.Min(start, stop), math.Max(start, stop)
	out := make([]float64, n)
	for i := range out {
		out[i] = util.Clamp(start+dir*float64(i)*step, lo, hi)
	}
	return out
}

// holdTicks is the number of intervals each sweep point is held, at least one
func holdTicks(step, rate, interval float64) int {
	n := int(math.Round(math.Abs(step) / rate / interval))
	if n < 1 {
		n = 1
	}
	return n
}

func (r *Runner) sweep(rc *runContext, p *SweepParams) error {
	start, stop := p.Start.Value, p.Stop.Value
	if p.Intensity > 0 || p.Start.Voc || p.Stop.Voc {
		voc, err := r.polarity(rc, p.Intensity, p.Settling)
		if err != nil {
			return err
		}
		if p.Start.Voc {
			if err := smu.CheckCompliance(r.Test, "voltage", voc, p.VoltageCompliance); err != nil {
				return err
			}
			start = voc
		}
	}
	toVoc := p.Stop.Voc
	if toVoc {
		// automatic limits: sweep toward compliance and stop on forward current
		stop = p.VoltageCompliance
	}
	pts := SweepPoints(start, stop, p.Step)
	hold := math.Abs(p.Step) / p.Rate
	interval := p.Interval
	if interval == 0 {
		interval = hold
	}
	interval = r.clampInterval(rc, interval)
	ticks := holdTicks(p.Step, p.Rate, interval)
	rc.log.WithField("points", len(pts)).Debugf("sweep %g V to %g V", start, stop)

	if err := r.SMU.SetSourceMode(r.Test, smu.SourceVoltage); err != nil {
		return err
	}
	if err := r.SMU.SetVoltage(r.Test, pts[0]); err != nil {
		return err
	}
	if err := r.SMU.EnableOutput(r.Test); err != nil {
		return err
	}

	r.setState(rc, StateSampling)
	rc.startLoop()
	for i, v := range pts {
		if err := rc.check(); err != nil {
			return err
		}
		if err := r.SMU.SetVoltage(r.Test, v); err != nil {
			return err
		}
		if err := r.waitUntil(rc, rc.tick((i+1)*ticks, interval)); err != nil {
			return err
		}
		s, err := r.sample(rc)
		if err != nil {
			return err
		}
		if toVoc && s.Current > p.ForwardCurrentLimit {
			rc.statusf("forward current limit %g A reached at %.4f V", p.ForwardCurrentLimit, v)
			break
		}
		rc.emit(s)
		rc.statusf("point %d/%d: %.4f V %.4g A", i+1, len(pts), s.Voltage, s.Current)
	}
	return nil
}
