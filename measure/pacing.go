package measure

import (
	"fmt"
	"time"

	"github.com/pvlab/ivbench/util"
)

// ClampInterval raises requested to minPeriod if it is shorter, returning a
// warning when it does.  It is a pure function of its arguments.
func ClampInterval(requested, minPeriod float64) (float64, *Warning) {
	if requested >= minPeriod {
		return requested, nil
	}
	return minPeriod, &Warning{
		Code:    SampleIntervalTooFast,
		Message: fmt.Sprintf("interval %gs is shorter than the instrument minimum, using %gs", requested, minPeriod),
	}
}

func (r *Runner) clampInterval(rc *runContext, requested float64) float64 {
	iv, w := ClampInterval(requested, r.SMU.MinSamplePeriod())
	if w != nil {
		rc.warn(*w)
	}
	rc.out.Interval = iv
	return iv
}

// waitUntil busy-polls the clock until deadline.  The instrument is read
// at the display rate meanwhile so its front panel stays live, and the
// abort flag is checked every iteration.
func (r *Runner) waitUntil(rc *runContext, deadline time.Time) error {
	for {
		if err := rc.check(); err != nil {
			return err
		}
		now := rc.clock.Now()
		if !now.Before(deadline) {
			return nil
		}
		if rc.display.AllowN(now, 1) {
			if _, err := r.SMU.MeasureCurrent(rc.live); err != nil {
				return err
			}
		}
	}
}

// wait busy-polls for secs seconds
func (r *Runner) wait(rc *runContext, secs float64) error {
	return r.waitUntil(rc, rc.clock.Now().Add(util.SecsToDuration(secs)))
}

// tick returns the deadline of the n'th interval after the loop start
func (rc *runContext) tick(n int, interval float64) time.Time {
	return rc.loopStart.Add(util.SecsToDuration(float64(n) * interval))
}

// startLoop marks the start of sampling; sample times are relative to it
func (rc *runContext) startLoop() {
	rc.loopStart = rc.clock.Now()
}
