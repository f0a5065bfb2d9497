package measure

import (
	"github.com/pvlab/ivbench/lightlevel"
)

// correction accumulates reference diode readings over a run.  The factor
// is measured intensity over requested intensity, from the average of every
// reading so far, so a drift of the whole lamp is corrected without
// passing the noise of single readings into the data.
type correction struct {
	requested float64
	monitor   *lightlevel.Monitor

	sum float64
	n   int
}

func (c *correction) add(ref float64) {
	c.sum += ref
	c.n++
}

// factor is 1 until a reading has been added
func (c *correction) factor() float64 {
	if c.n == 0 || c.monitor == nil || c.requested <= 0 {
		return 1
	}
	pct, err := c.monitor.Percent(c.sum / float64(c.n))
	if err != nil || pct == 0 {
		return 1
	}
	return pct / c.requested
}
