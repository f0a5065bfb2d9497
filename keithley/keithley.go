/*Package keithley provides smu.Hardware adapters for Keithley source-measure
units.

K2600 drives the two channel 2600 series with TSP commands, and can read both
channels in a single query.  K2400 drives the single channel 2400 series with
SCPI commands and routes between the front and rear terminals so a smu.Unit
can present them as channels A and B.
*/
package keithley

import (
	"math"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/smu"
)

// ErrChannel is returned when an adapter is addressed on a channel it does not have
var ErrChannel = errors.New("channel not present on instrument")

// SuitableRange returns the smallest range in ranges that covers |target|,
// or the largest range if none does.  ranges must be ascending.
func SuitableRange(ranges []float64, target float64) float64 {
	t := math.Abs(target)
	for _, r := range ranges {
		if r >= t {
			return r
		}
	}
	return ranges[len(ranges)-1]
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func checkChannel(ch smu.ChannelID, n int) error {
	if ch < smu.ChannelA || int(ch) >= n {
		return errors.Wrapf(ErrChannel, "channel %s", ch)
	}
	return nil
}
