/*Package newport provides drivers for Newport motion controllers.

The ESP301 drives the filter wheel of a lamp and the linear stage that swaps
the reference diode and the test cell under the beam.  It satisfies
motion.Controller and motion.InPositionQueryer.
*/
package newport
