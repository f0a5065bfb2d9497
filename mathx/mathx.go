// Package mathx contains small numeric helpers shared by the bench packages
package mathx

// Sign returns -1, 0, or 1 matching the sign of x
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
