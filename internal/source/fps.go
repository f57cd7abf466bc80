package source

import "math"

// DefaultFPS is the rate assumed when neither the container nor the
// configuration provides one.
const DefaultFPS = 30

// commonRates are the frame rates measured rates snap to.
var commonRates = []float64{
	24000.0 / 1001, 24, 25, 30000.0 / 1001, 30, 50, 60000.0 / 1001, 60,
}

// SnapFPS returns the common frame rate within 3% of fps, or fps itself
// if there is none.
func SnapFPS(fps float64) float64 {
	best, bestDiff := fps, math.MaxFloat64
	for _, c := range commonRates {
		if d := math.Abs(fps - c); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	if bestDiff/best > 0.03 {
		return fps
	}
	return best
}
