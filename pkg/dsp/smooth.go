package dsp

import (
	"github.com/pconstantinou/savitzkygolay"
)

// Smooth applies a Savitzky-Golay filter of the given window and polynomial
// order to y sampled at sampleRate. Windows are forced odd and clipped to the
// signal length; signals too short to fit a meaningful window are returned
// unchanged.
func Smooth(y []float64, window, poly int, sampleRate float64) ([]float64, error) {
	if window%2 == 0 {
		window++
	}
	if window > len(y) {
		window = len(y)
		if window%2 == 0 {
			window--
		}
	}
	if window <= poly || window < 3 {
		out := make([]float64, len(y))
		copy(out, y)
		return out, nil
	}
	filter, err := savitzkygolay.NewFilter(window, 0, poly)
	if err != nil {
		return nil, err
	}
	t := make([]float64, len(y))
	for i := range t {
		t[i] = float64(i) / sampleRate
	}
	return filter.Process(y, t)
}
