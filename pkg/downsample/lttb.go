// Package downsample reduces long traces to a fixed point budget before they
// are shipped to a client-side chart. The only algorithm here is LTTB
// (Largest-Triangle-Three-Buckets), which keeps the point in each bucket that
// forms the largest triangle with the previously kept point and the average
// of the next bucket, so peaks and slope changes survive the reduction.
package downsample

import (
	"errors"
	"math"
)

var (
	// ErrInvalidTarget is returned when targetPoints is too small to run the
	// bucketed pass (fewer than 3) while the input actually needs reducing.
	ErrInvalidTarget = errors.New("downsample: target must be at least 3 when input exceeds it")

	// ErrLengthMismatch is returned when x and y differ in length.
	ErrLengthMismatch = errors.New("downsample: x and y must have the same length")
)

// LTTB reduces (x, y) to at most targetPoints points.
//
// If len(x) <= targetPoints the inputs are returned as-is (the result aliases
// the input slices; treat them as read-only). Otherwise the result has exactly
// targetPoints points, always including the first and last source points.
//
// Buckets are formed over input order, not x value; x is normally
// non-decreasing but the algorithm does not require or check it. NaN and Inf
// values flow through the area arithmetic untouched: a NaN area never wins a
// comparison, so a bucket keeps its first candidate when every area is NaN.
func LTTB(x, y []float64, targetPoints int) ([]float64, []float64, error) {
	if len(x) != len(y) {
		return nil, nil, ErrLengthMismatch
	}
	n := len(x)
	if n <= targetPoints {
		return x, y, nil
	}
	// Reducing is required from here on. targetPoints of 2 would divide by
	// zero below and 0/1 would go negative, so all three are rejected.
	if targetPoints < 3 {
		return nil, nil, ErrInvalidTarget
	}

	outX := make([]float64, 0, targetPoints)
	outY := make([]float64, 0, targetPoints)
	outX = append(outX, x[0])
	outY = append(outY, y[0])

	// Fractional bucket width over the interior points [1, n-2].
	bucketSize := float64(n-2) / float64(targetPoints-2)

	a := 0 // index of the most recently kept point
	for i := 0; i < targetPoints-2; i++ {
		// Average of the next bucket, the triangle's third vertex. When the
		// fractional boundaries collapse to an empty window the average stays
		// at the origin; this matches the reference implementation exactly
		// and is pinned by tests, so leave it alone.
		avgStart := int(math.Floor(float64(i+1)*bucketSize)) + 1
		avgEnd := int(math.Floor(float64(i+2)*bucketSize)) + 1
		if avgEnd > n {
			avgEnd = n
		}
		var avgX, avgY float64
		if avgEnd > avgStart {
			for j := avgStart; j < avgEnd; j++ {
				avgX += x[j]
				avgY += y[j]
			}
			m := float64(avgEnd - avgStart)
			avgX /= m
			avgY /= m
		}

		// Current bucket's candidates.
		lo := int(math.Floor(float64(i)*bucketSize)) + 1
		hi := int(math.Floor(float64(i+1)*bucketSize)) + 1

		ax, ay := x[a], y[a]
		maxArea := -1.0
		nextA := lo
		for j := lo; j < hi; j++ {
			// Shoelace area of triangle (a, j, avg). Strict > keeps the first
			// maximum, same tie-break as the reference.
			area := math.Abs((ax-avgX)*(y[j]-ay)-(ax-x[j])*(avgY-ay)) * 0.5
			if area > maxArea {
				maxArea = area
				nextA = j
			}
		}

		outX = append(outX, x[nextA])
		outY = append(outY, y[nextA])
		a = nextA
	}

	outX = append(outX, x[n-1])
	outY = append(outY, y[n-1])
	return outX, outY, nil
}
