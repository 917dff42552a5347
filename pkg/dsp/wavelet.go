// Package dsp holds the signal-processing routines behind the analysis
// endpoints: wavelet decomposition and denoising, FFT magnitude spectra,
// spectrograms, smoothing and the statistical signal summary.
package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// ErrTooShort is returned when a signal is shorter than the wavelet filter.
var ErrTooShort = errors.New("dsp: signal shorter than wavelet filter")

// Wavelet is an orthonormal wavelet identified by its scaling filter.
type Wavelet struct {
	Name string
	h    []float64 // scaling (lowpass) filter, reconstruction order
}

// Scaling filters, reconstruction order, normalized so the taps sum to √2.
var wavelets = map[string][]float64{
	"haar": {
		0.7071067811865476, 0.7071067811865476,
	},
	"db2": {
		0.48296291314469025, 0.8365163037378079,
		0.22414386804185735, -0.12940952255092145,
	},
	"db4": {
		0.23037781330885523, 0.7148465705525415,
		0.6308807679295904, -0.02798376941698385,
		-0.18703481171888114, 0.030841381835986965,
		0.032883011666982945, -0.010597401784997278,
	},
	"sym4": {
		0.03222310060404270, -0.012603967262037833,
		-0.09921954357684722, 0.29785779560527736,
		0.8037387518059161, 0.49761866763201545,
		-0.02963552764599851, -0.07576571478927333,
	},
}

// ParseWavelet resolves a wavelet by name ("haar", "db2", "db4", "sym4").
// "db1" is accepted as an alias for haar.
func ParseWavelet(name string) (Wavelet, error) {
	if name == "db1" {
		name = "haar"
	}
	h, ok := wavelets[name]
	if !ok {
		return Wavelet{}, fmt.Errorf("dsp: unknown wavelet %q", name)
	}
	return Wavelet{Name: name, h: h}, nil
}

// highpass derives the quadrature mirror filter g[k] = (-1)^k h[L-1-k].
func (w Wavelet) highpass() []float64 {
	L := len(w.h)
	g := make([]float64, L)
	for k := 0; k < L; k++ {
		g[k] = w.h[L-1-k]
		if k%2 == 1 {
			g[k] = -g[k]
		}
	}
	return g
}

// MaxLevel returns the deepest decomposition level for a signal of length n,
// following the usual floor(log2(n / (L-1))) bound.
func (w Wavelet) MaxLevel(n int) int {
	L := len(w.h)
	if n < L {
		return 0
	}
	return int(math.Log2(float64(n) / float64(L-1)))
}

// Decomposition is a multi-level DWT of a signal. Details are ordered deepest
// first, matching the coefficient layout of the denoising pipeline: index 0
// is the coarsest detail band.
type Decomposition struct {
	Wavelet Wavelet
	Approx  []float64
	Details [][]float64

	// input length at each level before padding, deepest last; used to undo
	// the odd-length padding during reconstruction.
	lengths []int
}

// Wavedec performs a periodized multi-level DWT. Odd-length inputs at any
// level are padded by repeating the final sample; the pad is removed on
// reconstruction. Levels beyond MaxLevel are clamped.
func Wavedec(x []float64, w Wavelet, level int) (*Decomposition, error) {
	if len(x) < len(w.h) {
		return nil, fmt.Errorf("%w: n=%d, filter=%d", ErrTooShort, len(x), len(w.h))
	}
	if max := w.MaxLevel(len(x)); level > max {
		level = max
	}
	if level < 1 {
		level = 1
	}

	g := w.highpass()
	d := &Decomposition{Wavelet: w}
	cur := x
	details := make([][]float64, 0, level)
	for lvl := 0; lvl < level && len(cur) >= len(w.h); lvl++ {
		d.lengths = append(d.lengths, len(cur))
		a, det := analyze(cur, w.h, g)
		details = append(details, det)
		cur = a
	}
	d.Approx = cur

	// Reverse so Details[0] is the deepest band.
	d.Details = make([][]float64, len(details))
	for i := range details {
		d.Details[i] = details[len(details)-1-i]
	}
	return d, nil
}

// Waverec inverts the decomposition, returning a signal of the original
// length.
func (d *Decomposition) Waverec() []float64 {
	g := d.Wavelet.highpass()
	cur := d.Approx
	for i, det := range d.Details {
		// lengths is recorded shallow-to-deep; the i-th reconstruction step
		// (deep to shallow) undoes the pad of lengths[len-1-i].
		cur = synthesize(cur, det, d.Wavelet.h, g)
		want := d.lengths[len(d.lengths)-1-i]
		if len(cur) > want {
			cur = cur[:want]
		}
	}
	return cur
}

// analyze performs one level of the periodized DWT.
func analyze(x, h, g []float64) (approx, detail []float64) {
	if len(x)%2 == 1 {
		x = append(append(make([]float64, 0, len(x)+1), x...), x[len(x)-1])
	}
	n := len(x)
	half := n / 2
	approx = make([]float64, half)
	detail = make([]float64, half)
	for i := 0; i < half; i++ {
		var a, dd float64
		for k := 0; k < len(h); k++ {
			v := x[(2*i+k)%n]
			a += h[k] * v
			dd += g[k] * v
		}
		approx[i] = a
		detail[i] = dd
	}
	return approx, detail
}

// synthesize inverts one analysis level.
func synthesize(approx, detail, h, g []float64) []float64 {
	half := len(approx)
	n := 2 * half
	out := make([]float64, n)
	for i := 0; i < half; i++ {
		for k := 0; k < len(h); k++ {
			out[(2*i+k)%n] += h[k]*approx[i] + g[k]*detail[i]
		}
	}
	return out
}

// UniversalThreshold computes sqrt(2 ln n) * median(|c|) / 0.6745 over a
// coefficient band, the same per-band rule the denoising pipeline has always
// used.
func UniversalThreshold(c []float64) float64 {
	if len(c) == 0 {
		return 0
	}
	abs := make([]float64, len(c))
	for i, v := range c {
		abs[i] = math.Abs(v) / 0.6745
	}
	med, err := stats.Median(abs)
	if err != nil {
		return 0
	}
	return math.Sqrt(2*math.Log(float64(len(c)))) * med
}

// SoftThreshold shrinks coefficients toward zero in place-copy: values within
// thr collapse to zero, the rest lose thr of magnitude.
func SoftThreshold(c []float64, thr float64) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		m := math.Abs(v) - thr
		if m < 0 {
			m = 0
		}
		out[i] = math.Copysign(m, v)
	}
	return out
}

// Denoise runs the full pipeline: decompose, soft-threshold every detail band
// with its own universal threshold, reconstruct, and truncate to the input
// length. The approximation band is never thresholded.
func Denoise(x []float64, w Wavelet, level int) ([]float64, *Decomposition, error) {
	dec, err := Wavedec(x, w, level)
	if err != nil {
		return nil, nil, err
	}
	den := &Decomposition{
		Wavelet: dec.Wavelet,
		Approx:  dec.Approx,
		Details: make([][]float64, len(dec.Details)),
		lengths: dec.lengths,
	}
	for i, det := range dec.Details {
		den.Details[i] = SoftThreshold(det, UniversalThreshold(det))
	}
	out := den.Waverec()
	if len(out) > len(x) {
		out = out[:len(x)]
	}
	return out, dec, nil
}
