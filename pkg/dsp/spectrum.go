package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// NextPow2 returns the smallest power of two >= n (and >= 1).
func NextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Spectrum is a one-sided magnitude spectrum.
type Spectrum struct {
	Freqs []float64
	Mag   []float64
}

// FFTRaw computes the spectrum of an unprocessed signal: the input is
// zero-padded to the next power of two, and magnitudes are normalized by the
// original sample count. Frequencies run from 0 to fs/2 inclusive.
func FFTRaw(x []float64, fs float64) Spectrum {
	n := len(x)
	if n == 0 {
		return Spectrum{}
	}
	nfft := NextPow2(n)
	padded := make([]float64, nfft)
	copy(padded, x)

	fft := fourier.NewFFT(nfft)
	coeffs := fft.Coefficients(nil, padded)

	half := nfft/2 + 1
	sp := Spectrum{
		Freqs: make([]float64, half),
		Mag:   make([]float64, half),
	}
	for k := 0; k < half; k++ {
		sp.Freqs[k] = fs * float64(k) / float64(nfft)
		sp.Mag[k] = cmplx.Abs(coeffs[k]) / float64(n)
	}
	return sp
}

// FFTHalf computes the unnormalized half spectrum used for denoised signals:
// no padding, no scaling, first n/2 bins only.
func FFTHalf(x []float64, fs float64) Spectrum {
	n := len(x)
	if n < 2 {
		return Spectrum{}
	}
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, x)

	half := n / 2
	sp := Spectrum{
		Freqs: make([]float64, half),
		Mag:   make([]float64, half),
	}
	for k := 0; k < half; k++ {
		sp.Freqs[k] = fs * float64(k) / float64(n)
		sp.Mag[k] = cmplx.Abs(coeffs[k])
	}
	return sp
}

// CoeffSpectrum computes the half magnitude spectrum of a wavelet coefficient
// band, with frequencies spread linearly from 100 Hz to fs/2 over the band.
func CoeffSpectrum(c []float64, fs float64) Spectrum {
	n := len(c)
	if n < 2 {
		return Spectrum{}
	}
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, c)

	half := n / 2
	sp := Spectrum{
		Freqs: Linspace(100, fs/2, half),
		Mag:   make([]float64, half),
	}
	for k := 0; k < half; k++ {
		sp.Mag[k] = cmplx.Abs(coeffs[k])
	}
	return sp
}

// Linspace returns n evenly spaced values over [start, stop].
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// SpectrogramResult is a one-sided power spectral density over time. Power is
// indexed [frequency][time].
type SpectrogramResult struct {
	Freqs []float64
	Times []float64
	Power [][]float64
}

// Spectrogram computes an STFT power spectral density with a Hann window of
// nperseg samples and noverlap samples of overlap, density-scaled the way
// plotting clients expect. A short signal shrinks the window to its length.
func Spectrogram(x []float64, fs float64, nperseg, noverlap int) SpectrogramResult {
	n := len(x)
	if n == 0 {
		return SpectrogramResult{}
	}
	if nperseg > n {
		nperseg = n
	}
	if nperseg < 2 {
		nperseg = 2
	}
	if noverlap >= nperseg {
		noverlap = nperseg / 2
	}
	step := nperseg - noverlap

	win := hann(nperseg)
	var winSq float64
	for _, w := range win {
		winSq += w * w
	}
	scale := 1.0 / (fs * winSq)

	half := nperseg/2 + 1
	fft := fourier.NewFFT(nperseg)

	res := SpectrogramResult{Freqs: make([]float64, half)}
	for k := 0; k < half; k++ {
		res.Freqs[k] = float64(k) * fs / float64(nperseg)
	}
	res.Power = make([][]float64, half)

	seg := make([]float64, nperseg)
	for start := 0; start+nperseg <= n; start += step {
		for i := 0; i < nperseg; i++ {
			seg[i] = x[start+i] * win[i]
		}
		coeffs := fft.Coefficients(nil, seg)
		for k := 0; k < half; k++ {
			p := scale * (real(coeffs[k])*real(coeffs[k]) + imag(coeffs[k])*imag(coeffs[k]))
			// One-sided: double everything but DC and Nyquist.
			if k != 0 && !(nperseg%2 == 0 && k == half-1) {
				p *= 2
			}
			res.Power[k] = append(res.Power[k], p)
		}
		res.Times = append(res.Times, (float64(start)+float64(nperseg)/2)/fs)
	}
	return res
}

// ToDB converts spectrogram power to decibels with a small floor to keep the
// log finite.
func (s SpectrogramResult) ToDB() {
	for _, row := range s.Power {
		for i, p := range row {
			row[i] = 10 * math.Log10(p+1e-10)
		}
	}
}

// Decimate thins the spectrogram grid to at most maxFreqs frequency rows and
// maxTimes time columns by uniform striding, so large signals stay plottable.
func (s SpectrogramResult) Decimate(maxFreqs, maxTimes int) SpectrogramResult {
	fStep := strideFor(len(s.Freqs), maxFreqs)
	tStep := strideFor(len(s.Times), maxTimes)
	if fStep == 1 && tStep == 1 {
		return s
	}
	out := SpectrogramResult{}
	for i := 0; i < len(s.Freqs); i += fStep {
		out.Freqs = append(out.Freqs, s.Freqs[i])
		var row []float64
		for j := 0; j < len(s.Times); j += tStep {
			row = append(row, s.Power[i][j])
		}
		out.Power = append(out.Power, row)
	}
	for j := 0; j < len(s.Times); j += tStep {
		out.Times = append(out.Times, s.Times[j])
	}
	return out
}

func strideFor(n, max int) int {
	if max <= 0 || n <= max {
		return 1
	}
	return (n + max - 1) / max
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
