package dsp

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// StatNames lists the signal statistics in report order. Maps returned by
// Describe are keyed by these names.
var StatNames = []string{
	"Mean",
	"Median",
	"Mode",
	"Std Dev",
	"Variance",
	"Mean Square",
	"RMS",
	"Max",
	"Peak-to-Peak",
	"Peak-to-RMS",
	"Skewness",
	"Kurtosis",
	"Energy",
	"Power",
	"Crest Factor",
	"Impulse Factor",
	"Shape Factor",
	"Shannon Entropy",
	"Signal-to-Noise Ratio",
	"Root Mean Square Error",
	"Maximum Error",
	"Mean Absolute Error",
	"Peak Signal-to-Noise Ratio",
	"Coefficient of Variation",
}

// Describe summarizes a denoised signal against its original. noise is the
// residual original-denoised. Non-finite results are reported as zero so the
// table stays JSON-encodable.
func Describe(denoised, noise, original []float64, sampleRate float64) map[string]float64 {
	out := make(map[string]float64, len(StatNames))
	if len(denoised) == 0 {
		for _, k := range StatNames {
			out[k] = 0
		}
		return out
	}

	mean, _ := stats.Mean(denoised)
	median, _ := stats.Median(denoised)
	mode := modeOf(denoised)
	std, _ := stats.StandardDeviationPopulation(denoised)
	variance, _ := stats.PopulationVariance(denoised)

	var sumSq, maxAbs float64
	min, max := denoised[0], denoised[0]
	for _, v := range denoised {
		sumSq += v * v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	meanSq := sumSq / float64(len(denoised))
	rms := math.Sqrt(meanSq)

	energy := trapzSquared(denoised)
	power := energy / (2.0 * (1.0 / sampleRate))

	out["Mean"] = safe(mean)
	out["Median"] = safe(median)
	out["Mode"] = safe(mode)
	out["Std Dev"] = safe(std)
	out["Variance"] = safe(variance)
	out["Mean Square"] = safe(meanSq)
	out["RMS"] = safe(rms)
	out["Max"] = safe(max)
	out["Peak-to-Peak"] = safe(max - min)
	out["Peak-to-RMS"] = safe(max / rms)
	out["Skewness"] = safe(popSkewness(denoised, mean, std))
	out["Kurtosis"] = safe(popExKurtosis(denoised, mean, std))
	out["Energy"] = safe(energy)
	out["Power"] = safe(power)
	out["Crest Factor"] = safe(max / rms)
	out["Impulse Factor"] = safe(max / mean)
	out["Shape Factor"] = safe(rms / mean)
	out["Shannon Entropy"] = safe(shannonEntropy(denoised))
	out["Signal-to-Noise Ratio"] = safe(snr(denoised, noise))
	out["Coefficient of Variation"] = safe(std / mean)

	rmse := rmseOf(original, denoised)
	out["Root Mean Square Error"] = safe(rmse)
	out["Maximum Error"] = safe(maxError(original, denoised))
	out["Mean Absolute Error"] = safe(maeOf(original, denoised))
	out["Peak Signal-to-Noise Ratio"] = safe(psnr(original, rmse))

	return out
}

// Correlation is the Pearson correlation of two equal-prefix series; the
// longer slice is truncated to the shorter.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	return safe(stat.Correlation(a[:n], b[:n], nil))
}

// popSkewness is the population moment estimator m3 / m2^(3/2). The
// bias-corrected sample form drifts from it on short signals.
func popSkewness(x []float64, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	var m3 float64
	for _, v := range x {
		d := v - mean
		m3 += d * d * d
	}
	m3 /= float64(len(x))
	return m3 / (std * std * std)
}

// popExKurtosis is the population excess kurtosis m4 / m2^2 - 3.
func popExKurtosis(x []float64, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	var m4 float64
	for _, v := range x {
		d := v - mean
		m4 += d * d * d * d
	}
	m4 /= float64(len(x))
	return m4/(std*std*std*std) - 3
}

func modeOf(x []float64) float64 {
	m, err := stats.Mode(x)
	if err != nil || len(m) == 0 {
		// No repeated value; fall back to the smallest sample, the usual
		// convention for a flat empirical distribution.
		lo, err := stats.Min(x)
		if err != nil {
			return 0
		}
		return lo
	}
	return m[0]
}

// trapzSquared integrates x² with unit spacing by the trapezoid rule.
func trapzSquared(x []float64) float64 {
	var sum float64
	for i := 1; i < len(x); i++ {
		sum += (x[i-1]*x[i-1] + x[i]*x[i]) / 2
	}
	return sum
}

// shannonEntropy treats |x| as an unnormalized distribution.
func shannonEntropy(x []float64) float64 {
	var total float64
	for _, v := range x {
		total += math.Abs(v)
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, v := range x {
		p := math.Abs(v) / total
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

func snr(signal, noise []float64) float64 {
	var ps, pn float64
	for _, v := range signal {
		ps += v * v
	}
	for _, v := range noise {
		pn += v * v
	}
	if pn == 0 {
		return 0
	}
	return 10 * math.Log10(ps/pn)
}

func rmseOf(want, got []float64) float64 {
	n := minLen(want, got)
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := want[i] - got[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

func maeOf(want, got []float64) float64 {
	n := minLen(want, got)
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(want[i] - got[i])
	}
	return sum / float64(n)
}

func maxError(want, got []float64) float64 {
	n := minLen(want, got)
	var m float64
	for i := 0; i < n; i++ {
		if d := math.Abs(want[i] - got[i]); d > m {
			m = d
		}
	}
	return m
}

func psnr(original []float64, rmse float64) float64 {
	if rmse == 0 {
		return 0
	}
	var peak float64
	for _, v := range original {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return 20 * math.Log10(peak/rmse)
}

func minLen(a, b []float64) int {
	if len(a) < len(b) {
		return len(a)
	}
	return len(b)
}

func safe(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
