package regress

import (
	"fmt"
	"strings"

	"github.com/SeanJxie/polygo"
	"github.com/openacid/slimarray/polyfit"
)

// PolynomialResult reports a linear fit over polynomial feature expansions.
type PolynomialResult struct {
	R2           float64     `json:"r2_score"`
	MSE          float64     `json:"mse"`
	Degree       int         `json:"degree"`
	Coefficients [][]float64 `json:"coefficients"`
	Intercepts   []float64   `json:"intercepts"`
	Equations    []string    `json:"equations"`
	FeatureNames []string    `json:"feature_names"`
	Plots        []FitSeries `json:"plots"`
	XColumns     []string    `json:"x_columns"`
	YColumns     []string    `json:"y_columns"`
}

// Polynomial expands X into all monomials of total degree 1..degree and fits
// least squares on the expansion. The single-feature single-target case is
// fit directly as a univariate polynomial.
func Polynomial(x, y [][]float64, xCols, yCols []string, degree int, testSize float64) (*PolynomialResult, error) {
	if len(x) != len(y) {
		return nil, ErrShapeMismatch
	}
	if len(xCols) == 0 {
		return nil, ErrTooFewFeatures
	}
	if len(yCols) == 0 {
		return nil, ErrTooFewTargets
	}
	if degree < 1 {
		return nil, fmt.Errorf("regress: polynomial degree must be >= 1, got %d", degree)
	}

	trainIdx, testIdx, err := trainTestSplit(len(x), testSize)
	if err != nil {
		return nil, err
	}
	xTrain, xTest := selectRows(x, trainIdx), selectRows(x, testIdx)
	yTrain, yTest := selectRows(y, trainIdx), selectRows(y, testIdx)

	powers := polynomialPowers(len(xCols), degree)
	names := monomialNames(powers, xCols)

	var coef [][]float64
	var intercepts []float64
	var yPred [][]float64
	if len(xCols) == 1 && len(yCols) == 1 {
		coef, intercepts, yPred, err = fitUnivariate(xTrain, yTrain, xTest, degree)
	} else {
		coef, intercepts, err = ols(expand(xTrain, powers), expand1(yTrain))
		if err == nil {
			yPred = predictLinear(expand(xTest, powers), coef, intercepts)
		}
	}
	if err != nil {
		return nil, err
	}

	return &PolynomialResult{
		R2:           r2Score(yTest, yPred),
		MSE:          meanSquaredError(yTest, yPred),
		Degree:       degree,
		Coefficients: coef,
		Intercepts:   intercepts,
		Equations:    polynomialEquations(yCols, names, coef, intercepts),
		FeatureNames: names,
		Plots:        buildFitSeries(xCols, yCols, xTest, yTest, yPred),
		XColumns:     xCols,
		YColumns:     yCols,
	}, nil
}

// fitUnivariate solves the one-feature case with a direct polynomial fit and
// maps the coefficients back to the expansion layout: intercept first, then
// the x^1..x^degree weights.
func fitUnivariate(x, y, xTest [][]float64, degree int) (coef [][]float64, intercepts []float64, yPred [][]float64, err error) {
	xs := make([]float64, len(x))
	ys := make([]float64, len(y))
	for i := range x {
		xs[i] = x[i][0]
		ys[i] = y[i][0]
	}
	solved := polyfit.NewFit(xs, ys, degree).Solve()
	poly, perr := polygo.NewRealPolynomial(solved)
	if perr != nil {
		return nil, nil, nil, fmt.Errorf("regress: polynomial fit: %w", perr)
	}

	yPred = make([][]float64, len(xTest))
	for i, row := range xTest {
		yPred[i] = []float64{poly.At(row[0])}
	}

	c := make([]float64, degree)
	for i := 1; i < len(solved) && i-1 < degree; i++ {
		c[i-1] = solved[i]
	}
	return [][]float64{c}, []float64{solved[0]}, yPred, nil
}

// polynomialPowers enumerates exponent vectors of total degree 1..degree,
// ordered by degree then by combinations with replacement over features.
func polynomialPowers(nFeatures, degree int) [][]int {
	var out [][]int
	var walk func(start, remaining int, cur []int)
	walk = func(start, remaining int, cur []int) {
		if remaining == 0 {
			row := make([]int, nFeatures)
			copy(row, cur)
			out = append(out, row)
			return
		}
		for f := start; f < nFeatures; f++ {
			cur[f]++
			walk(f, remaining-1, cur)
			cur[f]--
		}
	}
	for d := 1; d <= degree; d++ {
		walk(0, d, make([]int, nFeatures))
	}
	return out
}

func monomialNames(powers [][]int, xCols []string) []string {
	names := make([]string, len(powers))
	for i, pw := range powers {
		var parts []string
		for f, e := range pw {
			switch {
			case e == 1:
				parts = append(parts, xCols[f])
			case e > 1:
				parts = append(parts, fmt.Sprintf("%s^%d", xCols[f], e))
			}
		}
		names[i] = strings.Join(parts, " ")
	}
	return names
}

func expand(x [][]float64, powers [][]int) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		ex := make([]float64, len(powers))
		for j, pw := range powers {
			v := 1.0
			for f, e := range pw {
				for k := 0; k < e; k++ {
					v *= row[f]
				}
			}
			ex[j] = v
		}
		out[i] = ex
	}
	return out
}

// expand1 copies rows so ols never aliases caller data.
func expand1(y [][]float64) [][]float64 {
	out := make([][]float64, len(y))
	for i, row := range y {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func polynomialEquations(yCols, names []string, coef [][]float64, intercepts []float64) []string {
	eqs := make([]string, len(yCols))
	for t, target := range yCols {
		var b strings.Builder
		fmt.Fprintf(&b, "%s = %.4f", target, intercepts[t])
		for j, name := range names {
			if j < len(coef[t]) && (coef[t][j] > 1e-8 || coef[t][j] < -1e-8) {
				fmt.Fprintf(&b, " + (%.4f × %s)", coef[t][j], name)
			}
		}
		eqs[t] = b.String()
	}
	return eqs
}
