// Package regress implements the regression analyses served by the API:
// multi-output linear regression, polynomial feature regression, multinomial
// logistic classification with hyperparameter search, and 3D surface curve
// fitting.
package regress

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoData         = errors.New("regress: no data rows")
	ErrBadTestSize    = errors.New("regress: test size must be in (0, 1)")
	ErrSingular       = errors.New("regress: design matrix is singular")
	ErrShapeMismatch  = errors.New("regress: X and Y row counts differ")
	ErrTooFewTargets  = errors.New("regress: at least one target column required")
	ErrTooFewFeatures = errors.New("regress: at least one feature column required")
)

// splitSeed fixes the shuffle so repeated requests over the same data give
// the same split.
const splitSeed = 42

// trainTestSplit shuffles row indices deterministically and carves off
// ceil(n*testSize) rows for testing.
func trainTestSplit(n int, testSize float64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadTestSize, testSize)
	}
	nTest := int(math.Ceil(float64(n) * testSize))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 1 {
		return nil, nil, fmt.Errorf("%w: %d rows cannot be split", ErrNoData, n)
	}
	perm := rand.New(rand.NewSource(splitSeed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

func selectRows(m [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, r := range idx {
		out[i] = m[r]
	}
	return out
}

// ols solves the multi-output least squares problem with a bias column.
// Returned coefficients are target-major: coef[t][f] weights feature f for
// target t.
func ols(x, y [][]float64) (coef [][]float64, intercepts []float64, err error) {
	n := len(x)
	if n == 0 {
		return nil, nil, ErrNoData
	}
	p := len(x[0])
	q := len(y[0])

	a := mat.NewDense(n, p+1, nil)
	b := mat.NewDense(n, q, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, 1)
		for j := 0; j < p; j++ {
			a.Set(i, j+1, x[i][j])
		}
		for j := 0; j < q; j++ {
			b.Set(i, j, y[i][j])
		}
	}

	var beta mat.Dense
	if err := beta.Solve(a, b); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	intercepts = make([]float64, q)
	coef = make([][]float64, q)
	for t := 0; t < q; t++ {
		intercepts[t] = beta.At(0, t)
		coef[t] = make([]float64, p)
		for f := 0; f < p; f++ {
			coef[t][f] = beta.At(f+1, t)
		}
	}
	return coef, intercepts, nil
}

func predictLinear(x [][]float64, coef [][]float64, intercepts []float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		pred := make([]float64, len(coef))
		for t := range coef {
			v := intercepts[t]
			for f, c := range coef[t] {
				v += c * row[f]
			}
			pred[t] = v
		}
		out[i] = pred
	}
	return out
}

// r2Score is the uniform average of per-target R² values. A constant target
// scores 1 when predicted exactly and 0 otherwise.
func r2Score(actual, predicted [][]float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	q := len(actual[0])
	var total float64
	for t := 0; t < q; t++ {
		var mean float64
		for i := range actual {
			mean += actual[i][t]
		}
		mean /= float64(len(actual))

		var ssRes, ssTot float64
		for i := range actual {
			d := actual[i][t] - predicted[i][t]
			ssRes += d * d
			m := actual[i][t] - mean
			ssTot += m * m
		}
		switch {
		case ssTot != 0:
			total += 1 - ssRes/ssTot
		case ssRes == 0:
			total += 1
		}
	}
	return total / float64(q)
}

// meanSquaredError averages squared error over every target of every row.
func meanSquaredError(actual, predicted [][]float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	var sum float64
	var count int
	for i := range actual {
		for t := range actual[i] {
			d := actual[i][t] - predicted[i][t]
			sum += d * d
			count++
		}
	}
	return sum / float64(count)
}

// FitSeries carries the sorted actual-vs-predicted series for one
// feature/target pair, the data behind the scatter plots.
type FitSeries struct {
	Feature   string    `json:"feature"`
	Target    string    `json:"target"`
	X         []float64 `json:"x"`
	Actual    []float64 `json:"actual"`
	Predicted []float64 `json:"predicted"`
}

func buildFitSeries(xCols, yCols []string, xTest, yTest, yPred [][]float64) []FitSeries {
	var out []FitSeries
	for f := range xCols {
		order := argsortBy(xTest, f)
		for t := range yCols {
			s := FitSeries{
				Feature:   xCols[f],
				Target:    yCols[t],
				X:         make([]float64, len(order)),
				Actual:    make([]float64, len(order)),
				Predicted: make([]float64, len(order)),
			}
			for i, r := range order {
				s.X[i] = xTest[r][f]
				s.Actual[i] = yTest[r][t]
				s.Predicted[i] = yPred[r][t]
			}
			out = append(out, s)
		}
	}
	return out
}

func argsortBy(rows [][]float64, col int) []int {
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	// Insertion sort keeps this dependency-free and stable; test splits are
	// small.
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && rows[idx[j]][col] < rows[idx[j-1]][col]; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
	return idx
}
