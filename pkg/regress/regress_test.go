package regress

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainTestSplit(t *testing.T) {
	train, test, err := trainTestSplit(100, 0.2)
	require.NoError(t, err)
	assert.Len(t, test, 20)
	assert.Len(t, train, 80)

	seen := map[int]bool{}
	for _, i := range append(append([]int{}, train...), test...) {
		assert.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}

	// Deterministic across calls.
	train2, test2, err := trainTestSplit(100, 0.2)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)

	_, _, err = trainTestSplit(10, 0)
	assert.ErrorIs(t, err, ErrBadTestSize)
	_, _, err = trainTestSplit(10, 1.5)
	assert.ErrorIs(t, err, ErrBadTestSize)
	_, _, err = trainTestSplit(1, 0.2)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestR2Score(t *testing.T) {
	a := [][]float64{{1}, {2}, {3}}
	assert.Equal(t, 1.0, r2Score(a, [][]float64{{1}, {2}, {3}}))
	// Predicting the mean everywhere scores 0.
	assert.InDelta(t, 0.0, r2Score(a, [][]float64{{2}, {2}, {2}}), 1e-12)
}

func TestLinearRecoversKnownModel(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var x, y [][]float64
	for i := 0; i < 200; i++ {
		a := rng.Float64() * 10
		b := rng.Float64() * 5
		x = append(x, []float64{a, b})
		// y0 = 2a - 3b + 1, y1 = -a + 0.5b + 4
		y = append(y, []float64{2*a - 3*b + 1, -a + 0.5*b + 4})
	}

	res, err := Linear(x, y, []string{"a", "b"}, []string{"y0", "y1"}, 0.2)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.R2, 1e-9)
	assert.InDelta(t, 0.0, res.MSE, 1e-9)
	assert.InDelta(t, 2.0, res.Coefficients[0][0], 1e-6)
	assert.InDelta(t, -3.0, res.Coefficients[0][1], 1e-6)
	assert.InDelta(t, 1.0, res.Intercepts[0], 1e-6)
	assert.InDelta(t, -1.0, res.Coefficients[1][0], 1e-6)
	assert.InDelta(t, 4.0, res.Intercepts[1], 1e-6)

	require.Len(t, res.Equations, 2)
	assert.Contains(t, res.Equations[0], "y0 = ")
	assert.Contains(t, res.Equations[0], "× a")

	// One plot series per feature/target pair, sorted by feature.
	require.Len(t, res.Plots, 4)
	for i := 1; i < len(res.Plots[0].X); i++ {
		assert.LessOrEqual(t, res.Plots[0].X[i-1], res.Plots[0].X[i])
	}
}

func TestLinearArgErrors(t *testing.T) {
	_, err := Linear([][]float64{{1}}, [][]float64{{1}, {2}}, []string{"a"}, []string{"y"}, 0.2)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = Linear(nil, nil, nil, []string{"y"}, 0.2)
	assert.ErrorIs(t, err, ErrTooFewFeatures)
	_, err = Linear(nil, nil, []string{"a"}, nil, 0.2)
	assert.ErrorIs(t, err, ErrTooFewTargets)
}

func TestPolynomialUnivariate(t *testing.T) {
	var x, y [][]float64
	for i := 0; i < 100; i++ {
		v := float64(i) / 10
		x = append(x, []float64{v})
		y = append(y, []float64{3*v*v - 2*v + 5})
	}
	res, err := Polynomial(x, y, []string{"v"}, []string{"z"}, 2, 0.2)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.R2, 1e-9)
	assert.InDelta(t, 5.0, res.Intercepts[0], 1e-6)
	assert.InDelta(t, -2.0, res.Coefficients[0][0], 1e-6)
	assert.InDelta(t, 3.0, res.Coefficients[0][1], 1e-6)
	assert.Equal(t, []string{"v", "v^2"}, res.FeatureNames)
	assert.Contains(t, res.Equations[0], "z = 5.0000")
}

func TestPolynomialMultiFeature(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var x, y [][]float64
	for i := 0; i < 300; i++ {
		a := rng.Float64() * 4
		b := rng.Float64() * 4
		x = append(x, []float64{a, b})
		y = append(y, []float64{1 + 2*a + 3*b + 0.5*a*a - b*b + a*b})
	}
	res, err := Polynomial(x, y, []string{"a", "b"}, []string{"z"}, 2, 0.2)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.R2, 1e-9)
	// Expansion order: a, b, a^2, a b, b^2.
	assert.Equal(t, []string{"a", "b", "a^2", "a b", "b^2"}, res.FeatureNames)
	assert.InDelta(t, 2.0, res.Coefficients[0][0], 1e-6)
	assert.InDelta(t, 3.0, res.Coefficients[0][1], 1e-6)
	assert.InDelta(t, 0.5, res.Coefficients[0][2], 1e-6)
	assert.InDelta(t, 1.0, res.Coefficients[0][3], 1e-6)
	assert.InDelta(t, -1.0, res.Coefficients[0][4], 1e-6)
}

func TestPolynomialPowers(t *testing.T) {
	powers := polynomialPowers(2, 3)
	want := [][]int{
		{1, 0}, {0, 1},
		{2, 0}, {1, 1}, {0, 2},
		{3, 0}, {2, 1}, {1, 2}, {0, 3},
	}
	assert.Equal(t, want, powers)
}

func TestLogisticSeparableClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var x [][]float64
	var labels []string
	for i := 0; i < 60; i++ {
		x = append(x, []float64{rng.NormFloat64() - 4, rng.NormFloat64() - 4})
		labels = append(labels, "low")
	}
	for i := 0; i < 60; i++ {
		x = append(x, []float64{rng.NormFloat64() + 4, rng.NormFloat64() + 4})
		labels = append(labels, "high")
	}

	opts := LogisticOptions{
		TestSizes: []float64{0.25},
		CGrid:     []float64{1},
		IterGrid:  []int{300},
		Folds:     3,
	}
	res, err := Logistic(x, labels, []string{"f1", "f2"}, "cls", opts)
	require.NoError(t, err)

	assert.Equal(t, 2, res.NumClasses)
	assert.Equal(t, []string{"high", "low"}, res.ClassLabels)
	assert.Greater(t, res.Accuracy, 0.95)
	assert.Equal(t, 0.25, res.BestTestSize)
	assert.Len(t, res.ConfusionMatrix, 2)
	assert.Len(t, res.FeatureImportance, 2)
	assert.Len(t, res.Equations, 2)
	assert.Len(t, res.Probabilities, 120)

	for _, cls := range res.ClassLabels {
		m, ok := res.Report[cls]
		require.True(t, ok)
		assert.Greater(t, m.F1, 0.9, "class %s", cls)
	}

	label, probs, err := res.Predict([]float64{5, 5})
	require.NoError(t, err)
	assert.Equal(t, "high", label)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)

	_, _, err = res.Predict([]float64{1})
	assert.Error(t, err)
}

func TestLogisticSingleClass(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}}
	_, err := Logistic(x, []string{"a", "a", "a"}, []string{"f"}, "cls", LogisticOptions{})
	assert.Error(t, err)
}

func TestCurveFitLogarithmic(t *testing.T) {
	var x, y, z []float64
	for i := 1; i <= 80; i++ {
		xv := float64(i) / 4
		yv := float64(i%17) + 1
		x = append(x, xv)
		y = append(y, yv)
		z = append(z, 1.5+0.8*math.Log(xv)+1.2*math.Log(yv))
	}
	res, err := CurveFit(x, y, z, "x", "y", "z", SurfaceLogarithmic, 0)
	require.NoError(t, err)

	assert.Greater(t, res.R2, 0.999)
	assert.InDelta(t, 1.5, res.Parameters[0], 1e-3)
	assert.InDelta(t, 0.8, res.Parameters[1], 1e-3)
	assert.InDelta(t, 1.2, res.Parameters[2], 1e-3)
	assert.Contains(t, res.Equation, "z = ")
	assert.Contains(t, res.Equation, "log(x)")
	assert.Len(t, res.GridX, 40)
	assert.Len(t, res.GridZ, 40)
	assert.Len(t, res.GridZ[0], 40)
}

func TestCurveFitPolynomialSurface(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	var x, y, z []float64
	for i := 0; i < 120; i++ {
		xv := rng.Float64() * 2
		yv := rng.Float64() * 2
		x = append(x, xv)
		y = append(y, yv)
		// Degree-1 parameter layout: constant, then y, then x.
		z = append(z, 1+2*yv+3*xv)
	}
	res, err := CurveFit(x, y, z, "x", "y", "z", SurfacePolynomial, 1)
	require.NoError(t, err)
	assert.Greater(t, res.R2, 0.999)
	require.Len(t, res.Parameters, 3)
	assert.InDelta(t, 1.0, res.Parameters[0], 1e-3)
	assert.InDelta(t, 2.0, res.Parameters[1], 1e-3)
	assert.InDelta(t, 3.0, res.Parameters[2], 1e-3)
}

func TestCurveFitErrors(t *testing.T) {
	_, err := CurveFit(nil, nil, nil, "x", "y", "z", SurfacePower, 0)
	assert.ErrorIs(t, err, ErrNoData)
	_, err = CurveFit([]float64{1}, []float64{1, 2}, []float64{1}, "x", "y", "z", SurfacePower, 0)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = CurveFit([]float64{1}, []float64{1}, []float64{1}, "x", "y", "z", "fourier", 0)
	assert.Error(t, err)
}
