package regress

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/optimize"
)

// Surface model kinds accepted by CurveFit.
const (
	SurfacePolynomial  = "polynomial"
	SurfaceExponential = "exponential"
	SurfaceLogarithmic = "logarithmic"
	SurfacePower       = "power"
)

const surfaceGridSize = 40

// CurveFitResult reports a fitted z = f(x, y) surface over the full dataset,
// with a regular grid evaluated for 3D plotting.
type CurveFitResult struct {
	R2         float64     `json:"r2_score"`
	MSE        float64     `json:"mse"`
	Equation   string      `json:"equation"`
	Parameters []float64   `json:"parameters"`
	ModelType  string      `json:"model_type"`
	GridX      []float64   `json:"grid_x"`
	GridY      []float64   `json:"grid_y"`
	GridZ      [][]float64 `json:"grid_z"`
}

type surfaceModel struct {
	kind    string
	degree  int
	nParams int
	eval    func(params []float64, x, y float64) float64
}

func newSurfaceModel(kind string, degree int) (*surfaceModel, error) {
	switch kind {
	case SurfacePolynomial:
		if degree < 1 {
			return nil, fmt.Errorf("regress: surface degree must be >= 1, got %d", degree)
		}
		return &surfaceModel{
			kind:    kind,
			degree:  degree,
			nParams: (degree + 1) * (degree + 2) / 2,
			eval: func(p []float64, x, y float64) float64 {
				var sum float64
				idx := 0
				for i := 0; i <= degree; i++ {
					for j := 0; j <= degree-i; j++ {
						sum += p[idx] * math.Pow(x, float64(i)) * math.Pow(y, float64(j))
						idx++
					}
				}
				return sum
			},
		}, nil
	case SurfaceExponential:
		return &surfaceModel{kind: kind, nParams: 3, eval: func(p []float64, x, y float64) float64 {
			return p[0] * math.Exp(p[1]*x+p[2]*y)
		}}, nil
	case SurfaceLogarithmic:
		return &surfaceModel{kind: kind, nParams: 3, eval: func(p []float64, x, y float64) float64 {
			return p[0] + p[1]*math.Log(x) + p[2]*math.Log(y)
		}}, nil
	case SurfacePower:
		return &surfaceModel{kind: kind, nParams: 3, eval: func(p []float64, x, y float64) float64 {
			return p[0] * math.Pow(x, p[1]) * math.Pow(y, p[2])
		}}, nil
	default:
		return nil, fmt.Errorf("regress: unknown surface model %q", kind)
	}
}

// CurveFit fits z = f(x, y) by minimizing the sum of squared residuals with
// Nelder-Mead from an all-ones start.
func CurveFit(x, y, z []float64, xCol, yCol, zCol, kind string, degree int) (*CurveFitResult, error) {
	n := len(z)
	if n == 0 {
		return nil, ErrNoData
	}
	if len(x) != n || len(y) != n {
		return nil, ErrShapeMismatch
	}
	model, err := newSurfaceModel(kind, degree)
	if err != nil {
		return nil, err
	}

	sse := func(p []float64) float64 {
		var sum float64
		for i := 0; i < n; i++ {
			d := z[i] - model.eval(p, x[i], y[i])
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return math.MaxFloat64
			}
			sum += d * d
		}
		return sum
	}

	p0 := make([]float64, model.nParams)
	for i := range p0 {
		p0[i] = 1
	}
	problem := optimize.Problem{Func: sse}
	result, err := optimize.Minimize(problem, p0, nil, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("regress: surface fit did not converge: %w", err)
	}
	params := result.X

	zPred := make([][]float64, n)
	zAct := make([][]float64, n)
	for i := 0; i < n; i++ {
		zPred[i] = []float64{model.eval(params, x[i], y[i])}
		zAct[i] = []float64{z[i]}
	}

	gx := Linspace(minOf(x), maxOf(x), surfaceGridSize)
	gy := Linspace(minOf(y), maxOf(y), surfaceGridSize)
	gz := make([][]float64, surfaceGridSize)
	for i, yv := range gy {
		row := make([]float64, surfaceGridSize)
		for j, xv := range gx {
			row[j] = model.eval(params, xv, yv)
		}
		gz[i] = row
	}

	return &CurveFitResult{
		R2:         r2Score(zAct, zPred),
		MSE:        meanSquaredError(zAct, zPred),
		Equation:   model.equation(params, xCol, yCol, zCol),
		Parameters: params,
		ModelType:  kind,
		GridX:      gx,
		GridY:      gy,
		GridZ:      gz,
	}, nil
}

func (m *surfaceModel) equation(p []float64, xCol, yCol, zCol string) string {
	switch m.kind {
	case SurfacePolynomial:
		var terms []string
		idx := 0
		for i := 0; i <= m.degree; i++ {
			for j := 0; j <= m.degree-i; j++ {
				term := fmt.Sprintf("%.6f", p[idx])
				if i > 0 {
					term += fmt.Sprintf("·%s^%d", xCol, i)
				}
				if j > 0 {
					term += fmt.Sprintf("·%s^%d", yCol, j)
				}
				terms = append(terms, term)
				idx++
			}
		}
		return fmt.Sprintf("%s = %s", zCol, strings.Join(terms, " + "))
	case SurfaceExponential:
		return fmt.Sprintf("%s = %.6f · exp(%.6f·%s + %.6f·%s)", zCol, p[0], p[1], xCol, p[2], yCol)
	case SurfaceLogarithmic:
		return fmt.Sprintf("%s = %.6f + %.6f·log(%s) + %.6f·log(%s)", zCol, p[0], p[1], xCol, p[2], yCol)
	default:
		return fmt.Sprintf("%s = %.6f · %s^%.6f · %s^%.6f", zCol, p[0], xCol, p[1], yCol, p[2])
	}
}

// Linspace returns n evenly spaced values over [start, stop].
func Linspace(start, stop float64, n int) []float64 {
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

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
