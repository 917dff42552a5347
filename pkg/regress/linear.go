package regress

import (
	"fmt"
	"strings"
)

// LinearResult reports a multi-input multi-output linear fit evaluated on a
// held-out test split.
type LinearResult struct {
	R2           float64     `json:"r2_score"`
	MSE          float64     `json:"mse"`
	Coefficients [][]float64 `json:"coefficients"`
	Intercepts   []float64   `json:"intercepts"`
	Equations    []string    `json:"equations"`
	Plots        []FitSeries `json:"plots"`
	XColumns     []string    `json:"x_columns"`
	YColumns     []string    `json:"y_columns"`
}

// Linear fits ordinary least squares of Y on X, splitting the rows into
// train and test with the given test fraction.
func Linear(x, y [][]float64, xCols, yCols []string, testSize float64) (*LinearResult, error) {
	if len(x) != len(y) {
		return nil, ErrShapeMismatch
	}
	if len(xCols) == 0 {
		return nil, ErrTooFewFeatures
	}
	if len(yCols) == 0 {
		return nil, ErrTooFewTargets
	}

	trainIdx, testIdx, err := trainTestSplit(len(x), testSize)
	if err != nil {
		return nil, err
	}
	xTrain, xTest := selectRows(x, trainIdx), selectRows(x, testIdx)
	yTrain, yTest := selectRows(y, trainIdx), selectRows(y, testIdx)

	coef, intercepts, err := ols(xTrain, yTrain)
	if err != nil {
		return nil, err
	}
	yPred := predictLinear(xTest, coef, intercepts)

	return &LinearResult{
		R2:           r2Score(yTest, yPred),
		MSE:          meanSquaredError(yTest, yPred),
		Coefficients: coef,
		Intercepts:   intercepts,
		Equations:    linearEquations(yCols, xCols, coef, intercepts),
		Plots:        buildFitSeries(xCols, yCols, xTest, yTest, yPred),
		XColumns:     xCols,
		YColumns:     yCols,
	}, nil
}

func linearEquations(yCols, xCols []string, coef [][]float64, intercepts []float64) []string {
	eqs := make([]string, len(yCols))
	for t, target := range yCols {
		var b strings.Builder
		fmt.Fprintf(&b, "%s = %.4f", target, intercepts[t])
		for f, feature := range xCols {
			fmt.Fprintf(&b, " + (%.4f × %s)", coef[t][f], feature)
		}
		eqs[t] = b.String()
	}
	return eqs
}
