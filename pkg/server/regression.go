package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/sibilytics/featurex/pkg/dataset"
	"github.com/sibilytics/featurex/pkg/regress"
)

// regressionTable parses the uploaded tabular file for the regression
// endpoints. Header rows are detected, so named column selection works for
// CSV and XLSX alike.
func (s *Server) regressionTable(r *http.Request) (*dataset.Table, error) {
	contents, filename, err := s.payload(r)
	if err != nil {
		return nil, err
	}
	return dataset.Parse(contents, filename)
}

func (s *Server) handleRegressionLinear(w http.ResponseWriter, r *http.Request) {
	t, err := s.regressionTable(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Linear regression error: %v", err)
		return
	}
	xCols := splitList(r.FormValue("x_columns"))
	yCols := splitList(r.FormValue("y_columns"))
	testSize, err := formFloat(r, "test_size", 0.2)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Linear regression error: %v", err)
		return
	}

	x, y, err := featureTargets(t, xCols, yCols)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Linear regression error: %v", err)
		return
	}
	res, err := regress.Linear(x, y, xCols, yCols, testSize)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Linear regression error: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRegressionPolynomial(w http.ResponseWriter, r *http.Request) {
	t, err := s.regressionTable(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Polynomial regression error: %v", err)
		return
	}
	xCols := splitList(r.FormValue("x_columns"))
	yCols := splitList(r.FormValue("y_columns"))
	degree, err := formInt(r, "degree", 2)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Polynomial regression error: %v", err)
		return
	}
	testSize, err := formFloat(r, "test_size", 0.2)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Polynomial regression error: %v", err)
		return
	}

	x, y, err := featureTargets(t, xCols, yCols)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Polynomial regression error: %v", err)
		return
	}
	res, err := regress.Polynomial(x, y, xCols, yCols, degree, testSize)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Polynomial regression error: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRegressionLogistic(w http.ResponseWriter, r *http.Request) {
	t, err := s.regressionTable(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Logistic regression error: %v", err)
		return
	}

	target := strings.TrimSpace(r.FormValue("target_column"))
	if target == "" {
		target = detectTargetColumn(t)
	}
	targetIdx := t.ColumnIndex(target)
	if targetIdx < 0 {
		s.httpError(w, http.StatusInternalServerError, "Logistic regression error: no column named %q", target)
		return
	}

	var opts regress.LogisticOptions
	if v := r.FormValue("test_sizes"); v != "" {
		for _, part := range splitList(v) {
			ts, perr := strconv.ParseFloat(part, 64)
			if perr != nil {
				s.httpError(w, http.StatusBadRequest, "Logistic regression error: invalid test_sizes: %q", part)
				return
			}
			opts.TestSizes = append(opts.TestSizes, ts)
		}
	}

	var featureCols []string
	for _, c := range t.Columns {
		if c != target {
			featureCols = append(featureCols, c)
		}
	}
	x, err := t.Matrix(featureCols)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Logistic regression error: %v", err)
		return
	}
	labels := make([]string, t.NumRows())
	for i, row := range t.Rows {
		labels[i] = strings.TrimSpace(row[targetIdx])
	}
	x, labels = dropBadClassRows(x, labels)

	res, err := regress.Logistic(x, labels, featureCols, target, opts)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Logistic regression error: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// detectTargetColumn scans columns right to left for the first one that looks
// categorical (at most 20 distinct values), falling back to the last column.
func detectTargetColumn(t *dataset.Table) string {
	for i := t.NumCols() - 1; i >= 0; i-- {
		uniq := make(map[string]struct{})
		for _, row := range t.Rows {
			uniq[strings.TrimSpace(row[i])] = struct{}{}
		}
		if len(uniq) <= 20 {
			return t.Columns[i]
		}
	}
	return t.Columns[t.NumCols()-1]
}

func (s *Server) handleRegressionCurveFit(w http.ResponseWriter, r *http.Request) {
	t, err := s.regressionTable(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Curve fit error: %v", err)
		return
	}
	xCol := r.FormValue("x_column")
	yCol := r.FormValue("y_column")
	zCol := r.FormValue("z_column")
	kind := r.FormValue("model_type")
	degree, err := formInt(r, "degree", 2)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Curve fit error: %v", err)
		return
	}

	xs, err := t.FloatColumnByName(xCol)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Curve fit error: %v", err)
		return
	}
	ys, err := t.FloatColumnByName(yCol)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Curve fit error: %v", err)
		return
	}
	zs, err := t.FloatColumnByName(zCol)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Curve fit error: %v", err)
		return
	}
	xs, ys, zs = dropBadTriples(xs, ys, zs)

	res, err := regress.CurveFit(xs, ys, zs, xCol, yCol, zCol, kind, degree)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Curve fit error: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// featureTargets extracts the named feature and target matrices, dropping
// rows where any selected cell failed numeric parsing.
func featureTargets(t *dataset.Table, xCols, yCols []string) (x, y [][]float64, err error) {
	x, err = t.Matrix(xCols)
	if err != nil {
		return nil, nil, err
	}
	y, err = t.Matrix(yCols)
	if err != nil {
		return nil, nil, err
	}
	xOut := x[:0]
	yOut := y[:0]
	for i := range x {
		if rowHasNaN(x[i]) || rowHasNaN(y[i]) {
			continue
		}
		xOut = append(xOut, x[i])
		yOut = append(yOut, y[i])
	}
	return xOut, yOut, nil
}

func dropBadClassRows(x [][]float64, labels []string) ([][]float64, []string) {
	xOut := x[:0]
	lOut := labels[:0]
	for i := range x {
		if rowHasNaN(x[i]) || labels[i] == "" {
			continue
		}
		xOut = append(xOut, x[i])
		lOut = append(lOut, labels[i])
	}
	return xOut, lOut
}

func dropBadTriples(xs, ys, zs []float64) (x, y, z []float64) {
	x = xs[:0]
	y = ys[:0]
	z = zs[:0]
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) || math.IsNaN(zs[i]) {
			continue
		}
		x = append(x, xs[i])
		y = append(y, ys[i])
		z = append(z, zs[i])
	}
	return x, y, z
}

func rowHasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
