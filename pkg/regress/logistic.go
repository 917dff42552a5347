package regress

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// LogisticOptions control the hyperparameter search. Zero-valued fields fall
// back to the defaults the analysis has always searched.
type LogisticOptions struct {
	TestSizes []float64
	CGrid     []float64
	IterGrid  []int
	Folds     int
}

func (o *LogisticOptions) setDefaults() {
	if len(o.TestSizes) == 0 {
		o.TestSizes = []float64{0.2, 0.25, 0.3}
	}
	if len(o.CGrid) == 0 {
		o.CGrid = []float64{0.01, 0.1, 1, 5, 10}
	}
	if len(o.IterGrid) == 0 {
		o.IterGrid = []int{1000, 2000, 3000}
	}
	if o.Folds == 0 {
		o.Folds = 5
	}
}

// ClassMetrics is one row of the classification report.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// LogisticResult reports the best classifier found across the test-size and
// regularization grid.
type LogisticResult struct {
	Accuracy          float64                 `json:"accuracy"`
	BestC             float64                 `json:"best_c"`
	BestIterations    int                     `json:"best_iterations"`
	BestTestSize      float64                 `json:"best_test_size"`
	NumClasses        int                     `json:"num_classes"`
	ClassLabels       []string                `json:"class_labels"`
	Report            map[string]ClassMetrics `json:"classification_report"`
	ConfusionMatrix   [][]int                 `json:"confusion_matrix"`
	FeatureImportance []float64               `json:"feature_importance"`
	Equations         []string                `json:"equations"`
	Probabilities     [][]float64             `json:"probabilities"`
	TargetColumn      string                  `json:"target_column"`
	FeatureColumns    []string                `json:"feature_columns"`

	model *softmaxModel
	mean  []float64
	scale []float64
}

// Logistic trains a multinomial classifier on standardized features, walking
// candidate test sizes, C values and iteration budgets and keeping the
// combination with the best held-out accuracy. Candidates within each split
// are ranked by k-fold cross-validation accuracy on the training rows.
func Logistic(x [][]float64, labels []string, featureCols []string, targetCol string, opts LogisticOptions) (*LogisticResult, error) {
	opts.setDefaults()
	if len(x) == 0 {
		return nil, ErrNoData
	}
	if len(x) != len(labels) {
		return nil, ErrShapeMismatch
	}

	classes, y := encodeLabels(labels)
	k := len(classes)
	if k < 2 {
		return nil, fmt.Errorf("regress: need at least 2 classes, got %d", k)
	}

	mean, scale := fitScaler(x)
	xs := applyScaler(x, mean, scale)

	var (
		best        *softmaxModel
		bestAcc     = -1.0
		bestC       float64
		bestIters   int
		bestSize    float64
		bestTestIdx []int
	)
	for _, size := range opts.TestSizes {
		trainIdx, testIdx, err := trainTestSplit(len(xs), size)
		if err != nil {
			return nil, err
		}
		xTrain, yTrain := selectRows(xs, trainIdx), selectInts(y, trainIdx)
		xTest, yTest := selectRows(xs, testIdx), selectInts(y, testIdx)

		c, iters := searchGrid(xTrain, yTrain, k, opts)
		m := trainSoftmax(xTrain, yTrain, k, c, iters)
		acc := accuracy(m, xTest, yTest)
		if acc > bestAcc {
			bestAcc = acc
			best = m
			bestC, bestIters, bestSize = c, iters, size
			bestTestIdx = testIdx
		}
	}

	xTest, yTest := selectRows(xs, bestTestIdx), selectInts(y, bestTestIdx)
	preds := make([]int, len(xTest))
	for i, row := range xTest {
		preds[i] = best.predict(row)
	}

	cm := confusionMatrix(yTest, preds, k)
	probs := make([][]float64, len(xs))
	for i, row := range xs {
		probs[i] = best.probs(row)
	}

	res := &LogisticResult{
		Accuracy:          bestAcc,
		BestC:             bestC,
		BestIterations:    bestIters,
		BestTestSize:      bestSize,
		NumClasses:        k,
		ClassLabels:       classes,
		Report:            classificationReport(yTest, preds, classes),
		ConfusionMatrix:   cm,
		FeatureImportance: featureImportance(best.w),
		Equations:         logisticEquations(classes, featureCols, best),
		Probabilities:     probs,
		TargetColumn:      targetCol,
		FeatureColumns:    featureCols,
		model:             best,
		mean:              mean,
		scale:             scale,
	}
	return res, nil
}

// Predict classifies one raw (unscaled) feature row with the fitted model.
func (r *LogisticResult) Predict(row []float64) (label string, probs []float64, err error) {
	if len(row) != len(r.mean) {
		return "", nil, fmt.Errorf("regress: expected %d features, got %d", len(r.mean), len(row))
	}
	scaled := make([]float64, len(row))
	for i, v := range row {
		scaled[i] = (v - r.mean[i]) / r.scale[i]
	}
	p := r.model.probs(scaled)
	return r.ClassLabels[r.model.predict(scaled)], p, nil
}

// searchGrid walks the candidate C and iteration lists the way a coordinate
// sweep does, scoring each pair by cross-validation accuracy.
func searchGrid(x [][]float64, y []int, k int, opts LogisticOptions) (bestC float64, bestIters int) {
	bestScore := -1.0
	bestC, bestIters = opts.CGrid[0], opts.IterGrid[0]
	for _, c := range opts.CGrid {
		for _, iters := range opts.IterGrid {
			score := crossValidate(x, y, k, c, iters, opts.Folds)
			if score > bestScore {
				bestScore = score
				bestC, bestIters = c, iters
			}
		}
	}
	return bestC, bestIters
}

func crossValidate(x [][]float64, y []int, k int, c float64, iters, folds int) float64 {
	n := len(x)
	if folds > n {
		folds = n
	}
	if folds < 2 {
		m := trainSoftmax(x, y, k, c, iters)
		return accuracy(m, x, y)
	}
	var total float64
	for f := 0; f < folds; f++ {
		var xTr, xVal [][]float64
		var yTr, yVal []int
		for i := 0; i < n; i++ {
			if i%folds == f {
				xVal = append(xVal, x[i])
				yVal = append(yVal, y[i])
			} else {
				xTr = append(xTr, x[i])
				yTr = append(yTr, y[i])
			}
		}
		m := trainSoftmax(xTr, yTr, k, c, iters)
		total += accuracy(m, xVal, yVal)
	}
	return total / float64(folds)
}

// softmaxModel is a multinomial logistic classifier: w is class-major.
type softmaxModel struct {
	w [][]float64
	b []float64
}

// trainSoftmax runs full-batch gradient descent with L2 strength 1/(C*n).
func trainSoftmax(x [][]float64, y []int, k int, c float64, iters int) *softmaxModel {
	n := len(x)
	if n == 0 {
		return &softmaxModel{w: make([][]float64, k), b: make([]float64, k)}
	}
	p := len(x[0])
	m := &softmaxModel{w: make([][]float64, k), b: make([]float64, k)}
	for cls := range m.w {
		m.w[cls] = make([]float64, p)
	}

	lr := 0.1
	lambda := 1.0 / (c * float64(n))
	gw := make([][]float64, k)
	for cls := range gw {
		gw[cls] = make([]float64, p)
	}
	gb := make([]float64, k)

	for it := 0; it < iters; it++ {
		for cls := range gw {
			for f := range gw[cls] {
				gw[cls][f] = lambda * m.w[cls][f]
			}
			gb[cls] = 0
		}
		for i, row := range x {
			pr := m.probs(row)
			for cls := 0; cls < k; cls++ {
				d := pr[cls]
				if y[i] == cls {
					d -= 1
				}
				d /= float64(n)
				for f, v := range row {
					gw[cls][f] += d * v
				}
				gb[cls] += d
			}
		}
		for cls := 0; cls < k; cls++ {
			for f := range m.w[cls] {
				m.w[cls][f] -= lr * gw[cls][f]
			}
			m.b[cls] -= lr * gb[cls]
		}
	}
	return m
}

func (m *softmaxModel) probs(row []float64) []float64 {
	k := len(m.w)
	logits := make([]float64, k)
	maxL := math.Inf(-1)
	for cls := 0; cls < k; cls++ {
		v := m.b[cls]
		for f, x := range row {
			v += m.w[cls][f] * x
		}
		logits[cls] = v
		if v > maxL {
			maxL = v
		}
	}
	var sum float64
	for cls, v := range logits {
		logits[cls] = math.Exp(v - maxL)
		sum += logits[cls]
	}
	for cls := range logits {
		logits[cls] /= sum
	}
	return logits
}

func (m *softmaxModel) predict(row []float64) int {
	pr := m.probs(row)
	best := 0
	for cls, p := range pr {
		if p > pr[best] {
			best = cls
		}
	}
	return best
}

func accuracy(m *softmaxModel, x [][]float64, y []int) float64 {
	if len(x) == 0 {
		return 0
	}
	var hits int
	for i, row := range x {
		if m.predict(row) == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(x))
}

func confusionMatrix(actual, predicted []int, k int) [][]int {
	cm := make([][]int, k)
	for i := range cm {
		cm[i] = make([]int, k)
	}
	for i := range actual {
		cm[actual[i]][predicted[i]]++
	}
	return cm
}

func classificationReport(actual, predicted []int, classes []string) map[string]ClassMetrics {
	k := len(classes)
	cm := confusionMatrix(actual, predicted, k)
	report := make(map[string]ClassMetrics, k)
	for cls := 0; cls < k; cls++ {
		var tp, fp, fn, support int
		tp = cm[cls][cls]
		for other := 0; other < k; other++ {
			support += cm[cls][other]
			if other != cls {
				fn += cm[cls][other]
				fp += cm[other][cls]
			}
		}
		var precision, recall, f1 float64
		if tp+fp > 0 {
			precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			recall = float64(tp) / float64(tp+fn)
		}
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		report[classes[cls]] = ClassMetrics{
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   support,
		}
	}
	return report
}

func featureImportance(w [][]float64) []float64 {
	if len(w) == 0 {
		return nil
	}
	out := make([]float64, len(w[0]))
	for _, row := range w {
		for f, v := range row {
			out[f] += math.Abs(v)
		}
	}
	for f := range out {
		out[f] /= float64(len(w))
	}
	return out
}

func logisticEquations(classes, featureCols []string, m *softmaxModel) []string {
	eqs := make([]string, len(classes))
	for cls, label := range classes {
		var b strings.Builder
		fmt.Fprintf(&b, "logit(Class %s) = %.4f", label, m.b[cls])
		for f, col := range featureCols {
			fmt.Fprintf(&b, " + (%.4f × %s)", m.w[cls][f], col)
		}
		eqs[cls] = b.String()
	}
	return eqs
}

// encodeLabels maps labels to class ids in sorted label order.
func encodeLabels(labels []string) (classes []string, y []int) {
	seen := map[string]bool{}
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			classes = append(classes, l)
		}
	}
	sort.Strings(classes)
	idx := make(map[string]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	y = make([]int, len(labels))
	for i, l := range labels {
		y[i] = idx[l]
	}
	return classes, y
}

func selectInts(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}

// fitScaler computes a standard scaler over all rows; zero-variance columns
// get unit scale so division stays finite.
func fitScaler(x [][]float64) (mean, scale []float64) {
	n := len(x)
	p := len(x[0])
	mean = make([]float64, p)
	scale = make([]float64, p)
	for _, row := range x {
		for f, v := range row {
			mean[f] += v
		}
	}
	for f := range mean {
		mean[f] /= float64(n)
	}
	for _, row := range x {
		for f, v := range row {
			d := v - mean[f]
			scale[f] += d * d
		}
	}
	for f := range scale {
		scale[f] = math.Sqrt(scale[f] / float64(n))
		if scale[f] == 0 {
			scale[f] = 1
		}
	}
	return mean, scale
}

func applyScaler(x [][]float64, mean, scale []float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		s := make([]float64, len(row))
		for f, v := range row {
			s[f] = (v - mean[f]) / scale[f]
		}
		out[i] = s
	}
	return out
}
