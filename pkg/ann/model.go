package ann

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var (
	ErrNoData        = errors.New("ann: no data rows")
	ErrShapeMismatch = errors.New("ann: X and y row counts differ")
)

// Config controls training. Zero fields take the defaults the service has
// always used.
type Config struct {
	Architecture    []int   `json:"architecture"`
	Activation      string  `json:"activation"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	TestSize        float64 `json:"test_size"`
	ValidationSplit float64 `json:"validation_split"`
	LearningRate    float64 `json:"learning_rate"`
	Seed            int64   `json:"seed"`
}

func (c *Config) setDefaults() {
	if len(c.Architecture) == 0 {
		c.Architecture = []int{30, 10, 8}
	}
	if c.Epochs == 0 {
		c.Epochs = 350
	}
	if c.BatchSize == 0 {
		c.BatchSize = 4
	}
	if c.TestSize == 0 {
		c.TestSize = 0.1
	}
	if c.ValidationSplit == 0 {
		c.ValidationSplit = 0.2
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}

// scaler standardizes columns to zero mean and unit variance.
type scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func fitScaler(rows [][]float64) *scaler {
	n := len(rows)
	p := len(rows[0])
	s := &scaler{Mean: make([]float64, p), Scale: make([]float64, p)}
	for _, row := range rows {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= float64(n)
	}
	for _, row := range rows {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / float64(n))
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s
}

func (s *scaler) transform(row []float64) []float32 {
	out := make([]float32, len(row))
	for j, v := range row {
		out[j] = float32((v - s.Mean[j]) / s.Scale[j])
	}
	return out
}

func (s *scaler) inverse(j int, v float64) float64 {
	return v*s.Scale[j] + s.Mean[j]
}

// Metrics summarizes model quality on the held-out test rows.
type Metrics struct {
	MAE          float64 `json:"mae"`
	MSE          float64 `json:"mse"`
	RMSE         float64 `json:"rmse"`
	R2           float64 `json:"r2"`
	TrainSamples int     `json:"train_samples"`
	TestSamples  int     `json:"test_samples"`
}

// History tracks per-epoch loss on the training and validation partitions.
type History struct {
	TrainLoss []float64 `json:"train_loss"`
	ValLoss   []float64 `json:"val_loss"`
}

// Model is a trained network with its scalers and provenance.
type Model struct {
	ID           string    `json:"model_id"`
	Network      *Network  `json:"network"`
	ScalerX      *scaler   `json:"scaler_x"`
	ScalerY      *scaler   `json:"scaler_y"`
	FeatureNames []string  `json:"feature_names"`
	TargetName   string    `json:"target_name"`
	Config       Config    `json:"config"`
	Metrics      Metrics   `json:"metrics"`
	History      History   `json:"history"`
	CreatedAt    time.Time `json:"created_at"`
}

// Train fits a network on x (rows of features) against y, standardizing both,
// holding out a test split for metrics and a validation split for the loss
// history.
func Train(x [][]float64, y []float64, featureNames []string, targetName string, cfg Config) (*Model, error) {
	cfg.setDefaults()
	if len(x) == 0 {
		return nil, ErrNoData
	}
	if len(x) != len(y) {
		return nil, ErrShapeMismatch
	}
	if len(featureNames) != len(x[0]) {
		return nil, fmt.Errorf("ann: %d feature names for %d columns", len(featureNames), len(x[0]))
	}
	act, err := ParseActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	trainIdx, testIdx := splitIndices(len(x), cfg.TestSize, rng)

	sx := fitScaler(selectRows(x, trainIdx))
	yCol := make([][]float64, len(trainIdx))
	for i, r := range trainIdx {
		yCol[i] = []float64{y[r]}
	}
	sy := fitScaler(yCol)

	// Validation rows come off the end of the training partition, the way
	// keras-style validation splits do.
	nVal := int(float64(len(trainIdx)) * cfg.ValidationSplit)
	fitIdx := trainIdx[:len(trainIdx)-nVal]
	valIdx := trainIdx[len(trainIdx)-nVal:]

	xFit, yFit := scaleRows(x, y, fitIdx, sx, sy)
	xVal, yVal := scaleRows(x, y, valIdx, sx, sy)

	net := NewNetwork(len(x[0]), cfg.Architecture, act, rng)
	opt := newAdam()
	grads := newGradients(net)
	hist := History{}

	order := make([]int, len(xFit))
	for i := range order {
		order[i] = i
	}
	lr := float32(cfg.LearningRate)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			grads.zero()
			batch := order[start:end]
			for _, i := range batch {
				pre, post := net.forward(xFit[i])
				pred := post[len(post)-1][0]
				diff := pred - yFit[i]
				epochLoss += float64(diff * diff)
				// dMSE/dPred over the batch.
				net.backward(xFit[i], pre, post, 2*diff/float32(len(batch)), grads)
			}
			opt.stepNetwork(net, grads, lr)
		}
		hist.TrainLoss = append(hist.TrainLoss, epochLoss/float64(len(order)))
		hist.ValLoss = append(hist.ValLoss, scaledLoss(net, xVal, yVal))
	}

	m := &Model{
		Network:      net,
		ScalerX:      sx,
		ScalerY:      sy,
		FeatureNames: featureNames,
		TargetName:   targetName,
		Config:       cfg,
		History:      hist,
		CreatedAt:    time.Now().UTC(),
	}
	m.Metrics = m.evaluate(x, y, testIdx)
	m.Metrics.TrainSamples = len(trainIdx)
	m.Metrics.TestSamples = len(testIdx)
	return m, nil
}

// Predict evaluates the model on raw (unscaled) feature rows.
func (m *Model) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.ScalerX.Mean) {
			return nil, fmt.Errorf("ann: expected %d features, got %d", len(m.ScalerX.Mean), len(row))
		}
		pred := m.Network.Predict(m.ScalerX.transform(row))
		out[i] = m.ScalerY.inverse(0, float64(pred))
	}
	return out, nil
}

func (m *Model) evaluate(x [][]float64, y []float64, idx []int) Metrics {
	var mae, mse float64
	actual := make([]float64, len(idx))
	pred := make([]float64, len(idx))
	for i, r := range idx {
		p := m.ScalerY.inverse(0, float64(m.Network.Predict(m.ScalerX.transform(x[r]))))
		pred[i] = p
		actual[i] = y[r]
		d := y[r] - p
		mae += math.Abs(d)
		mse += d * d
	}
	n := float64(len(idx))
	if n == 0 {
		return Metrics{}
	}
	mae /= n
	mse /= n

	var mean float64
	for _, v := range actual {
		mean += v
	}
	mean /= n
	var ssRes, ssTot float64
	for i := range actual {
		ssRes += (actual[i] - pred[i]) * (actual[i] - pred[i])
		ssTot += (actual[i] - mean) * (actual[i] - mean)
	}
	r2 := 0.0
	if ssTot != 0 {
		r2 = 1 - ssRes/ssTot
	} else if ssRes == 0 {
		r2 = 1
	}
	return Metrics{MAE: mae, MSE: mse, RMSE: math.Sqrt(mse), R2: r2}
}

func scaledLoss(net *Network, x [][]float32, y []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var loss float64
	for i := range x {
		d := net.Predict(x[i]) - y[i]
		loss += float64(d * d)
	}
	return loss / float64(len(x))
}

func splitIndices(n int, testSize float64, rng *rand.Rand) (train, test []int) {
	perm := rng.Perm(n)
	nTest := int(math.Ceil(float64(n) * testSize))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 1 {
		nTest = 1
	}
	return perm[nTest:], perm[:nTest]
}

func selectRows(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, r := range idx {
		out[i] = x[r]
	}
	return out
}

func scaleRows(x [][]float64, y []float64, idx []int, sx, sy *scaler) ([][]float32, []float32) {
	xs := make([][]float32, len(idx))
	ys := make([]float32, len(idx))
	for i, r := range idx {
		xs[i] = sx.transform(x[r])
		ys[i] = float32((y[r] - sy.Mean[0]) / sy.Scale[0])
	}
	return xs, ys
}
