package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibilytics/featurex/pkg/config"
	"github.com/sibilytics/featurex/pkg/server"
)

func newTestService(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.CacheDir = t.TempDir()
	cfg.Storage.ModelDir = t.TempDir()

	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := server.New(cfg, log)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func traceFile(n int) []byte {
	rng := rand.New(rand.NewSource(2))
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		ts := float64(i) / 1000.0
		fmt.Fprintf(&buf, "%.6f\t%.6f\n", ts, math.Sin(2*math.Pi*25*ts)+0.1*rng.NormFloat64())
	}
	return buf.Bytes()
}

func TestHealthAndMetrics(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)

	snap, err := c.Metrics(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Routes)
	assert.Equal(t, "GET /", snap.Routes[0].Route)
}

func TestCachedProcessRoundTrip(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	up, err := c.UploadCached(ctx, "trace.txt", traceFile(2048))
	require.NoError(t, err)
	require.NotEmpty(t, up.FileID)
	assert.Equal(t, 2, up.Columns)

	res, err := c.Process(ctx, FileRef{FileID: up.FileID}, SignalParams{
		SignalColumn: 1,
		Wavelet:      "db4",
		Levels:       3,
	})
	require.NoError(t, err)
	assert.Equal(t, "trace.txt", res.Filename)
	assert.Len(t, res.WaveletCoeffs.Detail, 3)
	assert.Contains(t, res.Statistics, "RMS")
	require.Equal(t, len(res.Time), len(res.DenoisedSignal))
}

func TestPlotDecoding(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	file := FileRef{Name: "trace.txt", Contents: traceFile(1024)}
	params := SignalParams{SignalColumn: 1, Wavelet: "haar", Levels: 2}

	p, err := c.PlotSignal(ctx, file, params, "raw")
	require.NoError(t, err)
	assert.Equal(t, "scatter", p.Type)
	assert.Equal(t, "Raw Signal", p.Layout.Title)

	var data struct {
		X []float64 `json:"x"`
		Y []float64 `json:"y"`
	}
	require.NoError(t, json.Unmarshal(p.Data, &data))
	assert.Len(t, data.X, 1024)

	sp, err := c.PlotSpectrum(ctx, file, params, "denoised")
	require.NoError(t, err)
	assert.Equal(t, "heatmap", sp.Type)
}

func TestRegressionAndErrors(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	var buf bytes.Buffer
	buf.WriteString("a,b,y\n")
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 80; i++ {
		a := rng.Float64() * 10
		b := rng.Float64() * 10
		fmt.Fprintf(&buf, "%.5f,%.5f,%.5f\n", a, b, 4*a-b+2)
	}
	file := FileRef{Name: "data.csv", Contents: buf.Bytes()}

	res, err := c.LinearRegression(ctx, file, []string{"a", "b"}, []string{"y"}, 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.R2, 1e-6)

	_, err = c.LinearRegression(ctx, file, []string{"missing"}, []string{"y"}, 0.2)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
	assert.Contains(t, apiErr.Detail, "missing")
}

func TestTrainPredictInverse(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	var buf bytes.Buffer
	buf.WriteString("u,v,out\n")
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 200; i++ {
		u := rng.Float64()*2 - 1
		v := rng.Float64()*2 - 1
		fmt.Fprintf(&buf, "%.6f,%.6f,%.6f\n", u, v, 2*u+v)
	}

	up, err := c.UploadDataset(ctx, "train.csv", buf.Bytes())
	require.NoError(t, err)
	require.NotEmpty(t, up.FileID)
	assert.Equal(t, []string{"u", "v", "out"}, up.Columns)

	tr, err := c.Train(ctx, TrainRequest{
		FileID:         up.FileID,
		FeatureColumns: []string{"u", "v"},
		TargetColumn:   "out",
		Epochs:         100,
		BatchSize:      16,
		Architecture:   []int{16, 8},
		Activation:     "tanh",
	})
	require.NoError(t, err)
	require.NotEmpty(t, tr.ModelID)
	assert.Len(t, tr.TrainingHistory.TrainLoss, 100)

	pred, err := c.Predict(ctx, tr.ModelID, map[string]float64{"u": 0.5, "v": -0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pred.Prediction, 0.5)

	inv, err := c.InverseSolve(ctx, tr.ModelID, 1.0, 150, 0.1)
	require.NoError(t, err)
	assert.NotEmpty(t, inv.History)

	list, err := c.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)

	eval, err := c.Evaluate(ctx, tr.ModelID)
	require.NoError(t, err)
	assert.Equal(t, "out", eval.TargetName)

	_, err = c.Evaluate(ctx, "ann_model_unknown_1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}
