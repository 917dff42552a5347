package server

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibilytics/featurex/pkg/config"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.CacheDir = t.TempDir()
	cfg.Storage.ModelDir = t.TempDir()

	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := New(cfg, log)
	require.NoError(t, err)
	return s.Routes()
}

// signalFile renders a two-column tab-separated trace: a 50 Hz sine sampled
// at 2 kHz with a little noise.
func signalFile(n int) []byte {
	rng := rand.New(rand.NewSource(7))
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		ts := float64(i) / 2000.0
		v := math.Sin(2*math.Pi*50*ts) + 0.05*rng.NormFloat64()
		fmt.Fprintf(&buf, "%.6f\t%.6f\n", ts, v)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, filename string, contents []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(contents)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doMultipart(t *testing.T, h http.Handler, path string, fields map[string]string, filename string, contents []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, fields, filename, contents)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/process", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestUpload(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/upload", nil, "trace.txt", signalFile(500))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, float64(2), body["columns"])
	assert.Equal(t, float64(500), body["rows"])
	assert.Equal(t, "success", body["status"])
}

func TestUploadWithProgressGzip(t *testing.T) {
	h := newTestServer(t)

	raw := signalFile(400)
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	w := doMultipart(t, h, "/api/upload-with-progress", nil, "trace.txt", gz.Bytes())
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, true, body["compressed"])
	assert.Equal(t, "gzip", body["compression_method"])
	assert.Equal(t, float64(400), body["rows"])

	fileID, _ := body["file_id"].(string)
	require.NotEmpty(t, fileID)

	// The cached file id works in place of a re-upload.
	w = doMultipart(t, h, "/api/process-raw", map[string]string{
		"file_id":       fileID,
		"time_column":   "0",
		"signal_column": "1",
	}, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeJSON(t, w)
	assert.Equal(t, "trace.txt", body["filename"])
}

func TestProcess(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/process", map[string]string{
		"time_column":   "0",
		"signal_column": "1",
		"wavelet_type":  "db4",
		"n_levels":      "3",
	}, "trace.txt", signalFile(2048))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)

	timeSeries := body["time"].([]any)
	raw := body["raw_signal"].([]any)
	denoised := body["denoised_signal"].([]any)
	require.Equal(t, len(timeSeries), len(raw))
	require.Equal(t, len(raw), len(denoised))
	require.Equal(t, 2048, len(raw))

	stats := body["statistics"].(map[string]any)
	assert.Contains(t, stats, "Mean")
	assert.Contains(t, stats, "Signal-to-Noise Ratio")

	coeffs := body["wavelet_coeffs"].(map[string]any)
	details := coeffs["detail"].([]any)
	assert.Len(t, details, 3)
	approx := coeffs["approximation"].([]any)
	assert.LessOrEqual(t, len(approx), maxCoeffPoints)

	assert.Equal(t, "trace.txt", body["filename"])
}

func TestProcessWithSmoothing(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/process", map[string]string{
		"time_column":      "0",
		"signal_column":    "1",
		"wavelet_type":     "db4",
		"n_levels":         "3",
		"smoothing_window": "21",
	}, "trace.txt", signalFile(2048))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	denoised := body["denoised_signal"].([]any)
	require.Equal(t, 2048, len(denoised))

	// Smoothing should not wreck the reconstruction: the center sample of a
	// smoothed sine stays close to the raw one.
	raw := body["raw_signal"].([]any)
	assert.InDelta(t, raw[1024].(float64), denoised[1024].(float64), 0.3)
}

func TestProcessMissingFile(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/process", map[string]string{
		"time_column":   "0",
		"signal_column": "1",
	}, "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeJSON(t, w)
	assert.Contains(t, body["detail"], "file")
}

func TestProcessUnknownCacheID(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/process", map[string]string{
		"file_id":       "deadbeef_missing.txt",
		"time_column":   "0",
		"signal_column": "1",
	}, "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlotSignal(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/plot/signal", map[string]string{
		"time_column":   "0",
		"signal_column": "1",
		"wavelet_type":  "db4",
		"n_levels":      "3",
		"signal_type":   "denoised",
	}, "trace.txt", signalFile(1024))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "scatter", body["type"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "Denoised Signal", data["name"])
	assert.Equal(t, "#ff7f0e", data["color"])
	assert.Len(t, data["x"].([]any), 1024)

	layout := body["layout"].(map[string]any)
	assert.Equal(t, "Time (s)", layout["xaxis_title"])
}

func TestPlotFFTDetail(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/plot/fft", map[string]string{
		"time_column":   "0",
		"signal_column": "1",
		"wavelet_type":  "haar",
		"n_levels":      "4",
		"fft_type":      "detail",
	}, "trace.txt", signalFile(2048))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	data := body["data"].(map[string]any)
	traces := data["traces"].([]any)
	require.Len(t, traces, 4)

	first := traces[0].(map[string]any)
	assert.Equal(t, "FFT of Detail Coefficients 1", first["name"])
	assert.Nil(t, first["color"])
}

func TestPlotSpectrum(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/plot/spectrum", map[string]string{
		"time_column":   "0",
		"signal_column": "1",
		"wavelet_type":  "db2",
		"n_levels":      "2",
		"spectrum_type": "raw",
	}, "trace.txt", signalFile(4096))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "heatmap", body["type"])

	// The single endpoint echoes spectrum_type verbatim; the batch endpoint
	// titles its spectrograms "Raw"/"Denoised".
	layout := body["layout"].(map[string]any)
	assert.Equal(t, "Spectrogram (raw)", layout["title"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "Viridis", data["colorscale"])
	freqs := data["y"].([]any)
	times := data["x"].([]any)
	z := data["z"].([]any)
	assert.LessOrEqual(t, len(freqs), maxFreqBins)
	assert.LessOrEqual(t, len(times), maxTimeBins)
	require.Equal(t, len(freqs), len(z))
	assert.Len(t, z[0].([]any), len(times))
}

func TestPlotAll(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/plot/all", map[string]string{
		"time_column":   "0",
		"signal_column": "1",
		"wavelet_type":  "db4",
		"n_levels":      "3",
	}, "trace.txt", signalFile(4096))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	plots := body["plots"].(map[string]any)

	for _, key := range []string{
		"signal_raw", "signal_denoised",
		"fft_raw", "fft_denoised", "fft_approx", "fft_detail",
		"wavelet_approx", "wavelet_detail",
		"wavelet_pearson_approx", "wavelet_pearson_detail",
		"spectrum_raw", "spectrum_denoised",
	} {
		assert.Contains(t, plots, key)
	}

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, float64(12), meta["plots_generated"])
	assert.Equal(t, float64(4096), meta["original_points"])

	pearson := plots["wavelet_pearson_approx"].(map[string]any)
	assert.Equal(t, "bar", pearson["type"])
}

func TestDownloadAllStats(t *testing.T) {
	h := newTestServer(t)
	payload := `[{"filename":"a.lvm","Mean":0.5,"Std Dev":0.1},{"filename":"b.lvm","Mean":0.6,"Std Dev":0.2}]`
	req := httptest.NewRequest(http.MethodPost, "/api/download-all-stats", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "all_files_stats.csv")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "filename,Mean,Std Dev", lines[0])
	assert.Equal(t, "a.lvm,0.5,0.1", lines[1])
}

func TestDownloadAllStatsEmpty(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/download-all-stats", strings.NewReader(`[]`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func regressionCSV(n int) []byte {
	rng := rand.New(rand.NewSource(3))
	var buf bytes.Buffer
	buf.WriteString("a,b,y\n")
	for i := 0; i < n; i++ {
		a := rng.Float64() * 10
		b := rng.Float64() * 5
		fmt.Fprintf(&buf, "%.6f,%.6f,%.6f\n", a, b, 2*a+3*b+1)
	}
	return buf.Bytes()
}

func TestRegressionLinear(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/regression/linear", map[string]string{
		"x_columns": "a,b",
		"y_columns": "y",
		"test_size": "0.2",
	}, "data.csv", regressionCSV(100))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.InDelta(t, 1.0, body["r2_score"].(float64), 1e-6)

	equations := body["equations"].([]any)
	require.Len(t, equations, 1)
	assert.Contains(t, equations[0], "y = ")
}

func TestRegressionCurveFit(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var buf bytes.Buffer
	buf.WriteString("u,v,z\n")
	for i := 0; i < 120; i++ {
		u := 0.5 + rng.Float64()*9
		v := 0.5 + rng.Float64()*9
		z := 2.0 + 0.7*math.Log(u) + 1.1*math.Log(v)
		fmt.Fprintf(&buf, "%.6f,%.6f,%.6f\n", u, v, z)
	}

	h := newTestServer(t)
	w := doMultipart(t, h, "/api/regression/curve-fit", map[string]string{
		"x_column":   "u",
		"y_column":   "v",
		"z_column":   "z",
		"model_type": "logarithmic",
	}, "data.csv", buf.Bytes())

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Greater(t, body["r2_score"].(float64), 0.999)
	assert.Equal(t, "logarithmic", body["model_type"])
	assert.Contains(t, body["equation"], "log(u)")
}

func TestRegressionLogisticAutoTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var buf bytes.Buffer
	buf.WriteString("f1,f2,class\n")
	for i := 0; i < 120; i++ {
		label := "no"
		base := -2.0
		if i%2 == 0 {
			label = "yes"
			base = 2.0
		}
		fmt.Fprintf(&buf, "%.6f,%.6f,%s\n", base+rng.NormFloat64()*0.3, base+rng.NormFloat64()*0.3, label)
	}

	h := newTestServer(t)
	w := doMultipart(t, h, "/api/regression/logistic", map[string]string{
		"test_sizes": "0.25",
	}, "data.csv", buf.Bytes())

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "class", body["target_column"])
	assert.Equal(t, float64(2), body["num_classes"])
	assert.Greater(t, body["accuracy"].(float64), 0.9)
}

func annCSV(n int) []byte {
	rng := rand.New(rand.NewSource(9))
	var buf bytes.Buffer
	buf.WriteString("x1,x2,target\n")
	for i := 0; i < n; i++ {
		a := rng.Float64()*4 - 2
		b := rng.Float64()*4 - 2
		fmt.Fprintf(&buf, "%.6f,%.6f,%.6f\n", a, b, 3*a-2*b+1)
	}
	return buf.Bytes()
}

func TestANNWorkflow(t *testing.T) {
	h := newTestServer(t)

	w := doMultipart(t, h, "/api/ann/upload-dataset", nil, "train.csv", annCSV(250))
	require.Equal(t, http.StatusOK, w.Code)
	upload := decodeJSON(t, w)
	fileID, _ := upload["file_id"].(string)
	require.NotEmpty(t, fileID)
	assert.Equal(t, true, upload["has_header"])
	assert.Len(t, upload["sample_data"].([]any), 5)

	colStats := upload["column_stats"].(map[string]any)
	x1 := colStats["x1"].(map[string]any)
	assert.Equal(t, "numeric", x1["type"])

	w = doMultipart(t, h, "/api/ann/train", map[string]string{
		"file_id":         fileID,
		"feature_columns": "x1,x2",
		"target_column":   "target",
		"epochs":          "120",
		"batch_size":      "16",
		"architecture":    "16,8",
		"activation":      "tanh",
	}, "", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	train := decodeJSON(t, w)
	modelID, _ := train["model_id"].(string)
	require.NotEmpty(t, modelID)

	history := train["training_history"].(map[string]any)
	assert.Len(t, history["train_loss"].([]any), 120)
	metrics := train["metrics"].(map[string]any)
	assert.Greater(t, metrics["r2"].(float64), 0.8)

	w = doMultipart(t, h, "/api/ann/predict", map[string]string{
		"model_id":     modelID,
		"input_values": `{"x1": 1.0, "x2": -1.0}`,
	}, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pred := decodeJSON(t, w)
	assert.Equal(t, "target", pred["target_name"])
	assert.InDelta(t, 6.0, pred["prediction"].(float64), 2.0)

	w = doMultipart(t, h, "/api/ann/inverse-solve", map[string]string{
		"model_id":       modelID,
		"desired_output": "2.5",
		"steps":          "150",
	}, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inv := decodeJSON(t, w)
	assert.Equal(t, 2.5, inv["desired_output"])
	assert.NotEmpty(t, inv["optimization_history"].([]any))

	req := httptest.NewRequest(http.MethodGet, "/api/ann/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decodeJSON(t, rec)
	assert.Equal(t, float64(1), listing["count"])

	req = httptest.NewRequest(http.MethodGet, "/api/ann/evaluate/"+modelID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	eval := decodeJSON(t, rec)
	assert.Equal(t, modelID, eval["model_id"])
	assert.Equal(t, "target", eval["target_name"])
}

func TestANNPredictUnknownModel(t *testing.T) {
	h := newTestServer(t)
	w := doMultipart(t, h, "/api/ann/predict", map[string]string{
		"model_id":     "ann_model_nothere_0",
		"input_values": `{"x1": 1.0}`,
	}, "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestANNTrainRejectsUnknownOptimizer(t *testing.T) {
	h := newTestServer(t)

	w := doMultipart(t, h, "/api/ann/upload-dataset", nil, "train.csv", annCSV(50))
	require.Equal(t, http.StatusOK, w.Code)
	fileID := decodeJSON(t, w)["file_id"].(string)

	w = doMultipart(t, h, "/api/ann/train", map[string]string{
		"file_id":         fileID,
		"feature_columns": "x1,x2",
		"target_column":   "target",
		"optimizer":       "rmsprop",
	}, "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestANNTrainUsesConfiguredDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.CacheDir = t.TempDir()
	cfg.Storage.ModelDir = t.TempDir()
	cfg.Training.Epochs = 25

	log := logrus.New()
	log.SetOutput(io.Discard)
	s, err := New(cfg, log)
	require.NoError(t, err)
	h := s.Routes()

	w := doMultipart(t, h, "/api/ann/upload-dataset", nil, "train.csv", annCSV(60))
	require.Equal(t, http.StatusOK, w.Code)
	fileID := decodeJSON(t, w)["file_id"].(string)

	// No epochs field: the configured training default applies.
	w = doMultipart(t, h, "/api/ann/train", map[string]string{
		"file_id":         fileID,
		"feature_columns": "x1,x2",
		"target_column":   "target",
	}, "", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	train := decodeJSON(t, w)
	history := train["training_history"].(map[string]any)
	assert.Len(t, history["train_loss"].([]any), 25)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	routes := body["routes"].([]any)
	require.NotEmpty(t, routes)
	first := routes[0].(map[string]any)
	assert.Equal(t, "GET /", first["route"])
	assert.Equal(t, float64(3), first["count"])
}

func TestNumberMarshalsNonFiniteAsNull(t *testing.T) {
	data, err := json.Marshal([]number{1.5, number(math.NaN()), number(math.Inf(1))})
	require.NoError(t, err)
	assert.Equal(t, "[1.5,null,null]", string(data))
}
