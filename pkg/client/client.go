// Package client is a Go client for the analysis service. Every call mirrors
// one HTTP endpoint; multipart uploads and cached file ids are both
// supported.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sibilytics/featurex/pkg/ann"
	"github.com/sibilytics/featurex/pkg/metrics"
	"github.com/sibilytics/featurex/pkg/regress"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Detail)
}

type Client struct {
	base string
	http *http.Client
}

// New returns a client for the service at base (e.g. "http://localhost:8000").
// The timeout is generous because training requests run inline on the server.
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Minute},
	}
}

// FileRef names the data a request operates on: either raw bytes with a
// filename, or the id of a previously cached upload.
type FileRef struct {
	Name     string
	Contents []byte
	FileID   string
}

func (f FileRef) apply(fields map[string]string) (string, []byte) {
	if f.FileID != "" {
		fields["file_id"] = f.FileID
		return "", nil
	}
	return f.Name, f.Contents
}

type Health struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type UploadResult struct {
	Filename string `json:"filename"`
	FileID   string `json:"file_id"`
	Columns  int    `json:"columns"`
	Rows     int    `json:"rows"`
	Status   string `json:"status"`
}

func (c *Client) Upload(ctx context.Context, name string, contents []byte) (*UploadResult, error) {
	var out UploadResult
	err := c.postForm(ctx, "/api/upload", nil, name, contents, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadCached uploads through the caching endpoint and returns the file id
// to reuse in later calls. Contents may be gzip-compressed; the server
// detects that on its own.
func (c *Client) UploadCached(ctx context.Context, name string, contents []byte) (*UploadResult, error) {
	var out UploadResult
	err := c.postForm(ctx, "/api/upload-with-progress", nil, name, contents, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SignalParams selects the trace columns and the wavelet settings shared by
// the process and plot endpoints. Zero values defer to server defaults.
type SignalParams struct {
	TimeColumn   int
	SignalColumn int
	Wavelet      string
	Levels       int

	// SmoothingWindow > 0 enables Savitzky-Golay smoothing of the denoised
	// trace; SmoothingPoly defaults server-side to 3.
	SmoothingWindow int
	SmoothingPoly   int
}

func (p SignalParams) fields() map[string]string {
	fields := map[string]string{
		"time_column":   strconv.Itoa(p.TimeColumn),
		"signal_column": strconv.Itoa(p.SignalColumn),
	}
	if p.Wavelet != "" {
		fields["wavelet_type"] = p.Wavelet
	}
	if p.Levels > 0 {
		fields["n_levels"] = strconv.Itoa(p.Levels)
	}
	if p.SmoothingWindow > 0 {
		fields["smoothing_window"] = strconv.Itoa(p.SmoothingWindow)
	}
	if p.SmoothingPoly > 0 {
		fields["smoothing_poly"] = strconv.Itoa(p.SmoothingPoly)
	}
	return fields
}

type WaveletCoeffs struct {
	Approximation []float64   `json:"approximation"`
	Detail        [][]float64 `json:"detail"`
}

type ProcessResult struct {
	Time           []float64          `json:"time"`
	RawSignal      []float64          `json:"raw_signal"`
	DenoisedSignal []float64          `json:"denoised_signal"`
	WaveletCoeffs  WaveletCoeffs      `json:"wavelet_coeffs"`
	Statistics     map[string]float64 `json:"statistics"`
	Filename       string             `json:"filename"`
}

func (c *Client) Process(ctx context.Context, file FileRef, params SignalParams) (*ProcessResult, error) {
	fields := params.fields()
	name, contents := file.apply(fields)
	var out ProcessResult
	if err := c.postForm(ctx, "/api/process", fields, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type RawStatsResult struct {
	Statistics map[string]float64 `json:"statistics"`
	Filename   string             `json:"filename"`
}

func (c *Client) ProcessRaw(ctx context.Context, file FileRef, params SignalParams) (*RawStatsResult, error) {
	fields := params.fields()
	name, contents := file.apply(fields)
	var out RawStatsResult
	if err := c.postForm(ctx, "/api/process-raw", fields, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Plot is a chart payload for client-side rendering. Data is left raw: its
// shape depends on the plot type (bare trace, trace set, or heatmap).
type Plot struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Layout   PlotLayout      `json:"layout"`
	Metadata map[string]any  `json:"metadata"`
}

type PlotLayout struct {
	XAxisTitle string `json:"xaxis_title"`
	YAxisTitle string `json:"yaxis_title"`
	Title      string `json:"title"`
}

func (c *Client) plot(ctx context.Context, path string, file FileRef, params SignalParams, key, value string) (*Plot, error) {
	fields := params.fields()
	fields[key] = value
	name, contents := file.apply(fields)
	var out Plot
	if err := c.postForm(ctx, path, fields, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlotSignal fetches the raw or denoised trace. signalType is "raw" or
// "denoised".
func (c *Client) PlotSignal(ctx context.Context, file FileRef, params SignalParams, signalType string) (*Plot, error) {
	return c.plot(ctx, "/api/plot/signal", file, params, "signal_type", signalType)
}

// PlotFFT fetches one spectrum. fftType is "raw", "denoised", "approx" or
// "detail".
func (c *Client) PlotFFT(ctx context.Context, file FileRef, params SignalParams, fftType string) (*Plot, error) {
	return c.plot(ctx, "/api/plot/fft", file, params, "fft_type", fftType)
}

// PlotWavelet fetches coefficient charts. option is "approx", "detail",
// "pearson_approx" or "pearson_detail".
func (c *Client) PlotWavelet(ctx context.Context, file FileRef, params SignalParams, option string) (*Plot, error) {
	return c.plot(ctx, "/api/plot/wavelet", file, params, "wavelet_option", option)
}

// PlotSpectrum fetches a spectrogram heatmap. spectrumType is "raw" or
// "denoised".
func (c *Client) PlotSpectrum(ctx context.Context, file FileRef, params SignalParams, spectrumType string) (*Plot, error) {
	return c.plot(ctx, "/api/plot/spectrum", file, params, "spectrum_type", spectrumType)
}

type AllPlots struct {
	Plots    map[string]Plot `json:"plots"`
	Metadata map[string]any  `json:"metadata"`
}

func (c *Client) PlotAll(ctx context.Context, file FileRef, params SignalParams) (*AllPlots, error) {
	fields := params.fields()
	name, contents := file.apply(fields)
	var out AllPlots
	if err := c.postForm(ctx, "/api/plot/all", fields, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LinearRegression(ctx context.Context, file FileRef, xCols, yCols []string, testSize float64) (*regress.LinearResult, error) {
	fields := map[string]string{
		"x_columns": strings.Join(xCols, ","),
		"y_columns": strings.Join(yCols, ","),
		"test_size": formatFloat(testSize),
	}
	name, contents := file.apply(fields)
	var out regress.LinearResult
	if err := c.postForm(ctx, "/api/regression/linear", fields, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PolynomialRegression(ctx context.Context, file FileRef, xCols, yCols []string, degree int, testSize float64) (*regress.PolynomialResult, error) {
	fields := map[string]string{
		"x_columns": strings.Join(xCols, ","),
		"y_columns": strings.Join(yCols, ","),
		"degree":    strconv.Itoa(degree),
		"test_size": formatFloat(testSize),
	}
	name, contents := file.apply(fields)
	var out regress.PolynomialResult
	if err := c.postForm(ctx, "/api/regression/polynomial", fields, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LogisticRegression runs the tuning sweep. target may be empty for
// server-side detection, testSizes may be nil for the default grid.
func (c *Client) LogisticRegression(ctx context.Context, file FileRef, target string, testSizes []float64) (*regress.LogisticResult, error) {
	fields := map[string]string{}
	if target != "" {
		fields["target_column"] = target
	}
	if len(testSizes) > 0 {
		parts := make([]string, len(testSizes))
		for i, ts := range testSizes {
			parts[i] = formatFloat(ts)
		}
		fields["test_sizes"] = strings.Join(parts, ",")
	}
	name, contents := file.apply(fields)
	var out regress.LogisticResult
	if err := c.postForm(ctx, "/api/regression/logistic", fields, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CurveFit(ctx context.Context, file FileRef, xCol, yCol, zCol, modelType string, degree int) (*regress.CurveFitResult, error) {
	fields := map[string]string{
		"x_column":   xCol,
		"y_column":   yCol,
		"z_column":   zCol,
		"model_type": modelType,
		"degree":     strconv.Itoa(degree),
	}
	name, contents := file.apply(fields)
	var out regress.CurveFitResult
	if err := c.postForm(ctx, "/api/regression/curve-fit", fields, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type DatasetUpload struct {
	FileID      string           `json:"file_id"`
	Filename    string           `json:"filename"`
	Columns     []string         `json:"columns"`
	Rows        int              `json:"rows"`
	SampleData  []map[string]any `json:"sample_data"`
	ColumnStats map[string]any   `json:"column_stats"`
	HasHeader   bool             `json:"has_header"`
	Status      string           `json:"status"`
}

func (c *Client) UploadDataset(ctx context.Context, name string, contents []byte) (*DatasetUpload, error) {
	var out DatasetUpload
	if err := c.postForm(ctx, "/api/ann/upload-dataset", nil, name, contents, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TrainRequest configures a training run against a cached dataset.
type TrainRequest struct {
	FileID          string
	FeatureColumns  []string
	TargetColumn    string
	Epochs          int
	BatchSize       int
	Architecture    []int
	Activation      string
	TestSize        float64
	ValidationSplit float64
}

type TrainingHistory struct {
	Epochs    []int     `json:"epochs"`
	TrainLoss []float64 `json:"train_loss"`
	ValLoss   []float64 `json:"val_loss"`
}

type TrainResult struct {
	ModelID         string          `json:"model_id"`
	Metrics         ann.Metrics     `json:"metrics"`
	TrainingHistory TrainingHistory `json:"training_history"`
	FeatureColumns  []string        `json:"feature_columns"`
	TargetColumn    string          `json:"target_column"`
	TrainingTime    string          `json:"training_time"`
	Status          string          `json:"status"`
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	fields := map[string]string{
		"file_id":         req.FileID,
		"feature_columns": strings.Join(req.FeatureColumns, ","),
		"target_column":   req.TargetColumn,
	}
	if req.Epochs > 0 {
		fields["epochs"] = strconv.Itoa(req.Epochs)
	}
	if req.BatchSize > 0 {
		fields["batch_size"] = strconv.Itoa(req.BatchSize)
	}
	if len(req.Architecture) > 0 {
		parts := make([]string, len(req.Architecture))
		for i, n := range req.Architecture {
			parts[i] = strconv.Itoa(n)
		}
		fields["architecture"] = strings.Join(parts, ",")
	}
	if req.Activation != "" {
		fields["activation"] = req.Activation
	}
	if req.TestSize > 0 {
		fields["test_size"] = formatFloat(req.TestSize)
	}
	if req.ValidationSplit > 0 {
		fields["validation_split"] = formatFloat(req.ValidationSplit)
	}
	var out TrainResult
	if err := c.postForm(ctx, "/api/ann/train", fields, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Prediction struct {
	Prediction  float64            `json:"prediction"`
	InputValues map[string]float64 `json:"input_values"`
	TargetName  string             `json:"target_name"`
	Status      string             `json:"status"`
}

func (c *Client) Predict(ctx context.Context, modelID string, inputs map[string]float64) (*Prediction, error) {
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{
		"model_id":     modelID,
		"input_values": string(encoded),
	}
	var out Prediction
	if err := c.postForm(ctx, "/api/ann/predict", fields, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type InverseSolution struct {
	DesiredOutput   float64            `json:"desired_output"`
	PredictedOutput float64            `json:"predicted_output"`
	Error           float64            `json:"error"`
	FinalLoss       float64            `json:"final_loss"`
	FoundInputs     map[string]float64 `json:"found_inputs"`
	History         []ann.InverseStep  `json:"optimization_history"`
	Status          string             `json:"status"`
}

func (c *Client) InverseSolve(ctx context.Context, modelID string, desiredOutput float64, steps int, lr float64) (*InverseSolution, error) {
	fields := map[string]string{
		"model_id":       modelID,
		"desired_output": formatFloat(desiredOutput),
	}
	if steps > 0 {
		fields["steps"] = strconv.Itoa(steps)
	}
	if lr > 0 {
		fields["learning_rate"] = formatFloat(lr)
	}
	var out InverseSolution
	if err := c.postForm(ctx, "/api/ann/inverse-solve", fields, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type ModelList struct {
	Models []ann.ModelInfo `json:"models"`
	Count  int             `json:"count"`
	Status string          `json:"status"`
}

func (c *Client) Models(ctx context.Context) (*ModelList, error) {
	var out ModelList
	if err := c.get(ctx, "/api/ann/models", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type ModelEvaluation struct {
	ModelID      string      `json:"model_id"`
	FeatureNames []string    `json:"feature_names"`
	TargetName   string      `json:"target_name"`
	Architecture []int       `json:"architecture"`
	Metrics      ann.Metrics `json:"metrics"`
	Status       string      `json:"status"`
}

func (c *Client) Evaluate(ctx context.Context, modelID string) (*ModelEvaluation, error) {
	var out ModelEvaluation
	if err := c.get(ctx, "/api/ann/evaluate/"+modelID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Metrics(ctx context.Context) (*metrics.Snapshot, error) {
	var out metrics.Snapshot
	if err := c.get(ctx, "/api/metrics", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postForm sends a multipart request with the given fields and, when name is
// non-empty, a "file" part.
func (c *Client) postForm(ctx context.Context, path string, fields map[string]string, name string, contents []byte, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(contents); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
			return &APIError{Status: resp.StatusCode, Detail: apiErr.Detail}
		}
		return &APIError{Status: resp.StatusCode, Detail: string(bytes.TrimSpace(body))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
