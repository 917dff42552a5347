package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sibilytics/featurex/pkg/cache"
	"github.com/sibilytics/featurex/pkg/dataset"
	"github.com/sibilytics/featurex/pkg/dsp"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	contents, filename, err := s.payload(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Error parsing file: %v", err)
		return
	}
	t, err := dataset.Parse(contents, filename)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Error parsing file: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"filename": filename,
		"columns":  t.NumCols(),
		"rows":     t.NumRows(),
		"status":   "success",
	})
}

func (s *Server) handleUploadWithProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	raw, filename, err := s.payload(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Error parsing file: %v", err)
		return
	}

	compressed := dataset.IsGzip(raw)
	method := "none"
	contents := raw
	var decompressTime time.Duration
	if compressed {
		t0 := time.Now()
		contents, err = dataset.Decompress(raw)
		decompressTime = time.Since(t0)
		if err != nil {
			// Fall back to the raw bytes, same as a failed decompression
			// on the wire.
			contents = raw
			compressed = false
			method = "failed"
		} else {
			method = "gzip"
		}
	}

	id, err := s.store.Put(contents, filename)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Cache write failed: %v", err)
		return
	}

	t, err := dataset.Parse(contents, filename)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Error parsing file: %v", err)
		return
	}
	meta := s.store.PutMetadata(id, metadataFor(t, filename))
	if meta != nil {
		s.log.WithError(meta).Warn("metadata write failed")
	}

	resp := map[string]any{
		"filename":           filename,
		"file_id":            id,
		"columns":            t.NumCols(),
		"rows":               t.NumRows(),
		"status":             "success",
		"message":            "File uploaded and cached successfully",
		"upload_time":        fmt.Sprintf("%.2fs", time.Since(start).Seconds()),
		"compressed":         compressed,
		"compression_method": method,
	}
	if compressed {
		ratio := float64(len(contents)) / float64(len(raw))
		resp["compressed_size_mb"] = fmt.Sprintf("%.2f", mb(len(raw)))
		resp["original_size_mb"] = fmt.Sprintf("%.2f", mb(len(contents)))
		resp["compression_ratio"] = fmt.Sprintf("%.2fx", ratio)
		resp["size_reduction_percent"] = fmt.Sprintf("%.1f%%", (1-1/ratio)*100)
		resp["bandwidth_saved_mb"] = fmt.Sprintf("%.2f", mb(len(contents))-mb(len(raw)))
		resp["decompress_time"] = fmt.Sprintf("%.2fs", decompressTime.Seconds())
	} else {
		resp["file_size_mb"] = fmt.Sprintf("%.2f", mb(len(raw)))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func metadataFor(t *dataset.Table, filename string) cache.Metadata {
	return cache.Metadata{
		Filename:  filename,
		HasHeader: t.HasHeader,
		Ext:       dataset.Ext(filename),
		Columns:   t.Columns,
		Rows:      t.NumRows(),
	}
}

func mb(n int) float64 { return float64(n) / (1024 * 1024) }

// loadTrace extracts the time and signal columns for the signal-analysis
// endpoints. Column selection is by integer index into the parsed table.
func (s *Server) loadTrace(r *http.Request) (timeData, signal []float64, filename string, err error) {
	contents, filename, err := s.payload(r)
	if err != nil {
		return nil, nil, "", err
	}
	t, err := dataset.Parse(contents, filename)
	if err != nil {
		return nil, nil, "", err
	}
	timeCol, err := formInt(r, "time_column", 0)
	if err != nil {
		return nil, nil, "", err
	}
	signalCol, err := formInt(r, "signal_column", 1)
	if err != nil {
		return nil, nil, "", err
	}
	timeData, err = t.FloatColumn(timeCol)
	if err != nil {
		return nil, nil, "", err
	}
	signal, err = t.FloatColumn(signalCol)
	if err != nil {
		return nil, nil, "", err
	}
	return timeData, signal, filename, nil
}

// sampleRate derives fs from the time column step, falling back to the
// configured default for degenerate time axes.
func (s *Server) sampleRate(timeData []float64) float64 {
	if len(timeData) > 2 {
		if step := timeData[2] - timeData[1]; step > 0 {
			return 1 / step
		}
	}
	return s.cfg.Signal.SampleRate
}

// denoiseParams reads the wavelet settings shared by the process and plot
// endpoints.
func (s *Server) denoiseParams(r *http.Request) (dsp.Wavelet, int, error) {
	name := r.FormValue("wavelet_type")
	if name == "" {
		name = s.cfg.Signal.Wavelet
	}
	wav, err := dsp.ParseWavelet(name)
	if err != nil {
		return dsp.Wavelet{}, 0, err
	}
	levels, err := formInt(r, "n_levels", s.cfg.Signal.Levels)
	if err != nil {
		return dsp.Wavelet{}, 0, err
	}
	return wav, levels, nil
}

// applySmoothing optionally runs a Savitzky-Golay pass over a denoised trace.
// A zero or absent smoothing_window leaves the trace untouched.
func (s *Server) applySmoothing(r *http.Request, x []float64, fs float64) ([]float64, error) {
	window, err := formInt(r, "smoothing_window", 0)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		return x, nil
	}
	poly, err := formInt(r, "smoothing_poly", 3)
	if err != nil {
		return nil, err
	}
	return dsp.Smooth(x, window, poly, fs)
}

const (
	maxResponsePoints = 15000
	maxCoeffPoints    = 1000
)

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	timeData, signal, filename, err := s.loadTrace(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Processing error: %v", err)
		return
	}
	wav, levels, err := s.denoiseParams(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Processing error: %v", err)
		return
	}

	denoised, dec, err := dsp.Denoise(signal, wav, levels)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Processing error: %v", err)
		return
	}
	fs := s.sampleRate(timeData)
	denoised, err = s.applySmoothing(r, denoised, fs)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Processing error: %v", err)
		return
	}
	noise := make([]float64, len(signal))
	for i := range noise {
		noise[i] = signal[i] - denoised[i]
	}
	stats := dsp.Describe(denoised, noise, signal, fs)

	approxLimit := min(len(dec.Approx), maxCoeffPoints)
	detailLimit := maxCoeffPoints
	if longest := longestBand(dec.Details); longest < detailLimit {
		detailLimit = longest
	}
	details := make([][]number, len(dec.Details))
	for i, d := range dec.Details {
		details[i] = numbers(capSlice(d, detailLimit))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"time":            numbers(stride(timeData, maxResponsePoints)),
		"raw_signal":      numbers(stride(signal, maxResponsePoints)),
		"denoised_signal": numbers(stride(denoised, maxResponsePoints)),
		"wavelet_coeffs": map[string]any{
			"approximation": numbers(capSlice(dec.Approx, approxLimit)),
			"detail":        details,
		},
		"statistics": stats,
		"filename":   filename,
	})
}

func (s *Server) handleProcessRaw(w http.ResponseWriter, r *http.Request) {
	timeData, signal, filename, err := s.loadTrace(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Processing error: %v", err)
		return
	}
	// No denoising: the raw trace is both signal and reference, noise is zero.
	noise := make([]float64, len(signal))
	stats := dsp.Describe(signal, noise, signal, s.sampleRate(timeData))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"statistics": stats,
		"filename":   filename,
	})
}

// stride keeps every step-th sample, the cheap decimation used for the
// process response where point placement does not matter.
func stride(xs []float64, maxPoints int) []float64 {
	if len(xs) <= maxPoints {
		return xs
	}
	step := len(xs) / maxPoints
	out := make([]float64, 0, len(xs)/step+1)
	for i := 0; i < len(xs); i += step {
		out = append(out, xs[i])
	}
	return out
}

func capSlice(xs []float64, limit int) []float64 {
	if len(xs) <= limit {
		return xs
	}
	return xs[:limit]
}

func longestBand(bands [][]float64) int {
	longest := 0
	for _, b := range bands {
		if len(b) > longest {
			longest = len(b)
		}
	}
	return longest
}

func (s *Server) handleDownloadStats(w http.ResponseWriter, r *http.Request) {
	var stats map[string]any
	if err := json.NewDecoder(r.Body).Decode(&stats); err != nil {
		s.httpError(w, http.StatusBadRequest, "Download error: %v", err)
		return
	}
	s.writeStatsCSV(w, "statistics.csv", []map[string]any{stats}, false)
}

func (s *Server) handleDownloadAllStats(w http.ResponseWriter, r *http.Request) {
	var all []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&all); err != nil {
		s.httpError(w, http.StatusBadRequest, "Download error: %v", err)
		return
	}
	if len(all) == 0 {
		s.httpError(w, http.StatusBadRequest, "No statistics provided")
		return
	}
	s.writeStatsCSV(w, "all_files_stats.csv", all, true)
}

// writeStatsCSV renders per-file statistic rows as a CSV attachment. Known
// statistic names keep their canonical order; unknown keys sort after them.
func (s *Server) writeStatsCSV(w http.ResponseWriter, filename string, rows []map[string]any, withFilename bool) {
	header := statColumns(rows, withFilename)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	cw := csv.NewWriter(w)
	cw.Write(header)
	for _, row := range rows {
		rec := make([]string, len(header))
		for i, col := range header {
			if v, ok := row[col]; ok {
				rec[i] = fmt.Sprintf("%v", v)
			}
		}
		cw.Write(rec)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.log.WithError(err).Error("write stats csv")
	}
}

func statColumns(rows []map[string]any, withFilename bool) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}

	var header []string
	if withFilename && seen["filename"] {
		header = append(header, "filename")
		delete(seen, "filename")
	}
	for _, name := range dsp.StatNames {
		if seen[name] {
			header = append(header, name)
			delete(seen, name)
		}
	}
	var rest []string
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(header, rest...)
}
