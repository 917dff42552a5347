package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sibilytics/featurex/pkg/downsample"
	"github.com/sibilytics/featurex/pkg/dsp"
)

// Trace colors match what the frontend has always rendered.
const (
	colorRaw      = "#1f77b4"
	colorDenoised = "#ff7f0e"
	colorApprox   = "#2ca02c"
	colorPearson  = "#9467bd"
)

const (
	spectrogramWindow  = 256
	spectrogramOverlap = 32
	maxFreqBins        = 200
	maxTimeBins        = 500
)

type plotLayout struct {
	XAxisTitle string `json:"xaxis_title"`
	YAxisTitle string `json:"yaxis_title"`
	Title      string `json:"title"`
}

// trace is one chart series. X is either []number (scatter) or []string
// (bar categories).
type trace struct {
	X     any      `json:"x"`
	Y     []number `json:"y"`
	Name  string   `json:"name"`
	Color *string  `json:"color"`
}

type traceSet struct {
	Traces []trace `json:"traces"`
}

type heatmap struct {
	X          []number   `json:"x"`
	Y          []number   `json:"y"`
	Z          [][]number `json:"z"`
	Colorscale string     `json:"colorscale"`
}

type plot struct {
	Type     string         `json:"type"`
	Data     any            `json:"data"`
	Layout   plotLayout     `json:"layout"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func colorPtr(c string) *string { return &c }

func (s *Server) lttbTrace(x, y []float64, budget int, name string, color *string) (trace, error) {
	dx, dy, err := downsample.LTTB(x, y, budget)
	if err != nil {
		return trace{}, err
	}
	return trace{X: numbers(dx), Y: numbers(dy), Name: name, Color: color}, nil
}

func indexAxis(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func elapsedStr(start time.Time) string {
	return fmt.Sprintf("%.3fs", time.Since(start).Seconds())
}

func (s *Server) handlePlotSignal(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	timeData, signal, _, err := s.loadTrace(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Plot generation error: %v", err)
		return
	}
	wav, levels, err := s.denoiseParams(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Plot generation error: %v", err)
		return
	}

	data := signal
	name, color := "Raw Signal", colorRaw
	if r.FormValue("signal_type") == "denoised" {
		data, _, err = dsp.Denoise(signal, wav, levels)
		if err != nil {
			s.httpError(w, http.StatusInternalServerError, "Plot generation error: %v", err)
			return
		}
		data, err = s.applySmoothing(r, data, s.sampleRate(timeData))
		if err != nil {
			s.httpError(w, http.StatusBadRequest, "Plot generation error: %v", err)
			return
		}
		name, color = "Denoised Signal", colorDenoised
	}

	tr, err := s.lttbTrace(timeData, data, s.cfg.Downsample.SinglePoints, name, colorPtr(color))
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Plot generation error: %v", err)
		return
	}
	downPoints := len(tr.Y)

	s.writeJSON(w, http.StatusOK, plot{
		Type: "scatter",
		Data: tr,
		Layout: plotLayout{
			XAxisTitle: "Time (s)",
			YAxisTitle: "Amplitude (V)",
			Title:      name,
		},
		Metadata: map[string]any{
			"original_points":    len(signal),
			"downsampled_points": downPoints,
			"compression_ratio":  fmt.Sprintf("%.1fx", float64(len(signal))/float64(downPoints)),
			"processing_time":    elapsedStr(start),
		},
	})
}

func (s *Server) handlePlotFFT(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	timeData, signal, _, err := s.loadTrace(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "FFT plot error: %v", err)
		return
	}
	wav, levels, err := s.denoiseParams(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "FFT plot error: %v", err)
		return
	}
	denoised, dec, err := dsp.Denoise(signal, wav, levels)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "FFT plot error: %v", err)
		return
	}
	fs := s.sampleRate(timeData)

	fftType := r.FormValue("fft_type")
	traces, err := s.fftTraces(fftType, signal, denoised, dec, fs)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "FFT plot error: %v", err)
		return
	}

	s.writeJSON(w, http.StatusOK, plot{
		Type: "scatter",
		Data: traceSet{Traces: traces},
		Layout: plotLayout{
			XAxisTitle: "Frequency (Hz)",
			YAxisTitle: "Amplitude (V)",
			Title:      fmt.Sprintf("FFT Analysis (%s)", fftType),
		},
		Metadata: map[string]any{
			"processing_time": elapsedStr(start),
			"num_traces":      len(traces),
		},
	})
}

// fftTraces builds the spectra for one fft_type. The raw spectrum is
// zero-padded and normalized, the denoised one is the plain half spectrum,
// and coefficient spectra get the historical linspace frequency axis.
func (s *Server) fftTraces(fftType string, signal, denoised []float64, dec *dsp.Decomposition, fs float64) ([]trace, error) {
	single := s.cfg.Downsample.SinglePoints
	multi := s.cfg.Downsample.MultiPoints

	switch fftType {
	case "raw":
		sp := dsp.FFTRaw(signal, fs)
		tr, err := s.lttbTrace(sp.Freqs, sp.Mag, single, "FFT of Raw Signal", colorPtr(colorRaw))
		if err != nil {
			return nil, err
		}
		return []trace{tr}, nil
	case "denoised":
		sp := dsp.FFTHalf(denoised, fs)
		tr, err := s.lttbTrace(sp.Freqs, sp.Mag, single, "FFT of Denoised Signal", colorPtr(colorDenoised))
		if err != nil {
			return nil, err
		}
		return []trace{tr}, nil
	case "approx":
		sp := dsp.CoeffSpectrum(dec.Approx, fs)
		tr, err := s.lttbTrace(sp.Freqs, sp.Mag, single, "FFT of Approx Coefficients", colorPtr(colorApprox))
		if err != nil {
			return nil, err
		}
		return []trace{tr}, nil
	default: // detail
		traces := make([]trace, 0, len(dec.Details))
		for i, band := range dec.Details {
			sp := dsp.CoeffSpectrum(band, fs)
			tr, err := s.lttbTrace(sp.Freqs, sp.Mag, multi, fmt.Sprintf("FFT of Detail Coefficients %d", i+1), nil)
			if err != nil {
				return nil, err
			}
			traces = append(traces, tr)
		}
		return traces, nil
	}
}

func (s *Server) handlePlotWavelet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	_, signal, _, err := s.loadTrace(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Wavelet plot error: %v", err)
		return
	}
	wav, levels, err := s.denoiseParams(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Wavelet plot error: %v", err)
		return
	}
	dec, err := dsp.Wavedec(signal, wav, levels)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Wavelet plot error: %v", err)
		return
	}

	option := r.FormValue("wavelet_option")
	plotType := "scatter"
	layout := plotLayout{
		XAxisTitle: "Index",
		YAxisTitle: "Coefficient Value (V)",
		Title:      fmt.Sprintf("Wavelet Analysis (%s)", option),
	}
	var traces []trace

	switch option {
	case "approx":
		tr, lerr := s.lttbTrace(indexAxis(len(dec.Approx)), dec.Approx, s.cfg.Downsample.SinglePoints,
			"Approximation Coefficients", colorPtr(colorApprox))
		if lerr != nil {
			s.httpError(w, http.StatusInternalServerError, "Wavelet plot error: %v", lerr)
			return
		}
		traces = []trace{tr}
	case "detail":
		for i, band := range dec.Details {
			tr, lerr := s.lttbTrace(indexAxis(len(band)), band, s.cfg.Downsample.MultiPoints,
				fmt.Sprintf("Detail Coefficients %d", i+1), nil)
			if lerr != nil {
				s.httpError(w, http.StatusInternalServerError, "Wavelet plot error: %v", lerr)
				return
			}
			traces = append(traces, tr)
		}
	case "pearson_approx":
		plotType = "bar"
		layout.XAxisTitle = "Coefficient Type"
		layout.YAxisTitle = "Correlation Coefficient"
		traces = []trace{pearsonApproxTrace(signal, dec)}
	default: // pearson_detail
		plotType = "bar"
		layout.XAxisTitle = "Coefficient Type"
		layout.YAxisTitle = "Correlation Coefficient"
		traces = []trace{pearsonDetailTrace(signal, dec)}
	}

	s.writeJSON(w, http.StatusOK, plot{
		Type:   plotType,
		Data:   traceSet{Traces: traces},
		Layout: layout,
		Metadata: map[string]any{
			"processing_time": elapsedStr(start),
			"num_traces":      len(traces),
		},
	})
}

func pearsonApproxTrace(signal []float64, dec *dsp.Decomposition) trace {
	cc := dsp.Correlation(signal, dec.Approx)
	return trace{
		X:     []string{"Approx Coefficients"},
		Y:     []number{number(cc)},
		Name:  "Pearson CC",
		Color: colorPtr(colorPearson),
	}
}

func pearsonDetailTrace(signal []float64, dec *dsp.Decomposition) trace {
	labels := make([]string, len(dec.Details))
	ys := make([]number, len(dec.Details))
	for i, band := range dec.Details {
		labels[i] = fmt.Sprintf("Detail %d", i+1)
		ys[i] = number(dsp.Correlation(signal, band))
	}
	return trace{X: labels, Y: ys, Name: "Pearson CC", Color: colorPtr(colorPearson)}
}

func (s *Server) handlePlotSpectrum(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	_, signal, _, err := s.loadTrace(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Spectrum plot error: %v", err)
		return
	}
	wav, levels, err := s.denoiseParams(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Spectrum plot error: %v", err)
		return
	}

	data := signal
	spectrumType := r.FormValue("spectrum_type")
	colorscale := "Viridis"
	if spectrumType == "denoised" {
		data, _, err = dsp.Denoise(signal, wav, levels)
		if err != nil {
			s.httpError(w, http.StatusInternalServerError, "Spectrum plot error: %v", err)
			return
		}
		colorscale = "Plasma"
	} else {
		spectrumType = "raw"
	}

	p := s.spectrogramPlot(data, spectrumType, colorscale)
	p.Metadata["processing_time"] = elapsedStr(start)
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) spectrogramPlot(signal []float64, name, colorscale string) plot {
	sg := dsp.Spectrogram(signal, s.cfg.Signal.SpectrogramFS, spectrogramWindow, spectrogramOverlap)
	sg.ToDB()
	sg = sg.Decimate(maxFreqBins, maxTimeBins)
	return plot{
		Type: "heatmap",
		Data: heatmap{
			X:          numbers(sg.Times),
			Y:          numbers(sg.Freqs),
			Z:          numberGrid(sg.Power),
			Colorscale: colorscale,
		},
		Layout: plotLayout{
			XAxisTitle: "Time (s)",
			YAxisTitle: "Frequency (Hz)",
			Title:      fmt.Sprintf("Spectrogram (%s)", name),
		},
		Metadata: map[string]any{
			"shape":       []int{len(sg.Freqs), len(sg.Times)},
			"data_points": len(sg.Freqs) * len(sg.Times),
		},
	}
}

// handlePlotAll runs the decomposition once and emits every chart the
// dashboard needs in a single response.
func (s *Server) handlePlotAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	timeData, signal, _, err := s.loadTrace(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Batch plot generation error: %v", err)
		return
	}
	wav, levels, err := s.denoiseParams(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Batch plot generation error: %v", err)
		return
	}
	denoised, dec, err := dsp.Denoise(signal, wav, levels)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Batch plot generation error: %v", err)
		return
	}
	fs := s.sampleRate(timeData)
	single := s.cfg.Downsample.SinglePoints

	plots := make(map[string]plot, 12)

	rawTr, err := s.lttbTrace(timeData, signal, single, "Raw Signal", colorPtr(colorRaw))
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Batch plot generation error: %v", err)
		return
	}
	plots["signal_raw"] = plot{
		Type:   "scatter",
		Data:   rawTr,
		Layout: plotLayout{XAxisTitle: "Time (s)", YAxisTitle: "Amplitude (V)", Title: "Raw Signal"},
	}

	denTr, err := s.lttbTrace(timeData, denoised, single, "Denoised Signal", colorPtr(colorDenoised))
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Batch plot generation error: %v", err)
		return
	}
	plots["signal_denoised"] = plot{
		Type:   "scatter",
		Data:   denTr,
		Layout: plotLayout{XAxisTitle: "Time (s)", YAxisTitle: "Amplitude (V)", Title: "Denoised Signal"},
	}

	fftLayout := plotLayout{XAxisTitle: "Frequency (Hz)", YAxisTitle: "Amplitude (V)"}
	for key, cfg := range map[string]struct {
		fftType string
		title   string
	}{
		"fft_raw":      {"raw", "FFT of Raw Signal"},
		"fft_denoised": {"denoised", "FFT of Denoised Signal"},
		"fft_approx":   {"approx", "FFT of Approx Coefficients"},
		"fft_detail":   {"detail", "FFT of Detail Coefficients"},
	} {
		traces, ferr := s.fftTraces(cfg.fftType, signal, denoised, dec, fs)
		if ferr != nil {
			s.httpError(w, http.StatusInternalServerError, "Batch plot generation error: %v", ferr)
			return
		}
		layout := fftLayout
		layout.Title = cfg.title
		plots[key] = plot{Type: "scatter", Data: traceSet{Traces: traces}, Layout: layout}
	}

	approxTr, err := s.lttbTrace(indexAxis(len(dec.Approx)), dec.Approx, single,
		"Approximation Coefficients", colorPtr(colorApprox))
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Batch plot generation error: %v", err)
		return
	}
	plots["wavelet_approx"] = plot{
		Type:   "scatter",
		Data:   traceSet{Traces: []trace{approxTr}},
		Layout: plotLayout{XAxisTitle: "Index", YAxisTitle: "Coefficient Value (V)", Title: "Wavelet Approximation Coefficients"},
	}

	var detailTraces []trace
	for i, band := range dec.Details {
		tr, derr := s.lttbTrace(indexAxis(len(band)), band, s.cfg.Downsample.MultiPoints,
			fmt.Sprintf("Detail Coefficients %d", i+1), nil)
		if derr != nil {
			s.httpError(w, http.StatusInternalServerError, "Batch plot generation error: %v", derr)
			return
		}
		detailTraces = append(detailTraces, tr)
	}
	plots["wavelet_detail"] = plot{
		Type:   "scatter",
		Data:   traceSet{Traces: detailTraces},
		Layout: plotLayout{XAxisTitle: "Index", YAxisTitle: "Coefficient Value (V)", Title: "Wavelet Detail Coefficients"},
	}

	barLayout := plotLayout{XAxisTitle: "Coefficient Type", YAxisTitle: "Correlation Coefficient"}
	approxBar := barLayout
	approxBar.Title = "Pearson CC (Approximation)"
	plots["wavelet_pearson_approx"] = plot{
		Type:   "bar",
		Data:   traceSet{Traces: []trace{pearsonApproxTrace(signal, dec)}},
		Layout: approxBar,
	}
	detailBar := barLayout
	detailBar.Title = "Pearson CC (Detail)"
	plots["wavelet_pearson_detail"] = plot{
		Type:   "bar",
		Data:   traceSet{Traces: []trace{pearsonDetailTrace(signal, dec)}},
		Layout: detailBar,
	}

	plots["spectrum_raw"] = s.spectrogramPlot(signal, "Raw", "Viridis")
	plots["spectrum_denoised"] = s.spectrogramPlot(denoised, "Denoised", "Plasma")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"plots": plots,
		"metadata": map[string]any{
			"original_points":       len(signal),
			"total_processing_time": elapsedStr(start),
			"compression_ratio":     fmt.Sprintf("%.1fx", float64(len(signal))/float64(single)),
			"plots_generated":       len(plots),
		},
	})
}
