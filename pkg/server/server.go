// Package server exposes the analysis engine over HTTP. Requests carry either
// a multipart file upload or a file_id referencing a previously cached upload;
// responses are JSON traces sized for client-side charting.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sibilytics/featurex/pkg/ann"
	"github.com/sibilytics/featurex/pkg/cache"
	"github.com/sibilytics/featurex/pkg/config"
	"github.com/sibilytics/featurex/pkg/metrics"
)

type Server struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *cache.Store
	models  *ann.Registry
	metrics *metrics.Collector
}

func New(cfg *config.Config, log *logrus.Logger) (*Server, error) {
	store, err := cache.New(cfg.Storage.CacheDir)
	if err != nil {
		return nil, err
	}
	models, err := ann.NewRegistry(cfg.Storage.ModelDir)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		store:   store,
		models:  models,
		metrics: metrics.NewCollector(),
	}, nil
}

func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.log.WithField("addr", s.cfg.Server.ListenAddr).Info("listening")
	return srv.ListenAndServe()
}

// Routes builds the full handler tree with logging, latency metrics and CORS
// applied to every route.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/upload-with-progress", s.handleUploadWithProgress)
	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("POST /api/process-raw", s.handleProcessRaw)
	mux.HandleFunc("POST /api/download-stats", s.handleDownloadStats)
	mux.HandleFunc("POST /api/download-all-stats", s.handleDownloadAllStats)

	mux.HandleFunc("POST /api/plot/signal", s.handlePlotSignal)
	mux.HandleFunc("POST /api/plot/fft", s.handlePlotFFT)
	mux.HandleFunc("POST /api/plot/wavelet", s.handlePlotWavelet)
	mux.HandleFunc("POST /api/plot/spectrum", s.handlePlotSpectrum)
	mux.HandleFunc("POST /api/plot/all", s.handlePlotAll)
	mux.HandleFunc("POST /api/plots/batch", s.handlePlotAll)

	mux.HandleFunc("POST /api/regression/linear", s.handleRegressionLinear)
	mux.HandleFunc("POST /api/regression/polynomial", s.handleRegressionPolynomial)
	mux.HandleFunc("POST /api/regression/logistic", s.handleRegressionLogistic)
	mux.HandleFunc("POST /api/regression/curve-fit", s.handleRegressionCurveFit)

	mux.HandleFunc("POST /api/ann/upload-dataset", s.handleANNUpload)
	mux.HandleFunc("POST /api/ann/train", s.handleANNTrain)
	mux.HandleFunc("POST /api/ann/predict", s.handleANNPredict)
	mux.HandleFunc("POST /api/ann/inverse-solve", s.handleANNInverseSolve)
	mux.HandleFunc("GET /api/ann/models", s.handleANNModels)
	mux.HandleFunc("GET /api/ann/evaluate/{id}", s.handleANNEvaluate)

	return s.withCORS(s.withObservability(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Feature Extraction API",
		"status":  "healthy",
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// statusRecorder captures the response code for the log line and the
// per-route histogram.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.Method + " " + r.URL.Path
		s.metrics.Observe(route, elapsed, rec.status >= 400)
		s.log.WithFields(logrus.Fields{
			"request_id": reqID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"elapsed":    elapsed.String(),
		}).Info("request")
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	allowed := s.cfg.Server.CORSOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// number marshals NaN and Inf as null instead of failing the whole response,
// matching what the service has always sent for non-finite samples.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func numbers(xs []float64) []number {
	out := make([]number, len(xs))
	for i, v := range xs {
		out[i] = number(v)
	}
	return out
}

func numberGrid(rows [][]float64) [][]number {
	out := make([][]number, len(rows))
	for i, row := range rows {
		out[i] = numbers(row)
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("encode response")
		http.Error(w, `{"detail":"response encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// httpError sends the {"detail": ...} error body existing clients parse.
func (s *Server) httpError(w http.ResponseWriter, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.writeJSON(w, status, map[string]string{"detail": msg})
}

// badRequestStatus classifies input-resolution failures: a missing cached
// file is 404, anything else about the request is 400.
func badRequestStatus(err error) int {
	if errors.Is(err, cache.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// payload resolves the request's file bytes: a cached file when file_id is
// set, otherwise the multipart "file" part. The returned name is the original
// upload filename.
func (s *Server) payload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(s.cfg.Storage.MaxUploadMB << 20); err != nil {
		return nil, "", fmt.Errorf("parse form: %w", err)
	}
	if id := r.FormValue("file_id"); id != "" {
		contents, err := s.store.Get(id)
		if err != nil {
			return nil, "", err
		}
		return contents, cache.OriginalFilename(id), nil
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("either 'file' or 'file_id' must be provided")
	}
	defer f.Close()
	contents, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	return contents, hdr.Filename, nil
}

func formInt(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func formFloat(r *http.Request, key string, def float64) (float64, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

// splitList parses a comma-separated form value into trimmed names.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
