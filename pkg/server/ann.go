package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sibilytics/featurex/pkg/ann"
	"github.com/sibilytics/featurex/pkg/cache"
	"github.com/sibilytics/featurex/pkg/dataset"
)

func (s *Server) handleANNUpload(w http.ResponseWriter, r *http.Request) {
	contents, filename, err := s.payload(r)
	if err != nil {
		s.httpError(w, badRequestStatus(err), "Error parsing file: %v", err)
		return
	}
	t, err := dataset.Parse(contents, filename)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Error parsing file: %v", err)
		return
	}

	id, err := s.store.Put(contents, filename)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Cache write failed: %v", err)
		return
	}
	if merr := s.store.PutMetadata(id, metadataFor(t, filename)); merr != nil {
		s.log.WithError(merr).Warn("metadata write failed")
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"file_id":      id,
		"filename":     filename,
		"columns":      t.Columns,
		"rows":         t.NumRows(),
		"sample_data":  sampleRows(t, 5),
		"column_stats": t.Stats(),
		"has_header":   t.HasHeader,
		"status":       "success",
	})
}

// sampleRows returns the first n data rows keyed by column name, with cells
// coerced to numbers where they parse.
func sampleRows(t *dataset.Table, n int) []map[string]any {
	if n > t.NumRows() {
		n = t.NumRows()
	}
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		row := make(map[string]any, t.NumCols())
		for j, col := range t.Columns {
			cell := strings.TrimSpace(t.Rows[i][j])
			if v, err := strconv.ParseFloat(cell, 64); err == nil {
				row[col] = number(v)
			} else {
				row[col] = cell
			}
		}
		out[i] = row
	}
	return out
}

func (s *Server) handleANNTrain(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := r.ParseMultipartForm(s.cfg.Storage.MaxUploadMB << 20); err != nil {
		s.httpError(w, http.StatusBadRequest, "Training error: %v", err)
		return
	}

	fileID := r.FormValue("file_id")
	if fileID == "" {
		s.httpError(w, http.StatusBadRequest, "Training error: file_id is required")
		return
	}
	contents, err := s.store.Get(fileID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			s.httpError(w, http.StatusNotFound, "Cached file not found: %s", fileID)
			return
		}
		s.httpError(w, http.StatusInternalServerError, "Training error: %v", err)
		return
	}
	t, err := dataset.Parse(contents, cache.OriginalFilename(fileID))
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Training error: %v", err)
		return
	}

	featureCols := splitList(r.FormValue("feature_columns"))
	target := strings.TrimSpace(r.FormValue("target_column"))
	if len(featureCols) == 0 || target == "" {
		s.httpError(w, http.StatusBadRequest, "Training error: feature_columns and target_column are required")
		return
	}

	cfg, err := s.trainConfig(r)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Training error: %v", err)
		return
	}

	x, err := t.Matrix(featureCols)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Training error: %v", err)
		return
	}
	y, err := t.FloatColumnByName(target)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Training error: %v", err)
		return
	}
	x, y = dropBadTrainingRows(x, y)

	model, err := ann.Train(x, y, featureCols, target, cfg)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Training error: %v", err)
		return
	}
	id := ann.ModelID(fileID)
	if err := s.models.Save(id, model); err != nil {
		s.httpError(w, http.StatusInternalServerError, "Training error: %v", err)
		return
	}

	epochs := make([]int, len(model.History.TrainLoss))
	for i := range epochs {
		epochs[i] = i
	}
	s.log.WithFields(logrus.Fields{
		"model_id": id,
		"r2":       model.Metrics.R2,
		"elapsed":  time.Since(start).String(),
	}).Info("model trained")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"model_id": id,
		"metrics":  model.Metrics,
		"training_history": map[string]any{
			"epochs":     epochs,
			"train_loss": numbers(model.History.TrainLoss),
			"val_loss":   numbers(model.History.ValLoss),
		},
		"feature_columns": featureCols,
		"target_column":   target,
		"training_time":   fmt.Sprintf("%.2fs", time.Since(start).Seconds()),
		"status":          "success",
	})
}

// trainConfig reads the training form fields, deferring to the configured
// training defaults for anything unset.
func (s *Server) trainConfig(r *http.Request) (ann.Config, error) {
	var cfg ann.Config
	var err error

	defaults := s.cfg.Training
	if cfg.Epochs, err = formInt(r, "epochs", defaults.Epochs); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = formInt(r, "batch_size", defaults.BatchSize); err != nil {
		return cfg, err
	}
	if cfg.TestSize, err = formFloat(r, "test_size", defaults.TestSize); err != nil {
		return cfg, err
	}
	if cfg.ValidationSplit, err = formFloat(r, "validation_split", defaults.ValidationSplit); err != nil {
		return cfg, err
	}
	cfg.Activation = r.FormValue("activation")

	if opt := r.FormValue("optimizer"); opt != "" && opt != "adam" {
		return cfg, fmt.Errorf("unsupported optimizer: %q", opt)
	}
	if arch := r.FormValue("architecture"); arch != "" {
		for _, part := range splitList(arch) {
			n, perr := strconv.Atoi(part)
			if perr != nil || n <= 0 {
				return cfg, fmt.Errorf("invalid architecture: %q", arch)
			}
			cfg.Architecture = append(cfg.Architecture, n)
		}
	}
	return cfg, nil
}

func dropBadTrainingRows(x [][]float64, y []float64) ([][]float64, []float64) {
	xOut := x[:0]
	yOut := y[:0]
	for i := range x {
		if rowHasNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xOut = append(xOut, x[i])
		yOut = append(yOut, y[i])
	}
	return xOut, yOut
}

func (s *Server) loadModel(w http.ResponseWriter, id string) (*ann.Model, bool) {
	m, err := s.models.Get(id)
	if err != nil {
		if errors.Is(err, ann.ErrModelNotFound) {
			s.httpError(w, http.StatusNotFound, "Model not found")
		} else {
			s.httpError(w, http.StatusInternalServerError, "Model load error: %v", err)
		}
		return nil, false
	}
	return m, true
}

func (s *Server) handleANNPredict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.Storage.MaxUploadMB << 20); err != nil {
		s.httpError(w, http.StatusBadRequest, "Prediction error: %v", err)
		return
	}
	m, ok := s.loadModel(w, r.FormValue("model_id"))
	if !ok {
		return
	}

	var inputs map[string]float64
	if err := json.Unmarshal([]byte(r.FormValue("input_values")), &inputs); err != nil {
		s.httpError(w, http.StatusBadRequest, "Prediction error: invalid input_values: %v", err)
		return
	}
	row := make([]float64, len(m.FeatureNames))
	for i, name := range m.FeatureNames {
		v, present := inputs[name]
		if !present {
			s.httpError(w, http.StatusBadRequest, "Prediction error: missing input %q", name)
			return
		}
		row[i] = v
	}

	preds, err := m.Predict([][]float64{row})
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Prediction error: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"prediction":   number(preds[0]),
		"input_values": inputs,
		"target_name":  m.TargetName,
		"status":       "success",
	})
}

func (s *Server) handleANNInverseSolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := r.ParseMultipartForm(s.cfg.Storage.MaxUploadMB << 20); err != nil {
		s.httpError(w, http.StatusBadRequest, "Inverse optimization error: %v", err)
		return
	}
	m, ok := s.loadModel(w, r.FormValue("model_id"))
	if !ok {
		return
	}

	desired, err := formFloat(r, "desired_output", 0)
	if err != nil || r.FormValue("desired_output") == "" {
		s.httpError(w, http.StatusBadRequest, "Inverse optimization error: desired_output is required")
		return
	}
	steps, err := formInt(r, "steps", 200)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Inverse optimization error: %v", err)
		return
	}
	lr, err := formFloat(r, "learning_rate", 0.1)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, "Inverse optimization error: %v", err)
		return
	}

	res := m.InverseSolve(desired, steps, lr)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"desired_output":       res.DesiredOutput,
		"predicted_output":     number(res.PredictedOutput),
		"error":                number(res.Error),
		"final_loss":           number(res.FinalLoss),
		"found_inputs":         res.FoundInputs,
		"optimization_history": res.History,
		"optimization_time":    fmt.Sprintf("%.2fs", time.Since(start).Seconds()),
		"status":               "success",
	})
}

func (s *Server) handleANNModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.List()
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, "Model listing error: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
		"status": "success",
	})
}

func (s *Server) handleANNEvaluate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadModel(w, r.PathValue("id"))
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"model_id":      m.ID,
		"feature_names": m.FeatureNames,
		"target_name":   m.TargetName,
		"architecture":  m.Config.Architecture,
		"metrics":       m.Metrics,
		"created_at":    m.CreatedAt,
		"status":        "success",
	})
}
