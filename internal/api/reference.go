package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/accelbench/trainmetrics/internal/metrics"
	"github.com/accelbench/trainmetrics/internal/reference"
)

// ReferenceResponse is the whole reference table.
type ReferenceResponse struct {
	Version      string                 `json:"version"`
	Accelerators []string               `json:"accelerators"`
	PeakTFLOPS   []reference.PeakEntry  `json:"peak_tflops"`
	Models       []reference.ModelEntry `json:"models"`
}

// AcceleratorInfo lists the precisions with a known peak for one accelerator.
type AcceleratorInfo struct {
	Name       string                `json:"name"`
	Precisions []reference.Precision `json:"precisions"`
}

// EfficiencyRequest computes efficiency from inline step times.
type EfficiencyRequest struct {
	ModelName                   string    `json:"model_name"`
	AcceleratorName             string    `json:"accelerator_name"`
	Precision                   string    `json:"precision"`
	NumAccelerators             int       `json:"num_accelerators"`
	GlobalBatchSize             int       `json:"global_batch_size"`
	WarmupSteps                 int       `json:"warmup_steps"`
	StepTimesSec                []float64 `json:"step_times_s"`
	ModelFLOPsPerSampleOverride *float64  `json:"model_flops_per_sample_override,omitempty"`
	// Optional cost inputs.
	HourlyUSD     float64 `json:"hourly_usd,omitempty"`
	InstanceCount int     `json:"instance_count,omitempty"`
}

func (s *Server) handleGetReference(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ReferenceResponse{
		Version:      s.ref.Version(),
		Accelerators: s.ref.Accelerators(),
		PeakTFLOPS:   s.ref.PeakEntries(),
		Models:       s.ref.ModelEntries(),
	})
}

func (s *Server) handleListAccelerators(w http.ResponseWriter, r *http.Request) {
	names := s.ref.Accelerators()
	out := make([]AcceleratorInfo, 0, len(names))
	for _, name := range names {
		precisions := s.ref.Precisions(name)
		if precisions == nil {
			precisions = []reference.Precision{}
		}
		out = append(out, AcceleratorInfo{Name: name, Precisions: precisions})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPeak(w http.ResponseWriter, r *http.Request) {
	precision := reference.Precision(r.URL.Query().Get("precision"))
	if precision == "" {
		precision = reference.PrecisionBF16
	}
	entry, err := s.ref.PeakEntry(r.PathValue("name"), precision)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ref.ModelEntries())
}

func (s *Server) handleGetModelFLOPs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	flops, err := s.ref.ModelFLOPsPerSample(name)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reference.ModelEntry{
		Name:           strings.ToLower(strings.TrimSpace(name)),
		FLOPsPerSample: flops,
	})
}

func (s *Server) handleComputeEfficiency(w http.ResponseWriter, r *http.Request) {
	var req EfficiencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := metrics.EfficiencyInput{
		ModelName:       req.ModelName,
		AcceleratorName: req.AcceleratorName,
		Precision:       reference.Precision(req.Precision),
		NumAccelerators: req.NumAccelerators,
		GlobalBatchSize: req.GlobalBatchSize,
		WarmupSteps:     req.WarmupSteps,
		Steps:           metrics.StepsFromTimes(req.StepTimesSec),
	}
	if req.ModelFLOPsPerSampleOverride != nil {
		if *req.ModelFLOPsPerSampleOverride <= 0 {
			writeError(w, http.StatusBadRequest, "model_flops_per_sample_override must be positive")
			return
		}
		in.ModelFLOPsPerSampleOverride = *req.ModelFLOPsPerSampleOverride
	}

	m, err := metrics.ComputeEfficiency(s.ref, in)
	if err != nil {
		writeEfficiencyError(w, err)
		return
	}
	m.CostPerMillionSamplesUSD = metrics.CostPerMillionSamples(req.HourlyUSD, max(req.InstanceCount, 1), m.SamplesPerSecond)
	writeJSON(w, http.StatusOK, m)
}

func writeEfficiencyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, metrics.ErrInvalidInput), errors.Is(err, metrics.ErrNoSteps):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeLookupError(w, err)
	}
}
