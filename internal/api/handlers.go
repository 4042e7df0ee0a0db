package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/accelbench/trainmetrics/internal/collector"
	"github.com/accelbench/trainmetrics/internal/database"
	"github.com/accelbench/trainmetrics/internal/reference"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Server holds dependencies for API handlers.
type Server struct {
	repo      database.Repo
	ref       *reference.Table
	collector *collector.Collector
}

// NewServer creates a new API server.
func NewServer(repo database.Repo, ref *reference.Table, coll *collector.Collector) *Server {
	return &Server{
		repo:      repo,
		ref:       ref,
		collector: coll,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/reference", s.handleGetReference)
	mux.HandleFunc("GET /api/v1/accelerators", s.handleListAccelerators)
	mux.HandleFunc("GET /api/v1/accelerators/{name}/peak", s.handleGetPeak)
	mux.HandleFunc("GET /api/v1/models", s.handleListModels)
	mux.HandleFunc("GET /api/v1/models/{name}/flops", s.handleGetModelFLOPs)
	mux.HandleFunc("POST /api/v1/efficiency", s.handleComputeEfficiency)
	mux.HandleFunc("POST /api/v1/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/efficiency", s.handleGetEfficiency)
	mux.HandleFunc("GET /api/v1/leaderboard", s.handleLeaderboard)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req database.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateRunRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()

	// Reject runs whose efficiency could never be computed.
	if _, err := s.ref.PeakTFLOPS(req.AcceleratorName, reference.Precision(req.Precision)); err != nil {
		writeLookupError(w, err)
		return
	}
	if req.ModelFLOPsPerSampleOverride == nil {
		if _, err := s.ref.ModelFLOPsPerSample(req.ModelName); err != nil {
			writeLookupError(w, err)
			return
		}
	}

	var instType *database.InstanceType
	if req.InstanceTypeName != "" {
		var err error
		instType, err = s.repo.GetInstanceTypeByName(ctx, req.InstanceTypeName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup instance type failed")
			return
		}
		if instType == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("instance type %s not found", req.InstanceTypeName))
			return
		}
	}

	run := &database.TrainingRun{
		ModelName:                   strings.ToLower(strings.TrimSpace(req.ModelName)),
		AcceleratorName:             strings.ToLower(strings.TrimSpace(req.AcceleratorName)),
		Precision:                   strings.ToLower(strings.TrimSpace(req.Precision)),
		NumAccelerators:             req.NumAccelerators,
		GlobalBatchSize:             req.GlobalBatchSize,
		WarmupSteps:                 req.WarmupSteps,
		ModelFLOPsPerSampleOverride: req.ModelFLOPsPerSampleOverride,
		InstanceCount:               req.InstanceCount,
		Namespace:                   req.Namespace,
		JobName:                     req.JobName,
		Container:                   req.Container,
		ReferenceVersion:            s.ref.Version(),
		Status:                      database.StatusPending,
	}
	if instType != nil {
		run.InstanceTypeID = &instType.ID
	}

	runID, err := s.repo.CreateTrainingRun(ctx, run)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}
	run.ID = runID

	// Collect in the background; the request context ends with this response.
	bg := context.WithoutCancel(ctx)
	runCopy := *run
	go func() {
		cfg := collector.RunConfig{Run: &runCopy, InstanceType: instType}
		if err := s.collector.Execute(bg, cfg); err != nil {
			klog.ErrorS(err, "training run collection failed", "run", runID)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     runID,
		"status": database.StatusPending,
	})
}

// validateRunRequest normalizes defaults and returns a message for the
// first invalid field, or "".
func validateRunRequest(req *database.RunRequest) string {
	if req.Precision == "" {
		req.Precision = string(reference.PrecisionBF16)
	}
	if req.InstanceCount == 0 && req.InstanceTypeName != "" {
		req.InstanceCount = 1
	}
	switch {
	case strings.TrimSpace(req.ModelName) == "":
		return "model_name is required"
	case strings.TrimSpace(req.AcceleratorName) == "":
		return "accelerator_name is required"
	case req.Namespace == "":
		return "namespace is required"
	case req.JobName == "":
		return "job_name is required"
	case req.NumAccelerators <= 0:
		return "num_accelerators must be positive"
	case req.GlobalBatchSize <= 0:
		return "global_batch_size must be positive"
	case req.WarmupSteps < 0:
		return "warmup_steps must not be negative"
	case req.InstanceCount < 0:
		return "instance_count must not be negative"
	case req.ModelFLOPsPerSampleOverride != nil && *req.ModelFLOPsPerSampleOverride <= 0:
		return "model_flops_per_sample_override must be positive"
	}
	return ""
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.RunFilter{
		Status:    q.Get("status"),
		ModelName: q.Get("model"),
	}
	if v := q.Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &f.Limit)
	}
	if v := q.Get("offset"); v != "" {
		fmt.Sscanf(v, "%d", &f.Offset)
	}

	items, err := s.repo.ListRuns(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if items == nil {
		items = []database.RunListItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := s.repo.GetTrainingRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	run, err := s.repo.GetTrainingRun(ctx, runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	if s.collector.CancelRun(runID) {
		klog.InfoS("cancelled collection of deleted run", "run", runID)
	}
	if err := s.repo.DeleteRun(ctx, runID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete run failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEfficiency(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	m, err := s.repo.GetEfficiencyByRunID(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "efficiency metrics not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.LeaderboardFilter{
		ModelName:       q.Get("model"),
		AcceleratorName: q.Get("accelerator"),
		Precision:       q.Get("precision"),
		SortBy:          q.Get("sort"),
		SortDesc:        q.Get("order") == "desc",
	}
	if v := q.Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &f.Limit)
	}
	if v := q.Get("offset"); v != "" {
		fmt.Sscanf(v, "%d", &f.Offset)
	}

	entries, err := s.repo.ListLeaderboard(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "leaderboard query failed")
		return
	}
	if entries == nil {
		entries = []database.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseRunID validates the {id} path value, writing a 400 when malformed.
func parseRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return "", false
	}
	return id.String(), true
}

// writeLookupError maps reference lookup failures to 404 and anything else to 500.
func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, reference.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
